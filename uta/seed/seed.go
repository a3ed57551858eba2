// Package seed manages the master seed of a batch and derives per-scenario
// seeds from it so runs are reproducible.
package seed

import (
	"crypto/md5"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	mrand "math/rand/v2"
	"sync"

	"github.com/ZanzyTHEbar/tester-agent/uta/errs"
)

// Record is a snapshot of the seeds used in a batch.
type Record struct {
	Master  int64            `json:"master"`
	Derived map[string]int64 `json:"derived"`
}

// Manager owns the master seed. A Manager is shared by every orchestrator in a
// batch; Derive is safe for concurrent use.
type Manager struct {
	mu          sync.Mutex
	master      int64
	initialized bool
	derived     map[string]int64
}

// NewManager returns an uninitialised Manager.
func NewManager() *Manager {
	return &Manager{derived: make(map[string]int64)}
}

// Initialize fixes the master seed. A nil master draws 32 bits of entropy.
// Re-initialising with a different explicit value is a ConfigError; call Reset
// first to start a new batch.
func (m *Manager) Initialize(master *int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initialized {
		if master != nil && *master != m.master {
			return m.master, errs.NewConfigError("seed.master",
				"already initialised with %d, refusing %d", m.master, *master)
		}
		return m.master, nil
	}

	if master != nil {
		m.master = *master
	} else {
		var buf [4]byte
		if _, err := rand.Read(buf[:]); err != nil {
			return 0, fmt.Errorf("failed to read entropy: %w", err)
		}
		m.master = int64(binary.BigEndian.Uint32(buf[:]))
	}
	m.initialized = true
	return m.master, nil
}

// Reset clears the master seed and every derived seed.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.master = 0
	m.initialized = false
	m.derived = make(map[string]int64)
}

// Master returns the master seed and whether it has been set.
func (m *Manager) Master() (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.master, m.initialized
}

// Derive returns the scenario seed. It is a pure function of the master seed
// and the scenario id; the result is recorded for reporting.
func (m *Manager) Derive(scenarioID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return 0, errs.NewConfigError("seed.master", "derive called before initialize")
	}
	s := Hash(m.master, scenarioID)
	m.derived[scenarioID] = s
	return s, nil
}

// Rand returns a generator seeded for scenarioID.
func (m *Manager) Rand(scenarioID string) (*mrand.Rand, error) {
	s, err := m.Derive(scenarioID)
	if err != nil {
		return nil, err
	}
	return NewRand(s), nil
}

// Record returns a copy of the seeds handed out so far.
func (m *Manager) Record() Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	derived := make(map[string]int64, len(m.derived))
	for k, v := range m.derived {
		derived[k] = v
	}
	return Record{Master: m.master, Derived: derived}
}

// Hash maps (master, scenarioID) to a 32-bit seed: the first four bytes of
// md5("<master>_<scenarioID>") read big-endian.
func Hash(master int64, scenarioID string) int64 {
	sum := md5.Sum([]byte(fmt.Sprintf("%d_%s", master, scenarioID)))
	return int64(binary.BigEndian.Uint32(sum[:4]))
}

// NewRand returns a PCG generator for seed.
func NewRand(seed int64) *mrand.Rand {
	return mrand.New(mrand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15))
}
