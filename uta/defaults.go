// Package uta holds process-wide defaults shared by the tester-agent packages.
package uta

import (
	"os"
	"path/filepath"
)

const (
	DefaultAppName       = "uta"
	DefaultEnvPrefix     = "UTA"
	DefaultDatabaseType  = "libsql"
	DefaultDatabaseName  = "results.db"
	DefaultMetricsPrefix = "uta"
)

var (
	DefaultConfigPath  = filepath.Join(userConfigDir(), DefaultAppName)
	DefaultDatabaseDir = filepath.Join(userCacheDir(), DefaultAppName)
	DefaultDatabaseDSN = filepath.Join(DefaultDatabaseDir, DefaultDatabaseName)
)

func userConfigDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return dir
	}
	return "."
}

func userCacheDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return dir
	}
	return os.TempDir()
}
