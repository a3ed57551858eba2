package strategy

// Trigger phrases, matched against normalised agent text in the order listed.
var (
	clarificationTriggers = []string{
		"can you clarify", "could you clarify", "what do you mean", "please specify",
		"which one", "what would you like", "i don't understand", "i do not understand",
	}
	inputTriggers = []string{
		"please provide", "i need", "enter", "input", "fill in",
	}
	toolInputTriggers = []string{
		"please provide", "i need", "enter", "input", "fill in",
		"what is your", "can you tell me", "specify",
	}
	confirmationTriggers = []string{
		"confirm", "proceed", "continue", "okay", "yes",
	}
	errorTriggers = []string{
		"error", "failed", "unable to", "cannot", "invalid",
		"not found", "permission denied", "timeout",
	}
	retryTriggers = []string{
		"try again", "retry", "please try", "attempt again",
		"would you like to", "shall we try",
	}
)

// Openers used when a scenario has no initial message.
var (
	goalOpeners = []string{
		"Hi, I'd like to %s.",
		"Hello, I need help: %s.",
		"Hi there. I want to %s.",
	}
	genericOpeners = []string{
		"Hi, I need some help with my account.",
		"Hello, can you help me with something?",
	}
)

// Goal-derived replies keyed by the first topic found in the user goal.
var (
	flowClarifications = map[string]string{
		"account": "I want to check my account balance and recent transactions.",
		"payment": "I want to make a payment of $100.",
		"support": "I have a technical issue with the mobile app.",
	}
	flowInputs = map[string]string{
		"payment": "My payment amount is $100 and I want to use my credit card.",
		"account": "My account number is 123456789.",
	}
	toolInputs = map[string]string{
		"create account":       "My name is John Doe, email is john@example.com, and I want a basic checking account.",
		"make payment":         "I want to pay $100 using my credit card ending in 1234.",
		"schedule appointment": "I need an appointment next Tuesday at 2 PM.",
	}
	recoveryInputs = map[string]string{
		"create account":       "Let me try with a different email: jane.doe@example.com",
		"make payment":         "Can I try with a different payment method? I have a debit card.",
		"schedule appointment": "How about next Wednesday at 3 PM instead?",
	}
	retryInputs = map[string]string{
		"create account":       "Yes, let me try again with: John Smith, john.smith@email.com, 555-0199",
		"make payment":         "Sure, let me try: $50 payment using my bank account ending in 5678",
		"schedule appointment": "Yes, let me try: Friday at 10 AM",
	}
	errorClarifications = map[string]string{
		"create account":       "I want to create a personal checking account with no monthly fees.",
		"make payment":         "I want to make a payment of $75 to my credit card balance.",
		"schedule appointment": "I need to schedule a 30-minute consultation appointment.",
	}
)

// Topic search order for the maps above.
var (
	flowTopics = []string{"account", "payment", "support"}
	toolTopics = []string{"create account", "make payment", "schedule appointment"}
)

// Fallback phrasings sampled with the conversation's seeded generator.
var (
	clarificationFallbacks = []string{
		"I need help with my account.",
		"Sorry, let me be clearer: I need help with my account.",
	}
	inputFallbacks = []string{
		"Here is the information you requested.",
		"Sure, here are the details you asked for.",
	}
	toolInputFallbacks = []string{
		"Here is the information you requested: John Doe, john@example.com, 555-0123.",
		"Sure: John Doe, john@example.com, phone 555-0123.",
	}
	recoveryFallbacks = []string{
		"Let me try a different approach. Can you help me with an alternative?",
		"That didn't work. Is there another way to do this?",
	}
	retryFallbacks = []string{
		"Yes, let me try again with the correct information.",
		"Okay, trying again with corrected details.",
	}
	errorClarificationFallbacks = []string{
		"I need help with the specific task we were working on.",
		"I mean the task we were just working on before the error.",
	}
	memoryFallbacks = []string{
		"Can you remind me what we were just talking about?",
		"What did I tell you at the start of this conversation?",
	}
)
