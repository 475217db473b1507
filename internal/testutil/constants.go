package testutil

// Key material for tests only. TestSessionKey is 32 bytes, the secretbox key
// size; TestSessionKeyHex is the same key as configured via VEIL_SESSIONS_KEY.
const (
	TestSessionKey    = "12345678901234567890123456789012"
	TestSessionKeyHex = "3132333435363738393031323334353637383930313233343536373839303132"
	TestSigningKey    = "test-signing-key-0123456789abcdef"
)
