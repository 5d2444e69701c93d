package auth

import "errors"

// Authentication error taxonomy.
// Missing/invalid keys map to 401 without confirming key existence.
// Revoked keys map to 403 (confirms key exists but is blocked).
// Database faults map to 503 so clients retry instead of re-prompting.
var (
	ErrMissingKey       = errors.New("API key required in x-api-key header")
	ErrInvalidKeyFormat = errors.New("invalid API key format")
	ErrUnknownKey       = errors.New("unknown secret ID")
	ErrInvalidKey       = errors.New("invalid API key")
	ErrKeyRevoked       = errors.New("API key has been revoked")
)
