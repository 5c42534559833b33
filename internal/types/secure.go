package types

const redactedPlaceholder = "***REDACTED***"

var redactedJSON = []byte(`"` + redactedPlaceholder + `"`)

// SecretString holds credentials (OAuth client secret, video backend password,
// admin API key, Expo access token). Printing it or encoding it as JSON
// yields a placeholder, so a config dump or a log line never carries the value.
type SecretString string

// String returns the placeholder instead of the value.
func (s SecretString) String() string {
	return redactedPlaceholder
}

// MarshalJSON encodes the placeholder instead of the value.
func (s SecretString) MarshalJSON() ([]byte, error) {
	return redactedJSON, nil
}

// Unmask returns the plaintext. Call it only where the raw value is sent on
// the wire (token request form, Authorization header, admin key comparison).
func (s SecretString) Unmask() string {
	return string(s)
}

// IsEmpty reports whether no value was configured.
func (s SecretString) IsEmpty() bool {
	return s == ""
}
