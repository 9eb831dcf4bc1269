package types

const redactedPlaceholder = "***REDACTED***"

var redactedJSON = []byte(`"***REDACTED***"`)

// SecretString keeps credentials such as DATABASE_URL out of logs and JSON
// config dumps. Unmask returns the raw value for the pgx pool.
type SecretString string

func (s SecretString) String() string {
	return redactedPlaceholder
}

func (s SecretString) GoString() string {
	return redactedPlaceholder
}

func (s SecretString) MarshalJSON() ([]byte, error) {
	return redactedJSON, nil
}

// Unmask returns the raw plaintext value.
func (s SecretString) Unmask() string {
	return string(s)
}
