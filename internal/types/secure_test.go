package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
)

const testSecret = "postgres://wps:hunter2@db:5432/wps"

func TestSecretString_Redacted(t *testing.T) {
	s := SecretString(testSecret)

	for name, got := range map[string]string{
		"String":   s.String(),
		"Sprintf":  fmt.Sprintf("%s", s),
		"SprintfV": fmt.Sprintf("%v", s),
		"GoString": fmt.Sprintf("%#v", s),
	} {
		if strings.Contains(got, "hunter2") {
			t.Errorf("%s leaked the secret: %q", name, got)
		}
	}
}

func TestSecretString_MarshalJSON(t *testing.T) {
	out, err := json.Marshal(struct {
		URL SecretString `json:"url"`
	}{URL: SecretString(testSecret)})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(out) != `{"url":"***REDACTED***"}` {
		t.Errorf("unexpected JSON: %s", out)
	}
}

func TestSecretString_Unmask(t *testing.T) {
	if got := SecretString(testSecret).Unmask(); got != testSecret {
		t.Errorf("Unmask() = %q, want %q", got, testSecret)
	}
}
