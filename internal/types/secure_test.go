package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"testing"
)

const testSecret = "postgres://relay:hunter2@db:5432/bus"

func TestSecretString_Formatting(t *testing.T) {
	s := SecretString(testSecret)

	for _, verb := range []string{"%s", "%v", "%+v", "%#v"} {
		got := fmt.Sprintf(verb, s)
		if strings.Contains(got, "hunter2") {
			t.Errorf("fmt.Sprintf(%s) leaked the secret: %s", verb, got)
		}
	}
}

func TestSecretString_MarshalJSON_InStruct(t *testing.T) {
	payload := struct {
		URL SecretString `json:"url"`
	}{URL: SecretString(testSecret)}

	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("json.Marshal returned error: %v", err)
	}
	if string(data) != `{"url":"***REDACTED***"}` {
		t.Errorf("json = %s", data)
	}
}

func TestSecretString_Slog(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	logger.Info("connecting", "url", SecretString(testSecret))

	if strings.Contains(buf.String(), "hunter2") {
		t.Errorf("slog leaked the secret: %s", buf.String())
	}
}

func TestSecretString_Unmask(t *testing.T) {
	s := SecretString(testSecret)
	if s.Unmask() != testSecret {
		t.Errorf("Unmask() = %q", s.Unmask())
	}
	if s.IsZero() || !SecretString("").IsZero() {
		t.Error("IsZero() reports the wrong value")
	}
}
