package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedactMasksSensitiveKeys(t *testing.T) {
	got := redact(map[string]interface{}{
		"name":         "Pump A",
		"password":     "hunter2",
		"PasswordHash": "bcrypt$...",
		"apiKey":       "sk-123",
		"API_KEY":      "sk-456",
		"authToken":    "jwt",
		"status":       "active",
	})

	assert.Equal(t, "Pump A", got["name"])
	assert.Equal(t, "active", got["status"])
	for _, key := range []string{"password", "PasswordHash", "apiKey", "API_KEY", "authToken"} {
		assert.Equal(t, "[REDACTED]", got[key], "key %s", key)
	}
}

func TestRedactPassesEmptyThrough(t *testing.T) {
	assert.Nil(t, redact(nil))
	assert.Empty(t, redact(map[string]interface{}{}))
}

func TestIsSecretMatchesSubstrings(t *testing.T) {
	assert.True(t, isSecret("signingKey_secret"))
	assert.True(t, isSecret("credentials"))
	assert.False(t, isSecret("description"))
	assert.False(t, isSecret("keyboard"))
}
