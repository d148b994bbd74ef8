package policy

import "testing"

func TestIsSecretEnvKey(t *testing.T) {
	cases := map[string]bool{
		"OPENVOICY_API_KEY":     true,
		"AWS_SECRET_ACCESS_KEY": true,
		"DB_PASSWORD":           true,
		"AUTH_TOKEN":            true,
		"openvoicy_api_key":     true,
		"OPENVOICY_LOG_LEVEL":   false,
		"OPENVOICY_DEV_ROOT":    false,
	}
	for key, want := range cases {
		if got := IsSecretEnvKey(key); got != want {
			t.Errorf("IsSecretEnvKey(%q) = %v, want %v", key, got, want)
		}
	}
}

func TestRedactEnvValue(t *testing.T) {
	if got := RedactEnvValue("OPENVOICY_API_KEY", "super-secret"); got != "[REDACTED]" {
		t.Fatalf("RedactEnvValue secret = %q, want [REDACTED]", got)
	}
	if got := RedactEnvValue("OPENVOICY_LOG_LEVEL", "debug"); got != "debug" {
		t.Fatalf("RedactEnvValue plain = %q, want debug", got)
	}
}

func TestRedactedEnvironMasksSecretKeys(t *testing.T) {
	t.Setenv("OPENVOICY_TEST_API_KEY", "super-secret")
	t.Setenv("OPENVOICY_TEST_PLAIN", "not-secret")

	redacted := RedactedEnviron()
	if redacted["OPENVOICY_TEST_API_KEY"] != "[REDACTED]" {
		t.Fatalf("expected API key to be redacted, got %q", redacted["OPENVOICY_TEST_API_KEY"])
	}
	if redacted["OPENVOICY_TEST_PLAIN"] != "not-secret" {
		t.Fatalf("expected plain value untouched, got %q", redacted["OPENVOICY_TEST_PLAIN"])
	}
}
