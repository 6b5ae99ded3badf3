package config

import "testing"

func TestGetEnvBool_AcceptsExplicitTokens(t *testing.T) {
	cases := map[string]bool{
		"true": true, "1": true, "TRUE": true,
		"false": false, "0": false, "FALSE": false,
	}

	for in, want := range cases {
		t.Setenv("TEST_BOOL", in)
		got, err := getEnvBool("TEST_BOOL", !want)
		if err != nil {
			t.Fatalf("getEnvBool(%q) unexpected error: %v", in, err)
		}
		if got != want {
			t.Fatalf("getEnvBool(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestGetEnvBool_RejectsAmbiguousValues(t *testing.T) {
	// The source bug this guards against: a naive coercion treats any
	// non-empty string (including the literal word "false") as truthy.
	t.Setenv("TEST_BOOL", "yes")
	if _, err := getEnvBool("TEST_BOOL", false); err == nil {
		t.Fatalf("expected an error for an unrecognized boolean token")
	}
}

func TestGetEnvBool_FallsBackWhenUnset(t *testing.T) {
	t.Setenv("TEST_BOOL_UNSET", "")
	got, err := getEnvBool("TEST_BOOL_UNSET", true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got {
		t.Fatalf("expected fallback true, got %v", got)
	}
}

func TestGetEnvInt_InvalidValue(t *testing.T) {
	t.Setenv("TEST_INT", "not-a-number")
	if _, err := getEnvInt("TEST_INT", 5); err == nil {
		t.Fatalf("expected error for non-numeric value")
	}
}
