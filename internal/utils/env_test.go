package utils

import "testing"

func TestGetEnv(t *testing.T) {
	t.Setenv("TEST_STRING_VAR", "value")
	if got := GetEnv("TEST_STRING_VAR", "default", nil); got != "value" {
		t.Fatalf("GetEnv = %q, want value", got)
	}
	if got := GetEnv("TEST_STRING_VAR_MISSING", "default", nil); got != "default" {
		t.Fatalf("GetEnv default = %q, want default", got)
	}
}

func TestGetEnvAsInt(t *testing.T) {
	t.Setenv("TEST_INT_VAR", "42")
	if got := GetEnvAsInt("TEST_INT_VAR", 7, nil); got != 42 {
		t.Fatalf("GetEnvAsInt = %d, want 42", got)
	}
	t.Setenv("TEST_INT_VAR_BAD", "not-a-number")
	if got := GetEnvAsInt("TEST_INT_VAR_BAD", 7, nil); got != 7 {
		t.Fatalf("GetEnvAsInt bad value = %d, want default 7", got)
	}
	if got := GetEnvAsInt("TEST_INT_VAR_MISSING", 7, nil); got != 7 {
		t.Fatalf("GetEnvAsInt missing = %d, want default 7", got)
	}
}

func TestGetEnvAsInt64(t *testing.T) {
	t.Setenv("TEST_INT64_VAR", "9000000000")
	if got := GetEnvAsInt64("TEST_INT64_VAR", 1, nil); got != 9000000000 {
		t.Fatalf("GetEnvAsInt64 = %d, want 9000000000", got)
	}
	if got := GetEnvAsInt64("TEST_INT64_VAR_MISSING", 5, nil); got != 5 {
		t.Fatalf("GetEnvAsInt64 missing = %d, want default 5", got)
	}
}
