package util

import (
	"testing"
	"time"
)

func TestParseBoolEnv(t *testing.T) {
	cases := []struct {
		value string
		def   bool
		want  bool
	}{
		{"", true, true},
		{"true", false, true},
		{"1", false, true},
		{"YES", false, true},
		{"off", true, false},
		{"0", true, false},
		{"garbage", true, true},
		{"garbage", false, false},
	}
	for _, c := range cases {
		t.Setenv("TEST_BOOL_ENV", c.value)
		if got := ParseBoolEnv("TEST_BOOL_ENV", c.def); got != c.want {
			t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v", c.value, c.def, got, c.want)
		}
	}
}

func TestParseDurationEnv(t *testing.T) {
	t.Setenv("TEST_DURATION_ENV", "12s")
	if got := ParseDurationEnv("TEST_DURATION_ENV", time.Second); got != 12*time.Second {
		t.Errorf("ParseDurationEnv = %v, want 12s", got)
	}
	t.Setenv("TEST_DURATION_ENV", "not-a-duration")
	if got := ParseDurationEnv("TEST_DURATION_ENV", 8*time.Second); got != 8*time.Second {
		t.Errorf("ParseDurationEnv invalid = %v, want default 8s", got)
	}
}

func TestParseFloatEnv(t *testing.T) {
	t.Setenv("TEST_FLOAT_ENV", "4500.5")
	if got := ParseFloatEnv("TEST_FLOAT_ENV", 4000); got != 4500.5 {
		t.Errorf("ParseFloatEnv = %v, want 4500.5", got)
	}
	t.Setenv("TEST_FLOAT_ENV", "")
	if got := ParseFloatEnv("TEST_FLOAT_ENV", 4000); got != 4000 {
		t.Errorf("ParseFloatEnv empty = %v, want default 4000", got)
	}
}

func TestParseIntEnv(t *testing.T) {
	t.Setenv("TEST_INT_ENV", "20")
	if got := ParseIntEnv("TEST_INT_ENV", 10); got != 20 {
		t.Errorf("ParseIntEnv = %v, want 20", got)
	}
	t.Setenv("TEST_INT_ENV", "nope")
	if got := ParseIntEnv("TEST_INT_ENV", 10); got != 10 {
		t.Errorf("ParseIntEnv invalid = %v, want default 10", got)
	}
}

func TestGenerateRandomHex(t *testing.T) {
	got := GenerateRandomHex(16)
	if len(got) != 16 {
		t.Fatalf("length = %d, want 16", len(got))
	}
	for _, ch := range got {
		if !((ch >= '0' && ch <= '9') || (ch >= 'a' && ch <= 'f')) {
			t.Errorf("unexpected character %q", ch)
		}
	}
	if GenerateRandomHex(0) != "" {
		t.Error("zero length should produce empty string")
	}
}

func TestGenerateEventID(t *testing.T) {
	id := GenerateEventID()
	if len(id) != len("evt_")+32 {
		t.Errorf("event ID length = %d, want %d", len(id), len("evt_")+32)
	}
	if id[:4] != "evt_" {
		t.Errorf("event ID prefix = %q, want evt_", id[:4])
	}
	if GenerateEventID() == id {
		t.Error("two event IDs should differ")
	}
}
