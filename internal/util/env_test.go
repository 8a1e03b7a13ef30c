package util

import (
	"testing"
	"time"
)

func TestParseBoolEnv(t *testing.T) {
	tests := []struct {
		value string
		def   bool
		want  bool
	}{
		{"", true, true},
		{"yes", false, true},
		{"ON", false, true},
		{"0", true, false},
		{"off", true, false},
		{"maybe", true, true},
	}
	for _, tt := range tests {
		t.Setenv("INTAKEFLOW_TEST_BOOL", tt.value)
		if got := ParseBoolEnv("INTAKEFLOW_TEST_BOOL", tt.def); got != tt.want {
			t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v", tt.value, tt.def, got, tt.want)
		}
	}
}

func TestParseIntEnv(t *testing.T) {
	t.Setenv("INTAKEFLOW_TEST_INT", "18")
	if got := ParseIntEnv("INTAKEFLOW_TEST_INT", 15); got != 18 {
		t.Errorf("ParseIntEnv = %d, want 18", got)
	}
	t.Setenv("INTAKEFLOW_TEST_INT", "eighteen")
	if got := ParseIntEnv("INTAKEFLOW_TEST_INT", 15); got != 15 {
		t.Errorf("ParseIntEnv with invalid value = %d, want default 15", got)
	}
}

func TestParseDurationEnv(t *testing.T) {
	t.Setenv("INTAKEFLOW_TEST_DURATION", "750ms")
	if got := ParseDurationEnv("INTAKEFLOW_TEST_DURATION", time.Second); got != 750*time.Millisecond {
		t.Errorf("ParseDurationEnv = %v, want 750ms", got)
	}
	t.Setenv("INTAKEFLOW_TEST_DURATION", "-1s")
	if got := ParseDurationEnv("INTAKEFLOW_TEST_DURATION", time.Second); got != time.Second {
		t.Errorf("ParseDurationEnv with negative value = %v, want default", got)
	}
}
