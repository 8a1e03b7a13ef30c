package util

import (
	"strings"
	"testing"
)

func TestGenerateRandomDigits(t *testing.T) {
	tests := []struct {
		name   string
		length int
		want   int
	}{
		{"zero length", 0, 0},
		{"negative length", -3, 0},
		{"single digit", 1, 1},
		{"reference width", 4, 4},
		{"long", 32, 32},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GenerateRandomDigits(tt.length)
			if len(got) != tt.want {
				t.Fatalf("GenerateRandomDigits(%d) length = %d, want %d", tt.length, len(got), tt.want)
			}
			if !isDigits(got) {
				t.Errorf("GenerateRandomDigits(%d) = %q contains non-digits", tt.length, got)
			}
			if got != "" && got[0] == '0' {
				t.Errorf("GenerateRandomDigits(%d) = %q has a leading zero", tt.length, got)
			}
		})
	}
}

func TestGenerateIntakeReference(t *testing.T) {
	for i := 0; i < 100; i++ {
		ref := GenerateIntakeReference()
		if !strings.HasPrefix(ref, IntakeReferencePrefix) {
			t.Fatalf("reference %q missing prefix", ref)
		}
		num := strings.TrimPrefix(ref, IntakeReferencePrefix)
		if len(num) != 4 || !isDigits(num) {
			t.Fatalf("reference %q should end in four digits", ref)
		}
	}
}

func isDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
