package mail

import (
	"errors"
	"testing"
)

func TestIsPermanentSMTPError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"mailbox unavailable", errors.New("550 5.1.1 mailbox unavailable"), true},
		{"user not local", errors.New("551 user not local"), true},
		{"mailbox name not allowed", errors.New("553 mailbox name not allowed"), true},
		{"transaction failed", errors.New("554 transaction failed"), true},
		{"greylisted", errors.New("451 4.7.1 try again later"), false},
		{"connection refused", errors.New("dial tcp: connection refused"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsPermanentSMTPError(tt.err); got != tt.want {
				t.Fatalf("IsPermanentSMTPError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
