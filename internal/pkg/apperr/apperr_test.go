package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"validation", New(KindValidation, "bad input"), KindValidation},
		{"terminal", Terminal("gone", nil), KindTerminal},
		{"wrapped once", fmt.Errorf("outer: %w", New(KindStateConflict, "already refunded")), KindStateConflict},
		{"wrapped twice", fmt.Errorf("a: %w", fmt.Errorf("b: %w", Validationf("nope"))), KindValidation},
		{"plain error defaults to transient", errors.New("connection reset"), KindTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Fatalf("KindOf() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestIsKind(t *testing.T) {
	err := Wrap(KindRaceLoss, "activation limit hit", nil)
	if !IsKind(err, KindRaceLoss) {
		t.Fatalf("expected race loss match")
	}
	if IsKind(err, KindTerminal) {
		t.Fatalf("unexpected terminal match")
	}
	if IsKind(nil, KindTransient) {
		t.Fatalf("nil error must not match any kind")
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("duplicate key")
	err := Wrap(KindIdempotent, "already stored", cause)
	if !errors.Is(err, cause) {
		t.Fatalf("expected wrapped cause to be reachable via errors.Is")
	}
	if got := err.Error(); got != "idempotent_noop: already stored: duplicate key" {
		t.Fatalf("unexpected message: %q", got)
	}
	if got := New(KindTerminal, "version deleted").Error(); got != "terminal: version deleted" {
		t.Fatalf("unexpected message without cause: %q", got)
	}
}
