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
		{"direct", New(InvalidQuery, "empty"), InvalidQuery},
		{"wrapped by fmt", fmt.Errorf("outer: %w", New(StoreUnavailable, "down")), StoreUnavailable},
		{"plain error", errors.New("boom"), Internal},
		{"nil", nil, Internal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWrap(t *testing.T) {
	if Wrap(EncodingFailure, nil, "x") != nil {
		t.Fatal("Wrap(nil) should be nil")
	}
	cause := errors.New("model error")
	err := Wrap(EncodingFailure, cause, "encode %q", "hi")
	if !errors.Is(err, cause) {
		t.Error("wrapped error should unwrap to cause")
	}
	if !Is(err, EncodingFailure) {
		t.Error("expected EncodingFailure kind")
	}
	if !errors.Is(err, &Error{Kind: EncodingFailure}) {
		t.Error("errors.Is with a kind-only target should match")
	}
	if errors.Is(err, &Error{Kind: StoreUnavailable}) {
		t.Error("errors.Is should not match another kind")
	}
}

func TestMessage(t *testing.T) {
	if got := Message(New(InvalidParameter, "limit must be between 1 and 100")); got != "limit must be between 1 and 100" {
		t.Errorf("Message() = %q", got)
	}
	got := Message(Wrap(StoreUnavailable, errors.New("dial tcp 10.0.0.1:5432: connection refused"), "rank"))
	if got == "" || got == "rank" {
		t.Errorf("store failures should get a generic message, got %q", got)
	}
	if !StoreUnavailable.Retryable() || InvalidQuery.Retryable() {
		t.Error("only StoreUnavailable is retryable")
	}
}
