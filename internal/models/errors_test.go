package models

import (
	"errors"
	"strings"
	"testing"
)

func TestHandleError(t *testing.T) {
	cases := []struct {
		in     string
		prefix string
	}{
		{"dial tcp 127.0.0.1:11434: connect: connection refused", "connection error"},
		{`model "deepseek-r1:1.5b" not found, try pulling it first`, "model not found"},
		{"429 Too Many Requests", "rate limited"},
		{"input exceeds context length", "context too long"},
		{"something else", "something else"},
	}
	for _, tc := range cases {
		got := HandleError(errors.New(tc.in))
		if !strings.HasPrefix(got.Error(), tc.prefix) {
			t.Errorf("HandleError(%q) = %q, want prefix %q", tc.in, got, tc.prefix)
		}
	}

	if HandleError(nil) != nil {
		t.Error("HandleError(nil) should be nil")
	}
}

func TestHandleError_KeepsCause(t *testing.T) {
	cause := &ErrModelUnavailable{Provider: "ollama", Cause: errors.New("connection refused")}
	err := HandleError(cause)

	var unavail *ErrModelUnavailable
	if !errors.As(err, &unavail) {
		t.Fatalf("expected ErrModelUnavailable in chain, got %v", err)
	}
	if !strings.Contains(err.Error(), "ollama unavailable") {
		t.Errorf("unexpected message: %q", err.Error())
	}
}
