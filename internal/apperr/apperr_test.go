package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestAs(t *testing.T) {
	nf := NotFound("event not found")
	wrapped := fmt.Errorf("load: %w", nf)

	if got := As(wrapped); got != nf {
		t.Errorf("expected wrapped error to unwrap to original, got %v", got)
	}

	plain := errors.New("boom")
	got := As(plain)
	if got.Status != http.StatusInternalServerError {
		t.Errorf("status: got %d", got.Status)
	}
	if !errors.Is(got, plain) {
		t.Error("internal error should wrap the cause")
	}
	if got.Detail != "Internal server error" {
		t.Errorf("detail leaked cause: %q", got.Detail)
	}
}
