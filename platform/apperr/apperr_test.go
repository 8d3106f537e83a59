package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKindMapping(t *testing.T) {
	cases := []struct {
		err    *Error
		code   string
		status int
	}{
		{NotFound("lead not found"), "NOT_FOUND", http.StatusNotFound},
		{InvalidTransition("NUEVO -> INSCRITO"), "INVALID_TRANSITION", http.StatusConflict},
		{TerminalStage("lead is INSCRITO"), "TERMINAL_STAGE", http.StatusConflict},
		{Misconfigured("no scoring rules"), "MISCONFIGURED_RULES", http.StatusUnprocessableEntity},
		{DeliveryFailed("gave up", errors.New("smtp down")), "DELIVERY_FAILED", http.StatusBadGateway},
		{New(Kind(99), "mystery"), "UNKNOWN", http.StatusBadRequest},
	}
	for _, tc := range cases {
		if got := tc.err.Kind.Code(); got != tc.code {
			t.Errorf("%q: expected code %s, got %s", tc.err.Message, tc.code, got)
		}
		if got := tc.err.HTTPStatus(); got != tc.status {
			t.Errorf("%q: expected status %d, got %d", tc.err.Message, tc.status, got)
		}
	}
}

func TestIsFindsWrappedKind(t *testing.T) {
	cause := errors.New("connection reset")
	err := fmt.Errorf("sweep: %w", DeliveryFailed("step 2 gave up", cause))

	if !Is(err, KindDeliveryFailed) {
		t.Fatal("expected DeliveryFailed kind through fmt wrapping")
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected the cause to stay reachable")
	}
	if KindOf(cause) != KindUnknown {
		t.Fatal("expected untyped errors to report KindUnknown")
	}
	if got := err.Error(); got != "sweep: step 2 gave up: connection reset" {
		t.Fatalf("unexpected message %q", got)
	}
}
