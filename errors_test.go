package clinicauth

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/MrEthical07/clinicauth/tenant"
)

func TestHTTPStatusTable(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{ErrInvalidInput, http.StatusBadRequest},
		{ErrInvalidCredentials, http.StatusUnauthorized},
		{ErrAccountLocked, http.StatusLocked},
		{ErrSuspiciousActivity, http.StatusLocked},
		{ErrTenantNotFound, http.StatusNotFound},
		{tenant.ErrNotFound, http.StatusNotFound},
		{ErrTenantInactive, http.StatusForbidden},
		{ErrTenantSuspended, http.StatusForbidden},
		{ErrTenantCancelled, http.StatusGone},
		{ErrPaymentRequired, http.StatusPaymentRequired},
		{ErrPasswordResetRequired, http.StatusForbidden},
		{ErrTokenRevoked, http.StatusUnauthorized},
		{ErrTenantContextMissing, http.StatusInternalServerError},
		{ErrSessionNotFound, http.StatusNotFound},
		{ErrPasswordReuse, http.StatusBadRequest},
		{ErrLoginRateLimited, http.StatusTooManyRequests},
		{ErrEmailTaken, http.StatusConflict},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := HTTPStatus(tc.err); got != tc.want {
			t.Fatalf("HTTPStatus(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestDeniedErrorWrapsSentinel(t *testing.T) {
	err := deny(ErrAccountLocked, "Account locked. Try again in 12 minutes", 12*time.Minute)
	wrapped := fmt.Errorf("login: %w", err)

	if !errors.Is(wrapped, ErrAccountLocked) {
		t.Fatal("errors.Is should see the sentinel")
	}
	if HTTPStatus(wrapped) != http.StatusLocked {
		t.Fatalf("status = %d", HTTPStatus(wrapped))
	}
	if Reason(wrapped) != "Account locked. Try again in 12 minutes" {
		t.Fatalf("reason = %q", Reason(wrapped))
	}
	if RetryAfter(wrapped) != 12*time.Minute {
		t.Fatalf("retry = %v", RetryAfter(wrapped))
	}
	if Reason(ErrAccountLocked) != "" || RetryAfter(ErrAccountLocked) != 0 {
		t.Fatal("bare sentinel carries no detail")
	}
}

func TestPublicMessageHidesInternalErrors(t *testing.T) {
	if got := PublicMessage(deny(ErrForbidden, "x", 0)); got != "forbidden" {
		t.Fatalf("got %q", got)
	}
	if got := PublicMessage(fmt.Errorf("query users: %w", errors.New("connection reset"))); got != "internal server error" {
		t.Fatalf("got %q", got)
	}
	if got := PublicMessage(ErrEngineNotReady); got != "internal server error" {
		t.Fatalf("engine state leaked: %q", got)
	}
}
