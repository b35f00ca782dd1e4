package secderrors

import (
	"errors"
	"net/http"
	"testing"
)

func TestHTTPStatusMapsInputAndVerificationTo400(t *testing.T) {
	if got := HTTPStatus(New(KindInputRejected, "bad body")); got != http.StatusBadRequest {
		t.Errorf("HTTPStatus(InputRejected) = %d, want 400", got)
	}
	if got := HTTPStatus(New(KindVerificationFailed, "no signature")); got != http.StatusBadRequest {
		t.Errorf("HTTPStatus(VerificationFailed) = %d, want 400", got)
	}
}

func TestHTTPStatusMapsOtherKindsTo500(t *testing.T) {
	for _, k := range []Kind{KindResolveFailed, KindProvisionFailed, KindPublicationFailed} {
		if got := HTTPStatus(New(k, "failed")); got != http.StatusInternalServerError {
			t.Errorf("HTTPStatus(%s) = %d, want 500", k, got)
		}
	}
}

func TestHTTPStatusUnclassifiedErrorIs500(t *testing.T) {
	if got := HTTPStatus(errors.New("boom")); got != http.StatusInternalServerError {
		t.Errorf("HTTPStatus(plain error) = %d, want 500", got)
	}
}

func TestWrapPreservesUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	wrapped := Wrap(KindProvisionFailed, "building image", cause)
	if !errors.Is(wrapped, cause) {
		t.Fatal("Wrap must preserve Unwrap chain to the original cause")
	}
}

func TestAsMatchesKind(t *testing.T) {
	err := New(KindResolveFailed, "no identity")
	if !As(err, KindResolveFailed) {
		t.Fatal("As() = false, want true for matching kind")
	}
	if As(err, KindProvisionFailed) {
		t.Fatal("As() = true, want false for mismatched kind")
	}
}
