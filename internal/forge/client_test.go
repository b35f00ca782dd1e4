package forge

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestProjectIDString(t *testing.T) {
	if got := ProjectIDString(42); got != "42" {
		t.Fatalf("ProjectIDString(42) = %s, want 42", got)
	}
}

func TestGetIDPUserIDUsesFirstIdentity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":7,"identities":[{"provider":"keycloak","extern_uid":"subject-1"},{"provider":"other","extern_uid":"subject-2"}]}`))
	}))
	defer srv.Close()

	c := New(Settings{URL: srv.URL, Token: "tok"})
	subject, ok, err := c.GetIDPUserID(context.Background(), 7)
	if err != nil {
		t.Fatalf("GetIDPUserID() error: %v", err)
	}
	if !ok {
		t.Fatal("GetIDPUserID() ok = false, want true")
	}
	if subject != "subject-1" {
		t.Fatalf("GetIDPUserID() = %s, want subject-1 (first linked identity)", subject)
	}
}

func TestGetIDPUserIDNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(Settings{URL: srv.URL, Token: "tok"})
	_, ok, err := c.GetIDPUserID(context.Background(), 7)
	if err != nil {
		t.Fatalf("GetIDPUserID() error: %v", err)
	}
	if ok {
		t.Fatal("GetIDPUserID() ok = true, want false for a 404")
	}
}

func TestHasFileInRepo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("ref") == "refs/heads/main" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(Settings{URL: srv.URL, Token: "tok"})
	ok, err := c.HasFileInRepo(context.Background(), "1", "Dockerfile", "refs/heads/main")
	if err != nil {
		t.Fatalf("HasFileInRepo() error: %v", err)
	}
	if !ok {
		t.Fatal("HasFileInRepo() = false, want true")
	}
}
