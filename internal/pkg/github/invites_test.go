package github

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MartinGrube/SoloStore/internal/pkg/apperr"
)

func newTestClient(srv *httptest.Server) *Client {
	return &Client{
		Token:      "test-token",
		APIBaseURL: srv.URL,
		HTTPClient: srv.Client(),
	}
}

func TestInviteByEmail(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := newTestClient(srv)
	if err := c.InviteByEmail(context.Background(), "creator/widget", "buyer@example.com"); err != nil {
		t.Fatalf("InviteByEmail: %v", err)
	}
	if gotPath != "/repos/creator/widget/invitations" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotAuth != "Bearer test-token" {
		t.Fatalf("unexpected auth header %q", gotAuth)
	}
	if gotBody["email"] != "buyer@example.com" {
		t.Fatalf("unexpected body %v", gotBody)
	}
}

func TestInviteByEmailRejection(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		wantKind apperr.Kind
	}{
		{"repo not found", http.StatusNotFound, apperr.KindTerminal},
		{"unprocessable", http.StatusUnprocessableEntity, apperr.KindTerminal},
		{"server error", http.StatusInternalServerError, apperr.KindTransient},
		{"rate limited", http.StatusForbidden, apperr.KindTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			err := newTestClient(srv).InviteByEmail(context.Background(), "creator/widget", "buyer@example.com")
			if !apperr.IsKind(err, tt.wantKind) {
				t.Fatalf("expected %s error, got %v", tt.wantKind, err)
			}
		})
	}
}

func TestInviteByEmailValidation(t *testing.T) {
	c := &Client{Token: "test-token", APIBaseURL: "http://localhost:0", HTTPClient: http.DefaultClient}
	if err := c.InviteByEmail(context.Background(), "", "buyer@example.com"); !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("expected validation error for empty repo, got %v", err)
	}
	if err := c.InviteByEmail(context.Background(), "creator/widget", " "); !apperr.IsKind(err, apperr.KindValidation) {
		t.Fatalf("expected validation error for empty email, got %v", err)
	}

	c.Token = ""
	if err := c.InviteByEmail(context.Background(), "creator/widget", "buyer@example.com"); err == nil {
		t.Fatalf("expected error without token")
	}
}
