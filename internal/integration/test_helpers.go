package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"localboard/internal/app"
	"localboard/internal/auth"
	"localboard/internal/config"
)

// TestSecret signs every token in the integration environment
const TestSecret = "integration-secret-0123456789"

// Env is a full application on a temporary sqlite database behind an
// httptest server
type Env struct {
	App    *app.Application
	Server *httptest.Server
	Config *config.Config
	issuer *auth.Issuer
}

// StartEnv builds the application the way the binary does and serves it.
// Cleanup stops both when the test ends.
func StartEnv(t *testing.T, mutate func(*config.Config)) *Env {
	t.Helper()
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.Database.DSN = filepath.Join(dir, "board.db")
	cfg.Storage.UploadDir = filepath.Join(dir, "uploads")
	cfg.Auth.Secret = TestSecret
	cfg.Auth.Admins = []string{"moderator"}
	cfg.Admission.RatePerMinute = 6000
	cfg.Admission.RateBurst = 1000
	cfg.Log.Level = "error"
	if mutate != nil {
		mutate(cfg)
	}

	application, err := app.NewApplication(cfg)
	if err != nil {
		t.Fatalf("Failed to create application: %v", err)
	}
	server := httptest.NewServer(application.Handler())

	t.Cleanup(func() {
		server.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := application.Stop(ctx); err != nil {
			t.Logf("Application shutdown error: %v", err)
		}
	})

	return &Env{
		App:    application,
		Server: server,
		Config: cfg,
		issuer: auth.NewIssuer(TestSecret, cfg.Auth.Issuer),
	}
}

// Token mints a bearer token for userID
func (e *Env) Token(t *testing.T, userID string) string {
	t.Helper()
	token, err := e.issuer.Issue(userID, "", time.Hour)
	if err != nil {
		t.Fatalf("Failed to issue token: %v", err)
	}
	return token
}

// Connect opens a real-time session for userID
func (e *Env) Connect(t *testing.T, userID string) *TestClient {
	t.Helper()
	client := NewTestClient(userID, e.Token(t, userID), e.Server.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Failed to connect %s: %v", userID, err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// Do sends an authenticated API request and decodes the JSON response into
// out when out is non-nil
func (e *Env) Do(t *testing.T, userID, method, path string, body, out interface{}) int {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to encode request: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.Server.URL+path, reader)
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+e.Token(t, userID))
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("Failed to decode %s %s response: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

// Relocate sets userID's region through the API
func (e *Env) Relocate(t *testing.T, userID, state, lga string) {
	t.Helper()
	if code := e.Do(t, userID, http.MethodPost, "/api/location", map[string]string{"state": state, "lga": lga}, nil); code != http.StatusOK {
		t.Fatalf("Relocate %s returned %d", userID, code)
	}
}
