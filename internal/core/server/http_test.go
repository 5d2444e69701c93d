package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/solatis/factkeeper/internal/core/api"
	"github.com/solatis/factkeeper/internal/core/auth"
	"github.com/solatis/factkeeper/internal/core/config"
	"github.com/solatis/factkeeper/internal/core/db"
	"github.com/solatis/factkeeper/internal/event"
	"github.com/solatis/factkeeper/internal/metrics"
	"github.com/solatis/factkeeper/internal/rules"
)

const testSecretID = "0123456789abcdef0123456789abcdef"

// startTestServer assembles the full stack on an ephemeral port and
// returns its base URL plus a valid API key.
func startTestServer(t *testing.T) (string, string) {
	t.Helper()

	database, err := db.Open("sqlite://" + filepath.Join(t.TempDir(), "server.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := db.MigrateUp(database); err != nil {
		t.Fatalf("MigrateUp() error = %v", err)
	}
	queries, err := db.LoadQueries(database)
	if err != nil {
		t.Fatalf("LoadQueries() error = %v", err)
	}

	secret := []byte(strings.Repeat("s", 32))
	key, keyHash, err := auth.GenerateAPIKey(testSecretID, secret)
	if err != nil {
		t.Fatalf("GenerateAPIKey() error = %v", err)
	}
	if _, err := queries.Exec("insert-api-key", uuid.NewString(), keyHash, "test", time.Now().UTC()); err != nil {
		t.Fatalf("insert-api-key error = %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.DefaultServerConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0

	paths := rules.PathOptions{ExtendedSyntax: cfg.ExtendedPaths}
	hub := event.NewHub(paths, logger)
	hub.Register(event.NewMessageDispatcher(logger, paths))

	m := metrics.New()
	service, err := api.NewService(cfg, db.NewRuleStore(queries), hub, m, logger)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}

	authenticator := auth.NewAuthenticator(map[string][]byte{testSecretID: secret}, queries)
	srv, err := NewHTTPServer(cfg, service, authenticator, m)
	if err != nil {
		t.Fatalf("NewHTTPServer() error = %v", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(context.Background()) }()
	t.Cleanup(func() {
		if err := srv.Shutdown(context.Background()); err != nil {
			t.Errorf("Shutdown() error = %v", err)
		}
		if err := <-errCh; err != nil {
			t.Errorf("Start() error = %v", err)
		}
	})

	deadline := time.Now().Add(5 * time.Second)
	for srv.Addr() == "" {
		if time.Now().After(deadline) {
			t.Fatal("server did not bind within 5s")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return "http://" + srv.Addr(), key
}

func TestServer_Routes(t *testing.T) {
	base, key := startTestServer(t)
	client := &http.Client{Timeout: 5 * time.Second}

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		key        string
		wantStatus int
	}{
		{"healthz open", http.MethodGet, "/healthz", "", "", http.StatusOK},
		{"metrics open", http.MethodGet, "/metrics", "", "", http.StatusOK},
		{"evaluate requires key", http.MethodPost, "/v1/evaluate", `{"facts": {}}`, "", http.StatusUnauthorized},
		{"evaluate with key", http.MethodPost, "/v1/evaluate", `{"facts": {}}`, key, http.StatusOK},
		{"list rules with key", http.MethodGet, "/v1/rules", "", key, http.StatusOK},
		{"unknown rule", http.MethodGet, "/v1/rules/not-a-uuid", "", key, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body io.Reader
			if tt.body != "" {
				body = strings.NewReader(tt.body)
			}
			req, err := http.NewRequest(tt.method, base+tt.path, body)
			if err != nil {
				t.Fatal(err)
			}
			if tt.key != "" {
				req.Header.Set("x-api-key", tt.key)
			}

			resp, err := client.Do(req)
			if err != nil {
				t.Fatalf("request error = %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tt.wantStatus {
				payload, _ := io.ReadAll(resp.Body)
				t.Errorf("status = %d, want %d, body = %s", resp.StatusCode, tt.wantStatus, payload)
			}
		})
	}
}

func TestServer_MetricsExposition(t *testing.T) {
	base, key := startTestServer(t)
	client := &http.Client{Timeout: 5 * time.Second}

	req, _ := http.NewRequest(http.MethodPost, base+"/v1/evaluate", strings.NewReader(`{"facts": {"x": 1}}`))
	req.Header.Set("x-api-key", key)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("evaluate error = %v", err)
	}
	resp.Body.Close()

	resp, err = client.Get(base + "/metrics")
	if err != nil {
		t.Fatalf("metrics error = %v", err)
	}
	defer resp.Body.Close()
	payload, _ := io.ReadAll(resp.Body)

	for _, want := range []string{
		"factkeeper_evaluations_total 1",
		`factkeeper_http_requests_total{code="200",route="POST /v1/evaluate"} 1`,
	} {
		if !strings.Contains(string(payload), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
