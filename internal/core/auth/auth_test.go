package auth

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// fakeQueries implements Queries in memory for authenticator tests.
type fakeQueries struct {
	keyHash    []byte
	apiKeyID   string
	revokedAt  sql.NullTime
	lastUsedAt sql.NullTime
	getErr     error
	execCalls  int
}

func (f *fakeQueries) Get(name string, dest interface{}, args ...interface{}) error {
	if f.getErr != nil {
		return f.getErr
	}
	hash, ok := args[0].([]byte)
	if !ok || string(hash) != string(f.keyHash) {
		return sql.ErrNoRows
	}
	row := dest.(*struct {
		APIKeyID   string       `db:"api_key_id"`
		Name       string       `db:"name"`
		RevokedAt  sql.NullTime `db:"revoked_at"`
		LastUsedAt sql.NullTime `db:"last_used_at"`
	})
	row.APIKeyID = f.apiKeyID
	row.RevokedAt = f.revokedAt
	row.LastUsedAt = f.lastUsedAt
	return nil
}

func (f *fakeQueries) Exec(name string, args ...interface{}) (sql.Result, error) {
	f.execCalls++
	return nil, nil
}

const testSecretID = "0123456789abcdef0123456789abcdef"

func testAuthenticator(t *testing.T) (*Authenticator, *fakeQueries, string) {
	t.Helper()
	secret := []byte(strings.Repeat("s", 32))

	key, keyHash, err := GenerateAPIKey(testSecretID, secret)
	if err != nil {
		t.Fatalf("GenerateAPIKey() error = %v", err)
	}

	queries := &fakeQueries{keyHash: keyHash, apiKeyID: "key-1"}
	return NewAuthenticator(map[string][]byte{testSecretID: secret}, queries), queries, key
}

func TestParseAPIKey(t *testing.T) {
	validRandom := strings.Repeat("0f", 32)

	tests := []struct {
		name    string
		key     string
		wantErr error
	}{
		{"valid", "fk-v1-" + testSecretID + "-" + validRandom, nil},
		{"wrong prefix", "tk-v1-" + testSecretID + "-" + validRandom, ErrInvalidKeyFormat},
		{"wrong version", "fk-v2-" + testSecretID + "-" + validRandom, ErrInvalidKeyFormat},
		{"short secret id", "fk-v1-abc-" + validRandom, ErrInvalidKeyFormat},
		{"short random", "fk-v1-" + testSecretID + "-abcd", ErrInvalidKeyFormat},
		{"uppercase hex", "fk-v1-" + strings.ToUpper(testSecretID) + "-" + validRandom, ErrInvalidKeyFormat},
		{"too few parts", "fk-v1-" + testSecretID, ErrInvalidKeyFormat},
		{"empty", "", ErrInvalidKeyFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			secretID, randomData, err := ParseAPIKey(tt.key)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ParseAPIKey() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr == nil {
				if secretID != testSecretID {
					t.Errorf("secretID = %q", secretID)
				}
				if randomData != validRandom {
					t.Errorf("randomData = %q", randomData)
				}
			}
		})
	}
}

func TestGenerateAPIKey(t *testing.T) {
	secret := []byte(strings.Repeat("s", 32))

	key, keyHash, err := GenerateAPIKey(testSecretID, secret)
	if err != nil {
		t.Fatalf("GenerateAPIKey() error = %v", err)
	}
	if len(key) != 102 {
		t.Errorf("len(key) = %d, want 102", len(key))
	}
	if !VerifyHMAC(keyHash, ComputeHMAC(secret, key)) {
		t.Error("stored hash does not verify against the key")
	}

	other, _, err := GenerateAPIKey(testSecretID, secret)
	if err != nil {
		t.Fatalf("GenerateAPIKey() error = %v", err)
	}
	if other == key {
		t.Error("two generated keys are identical")
	}
}

func TestAuthenticate(t *testing.T) {
	auth, queries, key := testAuthenticator(t)
	ctx := context.Background()

	keyID, err := auth.Authenticate(ctx, key)
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if keyID != "key-1" {
		t.Errorf("keyID = %q", keyID)
	}
	if queries.execCalls != 1 {
		t.Errorf("execCalls = %d, want 1 last-used update", queries.execCalls)
	}

	if _, err := auth.Authenticate(ctx, "garbage"); !errors.Is(err, ErrInvalidKeyFormat) {
		t.Errorf("garbage key error = %v, want ErrInvalidKeyFormat", err)
	}

	unknownSecret := "fk-v1-" + strings.Repeat("f", 32) + "-" + strings.Repeat("0", 64)
	if _, err := auth.Authenticate(ctx, unknownSecret); !errors.Is(err, ErrUnknownKey) {
		t.Errorf("unknown secret error = %v, want ErrUnknownKey", err)
	}

	forged := "fk-v1-" + testSecretID + "-" + strings.Repeat("0", 64)
	if _, err := auth.Authenticate(ctx, forged); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("forged key error = %v, want ErrInvalidKey", err)
	}

	queries.revokedAt = sql.NullTime{Time: time.Now(), Valid: true}
	if _, err := auth.Authenticate(ctx, key); !errors.Is(err, ErrKeyRevoked) {
		t.Errorf("revoked key error = %v, want ErrKeyRevoked", err)
	}
}

func TestAuthenticate_LastUsedThrottle(t *testing.T) {
	auth, queries, key := testAuthenticator(t)

	queries.lastUsedAt = sql.NullTime{Time: time.Now().Add(-10 * time.Second), Valid: true}
	if _, err := auth.Authenticate(context.Background(), key); err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if queries.execCalls != 0 {
		t.Errorf("execCalls = %d, recent last_used must not be rewritten", queries.execCalls)
	}

	queries.lastUsedAt = sql.NullTime{Time: time.Now().Add(-2 * time.Minute), Valid: true}
	if _, err := auth.Authenticate(context.Background(), key); err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if queries.execCalls != 1 {
		t.Errorf("execCalls = %d, stale last_used must be rewritten", queries.execCalls)
	}
}

func TestMiddleware(t *testing.T) {
	auth, queries, key := testAuthenticator(t)

	var gotKeyID string
	handler := auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKeyID = KeyIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name       string
		key        string
		setup      func()
		wantStatus int
	}{
		{"valid key", key, nil, http.StatusOK},
		{"missing key", "", nil, http.StatusUnauthorized},
		{"malformed key", "nope", nil, http.StatusUnauthorized},
		{
			name:       "revoked key",
			key:        key,
			setup:      func() { queries.revokedAt = sql.NullTime{Time: time.Now(), Valid: true} },
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "database down",
			key:        key,
			setup:      func() { queries.getErr = errors.New("connection refused") },
			wantStatus: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			queries.revokedAt = sql.NullTime{}
			queries.getErr = nil
			if tt.setup != nil {
				tt.setup()
			}

			req := httptest.NewRequest(http.MethodPost, "/v1/evaluate", nil)
			if tt.key != "" {
				req.Header.Set("x-api-key", tt.key)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusOK && gotKeyID != "key-1" {
				t.Errorf("key ID in context = %q", gotKeyID)
			}
		})
	}
}
