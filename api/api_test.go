package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tablevault/codec"
	"tablevault/config"
	"tablevault/core"
	"tablevault/intrusion"
	"tablevault/service"
	"tablevault/storage"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	testSecret   = "api-test-secret-with-enough-length-0123"
	testPassword = "correct horse battery"
	adminEmail   = "root@example.com"
	ownerEmail   = "alice@example.com"
	guestEmail   = "bob@example.com"
	otherEmail   = "carol@example.com"
)

// testServer is the API wired over the in-memory stores with a real
// intrusion guard.
type testServer struct {
	api        *API
	store      *storage.MemoryStore
	backup     *storage.MemoryBackup
	dispatcher *storage.BackupDispatcher
	cfg        *config.Config
	users      map[string]*core.User
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Auth.JWTSecret = testSecret
	cfg.Auth.JWTExpiry = time.Hour
	cfg.Auth.BcryptCost = bcrypt.MinCost
	cfg.API.DefaultPageSize = 20
	cfg.API.UploadBaseURL = "/uploads"
	cfg.API.RateLimit.Login = config.LoginRateLimit{Limit: 100, Window: time.Minute, Burst: 100}
	cfg.Intrusion.Threshold = intrusion.DefaultThreshold
	return cfg
}

func newTestServer(t *testing.T) *testServer {
	return newTestServerWith(t, testConfig(), zap.NewNop().Sugar())
}

func newTestServerWith(t *testing.T, cfg *config.Config, logger *zap.SugaredLogger) *testServer {
	t.Helper()
	ctx := context.Background()

	key, err := codec.ParseKey("api test key")
	require.NoError(t, err)
	c, err := codec.New(key, 64)
	require.NoError(t, err)
	crypter := core.NewCrypter(c)

	s := &testServer{
		store:  storage.NewMemoryStore(),
		backup: storage.NewMemoryBackup(),
		cfg:    cfg,
		users:  map[string]*core.User{},
	}
	s.dispatcher = storage.NewBackupDispatcher(s.backup, storage.BackupDispatcherConfig{
		Workers:         1,
		QueueSize:       256,
		MaxRetries:      1,
		InitialInterval: time.Millisecond,
	}, logger)
	t.Cleanup(s.dispatcher.Close)

	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	require.NoError(t, err)
	for i, email := range []string{adminEmail, ownerEmail, guestEmail, otherEmail} {
		u := &core.User{
			ID:           []string{"u-root", "u-alice", "u-bob", "u-carol"}[i],
			Email:        email,
			PasswordHash: string(hash),
			IsAdmin:      email == adminEmail,
		}
		require.NoError(t, s.store.CreateUser(ctx, u))
		s.users[email] = u
	}

	resolver := core.NewAccessResolver(s.store, crypter, time.UTC, nil)
	audit := service.NewAuditLog(s.store, s.dispatcher, logger)
	tables := service.NewTableService(s.store, s.store, crypter, resolver, audit, s.dispatcher, logger)
	rows := service.NewRowService(s.store, crypter, resolver, audit, s.dispatcher, cfg.API.UploadBaseURL, cfg.API.DefaultPageSize, logger)
	guard := intrusion.NewGuard(s.store, s.store, s.store, s.store, s.dispatcher, cfg.Intrusion.Threshold, logger)

	s.api = NewAPI(Deps{
		Tables:  tables,
		Rows:    rows,
		Audit:   audit,
		Users:   s.store,
		Guard:   guard,
		Limiter: NewMemoryLoginLimiter(cfg.API.RateLimit.Login),
		Health:  s.store,
	}, cfg, logger)
	return s
}

// do sends a request through the router. body is JSON encoded unless it is
// already a string.
func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.api.Handler().ServeHTTP(rec, req)
	return rec
}

// token issues a token for a seeded user without going through login.
func (s *testServer) token(t *testing.T, email string) string {
	t.Helper()
	tok, _, err := generateJWT(s.users[email], testSecret, time.Hour, time.Now())
	require.NoError(t, err)
	return tok
}

// envelope is the decoded success or failure body.
type envelope struct {
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Field   string          `json:"field"`
	Errors  []fieldError    `json:"errors"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return env
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	env := decode(t, rec)
	require.NoError(t, json.Unmarshal(env.Data, dst), string(env.Data))
}

func ledgerInput() service.TableInput {
	return service.TableInput{
		Name: "Ledger",
		Fields: []core.Field{
			{Name: "title", Type: core.FieldTypeText, Required: true},
			{Name: "code", Type: core.FieldTypeText, Unique: true},
			{Name: "status", Type: core.FieldTypeSelect, Options: []string{"open", "closed"}},
			{Name: "amount", Type: core.FieldTypeNumber},
		},
	}
}

// createLedger creates a table owned by alice and returns it.
func (s *testServer) createLedger(t *testing.T) *core.Table {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/v1/tables", s.token(t, ownerEmail), ledgerInput())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var tbl core.Table
	decodeData(t, rec, &tbl)
	return &tbl
}

func (s *testServer) insertRow(t *testing.T, tableID string, values map[string]interface{}) *core.Row {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/v1/tables/"+tableID+"/rows", s.token(t, ownerEmail), map[string]interface{}{"values": values})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var row core.Row
	decodeData(t, rec, &row)
	return &row
}
