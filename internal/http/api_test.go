package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"proposal/internal/auth"
	"proposal/internal/domain"
	"proposal/internal/repository"
	"proposal/internal/repository/sqlite"
	"proposal/internal/service"
)

const cookieName = "auth_token"

type testServer struct {
	router *gin.Engine
	tokens *auth.TokenManager
	logs   *strings.Builder
}

type serverOption func(*serverOptions)

type serverOptions struct {
	accounts  repository.AccountRepository
	photos    service.PhotoService
	staticDir string
}

func withAccounts(r repository.AccountRepository) serverOption {
	return func(o *serverOptions) { o.accounts = r }
}

func withPhotos(p service.PhotoService) serverOption {
	return func(o *serverOptions) { o.photos = p }
}

func withStaticDir(dir string) serverOption {
	return func(o *serverOptions) { o.staticDir = dir }
}

func newTestServer(t *testing.T, opts ...serverOption) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	o := serverOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.accounts == nil {
		db, err := sqlite.Open(filepath.Join(t.TempDir(), "accounts.db"))
		require.NoError(t, err)
		repo := sqlite.NewAccountRepository(db)
		require.NoError(t, repo.Init(context.Background()))
		t.Cleanup(func() { _ = repo.Close() })
		o.accounts = repo
	}
	if o.photos == nil {
		o.photos = service.NewPhotoService(nil, "", "", 0)
	}

	tokens, err := auth.NewTokenManager([]byte("0123456789abcdef0123456789abcdef"), 0)
	require.NoError(t, err)
	accounts := service.NewAccountService(o.accounts, auth.NewPasswordHasher(bcrypt.MinCost), tokens)

	logs := &strings.Builder{}
	logger := logrus.New()
	logger.SetOutput(logs)

	router := gin.New()
	handler := NewHandler(accounts, o.photos, SessionCookie{
		Name:   cookieName,
		Secure: true,
		MaxAge: tokens.TTL(),
	}, o.staticDir, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "metrics")
	}), logger)
	handler.RegisterRoutes(router)

	return &testServer{router: router, tokens: tokens, logs: logs}
}

func (s *testServer) do(t *testing.T, method, target, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == cookieName {
			return c
		}
	}
	t.Fatalf("no %s cookie in response", cookieName)
	return nil
}

func decodeAccount(t *testing.T, rec *httptest.ResponseRecorder) AccountResponse {
	t.Helper()
	var body sessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Account
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}

func TestAuthFlowScenario(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodPost, "/api/auth/register", `{"identifier":"a@b.com","secret":"sunshine"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	registered := decodeAccount(t, rec)
	assert.Positive(t, registered.ID)
	assert.Equal(t, "a@b.com", registered.Identifier)
	assert.NotContains(t, rec.Body.String(), "$2a$")
	sessionCookie(t, rec)

	rec = srv.do(t, http.MethodPost, "/api/auth/login", `{"identifier":"a@b.com","secret":"wrong"}`)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, rec.Result().Cookies())

	rec = srv.do(t, http.MethodPost, "/api/auth/login", `{"identifier":"a@b.com","secret":"sunshine"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, registered.ID, decodeAccount(t, rec).ID)
	cookie := sessionCookie(t, rec)

	rec = srv.do(t, http.MethodGet, "/api/auth/session", "", cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, registered, decodeAccount(t, rec))

	rec = srv.do(t, http.MethodPost, "/api/auth/logout", "", cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"success":true}`, rec.Body.String())
	cleared := sessionCookie(t, rec)
	assert.Empty(t, cleared.Value)
	assert.Equal(t, -1, cleared.MaxAge)

	// a browser drops the cookie, so the next check arrives without it
	rec = srv.do(t, http.MethodGet, "/api/auth/session", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSessionCookieAttributes(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodPost, "/api/auth/register", `{"identifier":"a@b.com","secret":"sunshine"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	cookie := sessionCookie(t, rec)
	assert.NotEmpty(t, cookie.Value)
	assert.True(t, cookie.HttpOnly)
	assert.True(t, cookie.Secure)
	assert.Equal(t, http.SameSiteStrictMode, cookie.SameSite)
	assert.Equal(t, "/", cookie.Path)
	assert.Equal(t, 7*24*60*60, cookie.MaxAge)

	identity, err := srv.tokens.Verify(cookie.Value)
	require.NoError(t, err)
	assert.Equal(t, "a@b.com", identity.Identifier)
}

func TestRegister_Errors(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodPost, "/api/auth/register", `{"identifier":"a@b.com","secret":"sunshine"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	tests := []struct {
		name    string
		body    string
		status  int
		message string
	}{
		{name: "duplicate", body: `{"identifier":"a@b.com","secret":"moonlight"}`, status: http.StatusConflict, message: msgAccountExists},
		{name: "duplicate other case", body: `{"identifier":"A@B.COM","secret":"moonlight"}`, status: http.StatusConflict, message: msgAccountExists},
		{name: "missing secret", body: `{"identifier":"c@b.com"}`, status: http.StatusBadRequest, message: "identifier and secret are required"},
		{name: "missing identifier", body: `{"secret":"sunshine"}`, status: http.StatusBadRequest, message: "identifier and secret are required"},
		{name: "short secret", body: `{"identifier":"c@b.com","secret":"abc"}`, status: http.StatusBadRequest, message: "secret must be at least 6 characters"},
		{name: "malformed json", body: `{"identifier":`, status: http.StatusBadRequest, message: msgInvalidBody},
		{name: "wrong types", body: `{"identifier":5,"secret":true}`, status: http.StatusBadRequest, message: msgInvalidBody},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := srv.do(t, http.MethodPost, "/api/auth/register", tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.message, decodeError(t, rec))
			assert.Empty(t, rec.Result().Cookies())
		})
	}
}

func TestLogin_UnknownAndWrongSecretLookAlike(t *testing.T) {
	srv := newTestServer(t)
	require.Equal(t, http.StatusCreated,
		srv.do(t, http.MethodPost, "/api/auth/register", `{"identifier":"a@b.com","secret":"sunshine"}`).Code)

	wrong := srv.do(t, http.MethodPost, "/api/auth/login", `{"identifier":"a@b.com","secret":"moonlight"}`)
	unknown := srv.do(t, http.MethodPost, "/api/auth/login", `{"identifier":"z@b.com","secret":"sunshine"}`)

	assert.Equal(t, http.StatusUnauthorized, wrong.Code)
	assert.Equal(t, http.StatusUnauthorized, unknown.Code)
	assert.Equal(t, wrong.Body.String(), unknown.Body.String())
}

func TestLogin_MissingFields(t *testing.T) {
	srv := newTestServer(t)
	rec := srv.do(t, http.MethodPost, "/api/auth/login", `{"identifier":"a@b.com"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = srv.do(t, http.MethodPost, "/api/auth/login", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSession_RejectsBadCookies(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodPost, "/api/auth/register", `{"identifier":"a@b.com","secret":"sunshine"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	tampered := []byte(sessionCookie(t, rec).Value)
	i := len(tampered) - 10
	if tampered[i] == 'A' {
		tampered[i] = 'B'
	} else {
		tampered[i] = 'A'
	}

	expiredIssuer, err := auth.NewTokenManager([]byte("0123456789abcdef0123456789abcdef"), time.Hour,
		auth.WithClock(func() time.Time { return time.Now().Add(-2 * time.Hour) }))
	require.NoError(t, err)
	expired, _, err := expiredIssuer.Issue(domain.Identity{AccountID: 1, Identifier: "a@b.com"})
	require.NoError(t, err)

	for name, value := range map[string]string{
		"garbage":  "not-a-token",
		"tampered": string(tampered),
		"expired":  expired,
	} {
		t.Run(name, func(t *testing.T) {
			rec := srv.do(t, http.MethodGet, "/api/auth/session", "", &http.Cookie{Name: cookieName, Value: value})
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, msgNotAuthenticated, decodeError(t, rec))
		})
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t)

	for _, tc := range []struct{ method, target string }{
		{http.MethodGet, "/api/auth/register"},
		{http.MethodPut, "/api/auth/login"},
		{http.MethodPost, "/api/auth/session"},
		{http.MethodDelete, "/api/auth/session"},
		{http.MethodGet, "/api/auth/logout"},
	} {
		t.Run(tc.method+" "+tc.target, func(t *testing.T) {
			rec := srv.do(t, tc.method, tc.target, "")
			assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
			assert.Equal(t, msgMethodNotAllowed, decodeError(t, rec))
		})
	}
}

type failingAccounts struct{}

func (failingAccounts) Init(context.Context) error { return nil }
func (failingAccounts) Close() error               { return nil }

func (failingAccounts) Create(context.Context, string, string) (*domain.Account, error) {
	return nil, fmt.Errorf("insert account: %w: %w", repository.ErrUnavailable, errors.New("dial tcp 10.0.0.5:5432: connection refused"))
}

func (failingAccounts) FindByIdentifier(context.Context, string) (*domain.Account, error) {
	return nil, fmt.Errorf("find account: %w: %w", repository.ErrUnavailable, errors.New("dial tcp 10.0.0.5:5432: connection refused"))
}

func TestStorageFailuresAreMasked(t *testing.T) {
	srv := newTestServer(t, withAccounts(failingAccounts{}))

	for _, target := range []string{"/api/auth/register", "/api/auth/login"} {
		rec := srv.do(t, http.MethodPost, target, `{"identifier":"a@b.com","secret":"sunshine"}`)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, msgInternal, decodeError(t, rec))
		assert.NotContains(t, rec.Body.String(), "10.0.0.5")
	}
	assert.Contains(t, srv.logs.String(), "connection refused")
}

type stubPhotos struct {
	photos []service.Photo
	err    error
}

func (s stubPhotos) ListPhotos(context.Context) ([]service.Photo, error) {
	return s.photos, s.err
}

func TestPhotos_RequireSession(t *testing.T) {
	modified := time.Date(2026, 2, 14, 9, 0, 0, 0, time.UTC)
	srv := newTestServer(t, withPhotos(stubPhotos{photos: []service.Photo{
		{Key: "photos/1.jpg", URL: "https://cdn.example/1.jpg", Size: 10, LastModified: &modified},
	}}))

	rec := srv.do(t, http.MethodGet, "/api/photos", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = srv.do(t, http.MethodPost, "/api/auth/register", `{"identifier":"a@b.com","secret":"sunshine"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = srv.do(t, http.MethodGet, "/api/photos", "", sessionCookie(t, rec))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"photos":[{"key":"photos/1.jpg","url":"https://cdn.example/1.jpg","size":10,"last_modified":"2026-02-14T09:00:00Z"}]}`, rec.Body.String())
}

func TestPhotos_Errors(t *testing.T) {
	token, _, err := newTestServer(t).tokens.Issue(domain.Identity{AccountID: 1, Identifier: "a@b.com"})
	require.NoError(t, err)
	cookie := &http.Cookie{Name: cookieName, Value: token}

	srv := newTestServer(t)
	rec := srv.do(t, http.MethodGet, "/api/photos", "", cookie)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	srv = newTestServer(t, withPhotos(stubPhotos{err: errors.New("s3: access denied for bucket")}))
	rec = srv.do(t, http.MethodGet, "/api/photos", "", cookie)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "access denied")
}

func TestRequireSession_StoresIdentity(t *testing.T) {
	srv := newTestServer(t)
	accounts := service.NewAccountService(nil, nil, srv.tokens)
	handler := NewHandler(accounts, nil, SessionCookie{Name: cookieName}, "", nil, nil)

	router := gin.New()
	router.GET("/whoami", handler.RequireSession(), func(c *gin.Context) {
		identity, ok := IdentityFromContext(c)
		require.True(t, ok)
		c.JSON(http.StatusOK, identityToResponse(identity))
	})

	token, _, err := srv.tokens.Issue(domain.Identity{AccountID: 9, Identifier: "n@b.com"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.AddCookie(&http.Cookie{Name: cookieName, Value: token})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, AccountResponse{ID: 9, Identifier: "n@b.com"}, decodeAccount(t, rec))
}

func TestStaticAndFallbacks(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>Will you?</h1>"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.js"), []byte("console.log('yes')"), 0o600))

	srv := newTestServer(t, withStaticDir(dir))

	rec := srv.do(t, http.MethodGet, "/app.js", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "console.log")

	rec = srv.do(t, http.MethodGet, "/celebration", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Will you?")

	rec = srv.do(t, http.MethodGet, "/../../etc/passwd", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Will you?")

	rec = srv.do(t, http.MethodGet, "/api/unknown", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = srv.do(t, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = srv.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, "metrics", rec.Body.String())
}

func TestNoStaticDir(t *testing.T) {
	srv := newTestServer(t)
	rec := srv.do(t, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
