package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harentsoaR/gestorpro/internal/auth"
	"github.com/harentsoaR/gestorpro/internal/livestore"
	"github.com/harentsoaR/gestorpro/internal/metrics"
	"github.com/harentsoaR/gestorpro/internal/permission"
	"github.com/harentsoaR/gestorpro/internal/store/memstore"
)

type captureMailer struct {
	mu    sync.Mutex
	links map[string]string
}

func (m *captureMailer) SendPasswordReset(to, link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links[to] = link
	return nil
}

func (m *captureMailer) link(to string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.links[to]
}

type testServer struct {
	router *gin.Engine
	live   *livestore.Store
	auth   *auth.Service
	mailer *captureMailer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	docs := memstore.New()
	mailer := &captureMailer{links: make(map[string]string)}
	authSvc := auth.NewService(docs, auth.NewMemoryResetStore(), mailer, auth.Config{
		JWTSecret: []byte("test-secret"),
		ResetURL:  "http://app.test/reset",
	}, logger)
	live := livestore.New(livestore.Deps{
		Docs:    docs,
		Auth:    authSvc,
		Metrics: metrics.NewMetrics(prometheus.NewRegistry()),
		Logger:  logger,
	}, livestore.Options{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = live.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	require.NoError(t, live.BootstrapMaster(context.Background(), "boss@example.com", "secret1", "Boss"))

	r := gin.New()
	Register(r, NewHandler(live), authSvc.ValidateToken)
	return &testServer{router: r, live: live, auth: authSvc, mailer: mailer}
}

func (ts *testServer) do(method, path, token string, body any) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func (ts *testServer) login(t *testing.T) string {
	t.Helper()
	return ts.loginAs(t, "boss@example.com", "secret1")
}

func (ts *testServer) loginAs(t *testing.T, email, password string) string {
	t.Helper()
	w := ts.do(http.MethodPost, "/auth/login", "", gin.H{"email": email, "password": password})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Token string        `json:"token"`
		User  auth.Identity `json:"user"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Token)

	require.Eventually(t, func() bool {
		sess := ts.live.Session()
		return ts.live.State() == livestore.StateActive && sess != nil && sess.User.ID == resp.User.UID
	}, 2*time.Second, 5*time.Millisecond)
	return resp.Token
}

func errorMessage(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp["error"]
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodPost, "/auth/login", "", gin.H{"email": "boss@example.com", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "E-mail ou senha incorretos.", errorMessage(t, w))

	w = ts.do(http.MethodPost, "/auth/login", "", gin.H{"email": "not-an-email"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodGet, "/api/state", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = ts.do(http.MethodGet, "/api/state", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestStateAfterLogin(t *testing.T) {
	ts := newTestServer(t)
	token := ts.login(t)

	w := ts.do(http.MethodGet, "/api/state", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var view struct {
		State   string `json:"state"`
		Session struct {
			User struct {
				Email string   `json:"email"`
				Roles []string `json:"roles"`
			} `json:"user"`
		} `json:"session"`
		Collections map[string][]any `json:"collections"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &view))
	assert.Equal(t, "active", view.State)
	assert.Equal(t, "boss@example.com", view.Session.User.Email)
	assert.Contains(t, view.Session.User.Roles, "master")
	assert.Contains(t, view.Collections, "appointments")
}

func TestTokenForAnotherIdentityConflicts(t *testing.T) {
	ts := newTestServer(t)
	ts.login(t)

	other, err := ts.auth.IssueToken("someone-else", nil)
	require.NoError(t, err)

	w := ts.do(http.MethodGet, "/api/me", other, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestForeignTokenCannotReadOrEndSession(t *testing.T) {
	ts := newTestServer(t)
	ts.login(t)

	other, err := ts.auth.IssueToken("someone-else", nil)
	require.NoError(t, err)

	for _, r := range []struct{ method, path string }{
		{http.MethodGet, "/api/state"},
		{http.MethodGet, "/api/events"},
		{http.MethodGet, "/api/settings"},
		{http.MethodDelete, "/api/notification"},
		{http.MethodDelete, "/api/pages/" + url.PathEscape(livestore.PagePendencies)},
		{http.MethodPost, "/api/logout"},
	} {
		w := ts.do(r.method, r.path, other, nil)
		assert.Equal(t, http.StatusConflict, w.Code, r.method+" "+r.path)
		assert.NotContains(t, w.Body.String(), "boss@example.com", r.path)
	}

	assert.Equal(t, livestore.StateActive, ts.live.State())
	sess := ts.live.Session()
	require.NotNil(t, sess)
	assert.Equal(t, "boss@example.com", sess.User.Email)
}

func TestInspectorWritesAreForbidden(t *testing.T) {
	ts := newTestServer(t)
	boss := ts.login(t)

	w := ts.do(http.MethodPost, "/api/users", boss, gin.H{
		"name":        "Insp",
		"email":       "insp@example.com",
		"roles":       []string{"inspector"},
		"permissions": gin.H{"appointments": "update", "financial": "hidden"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	uid := created["id"]
	require.NotEmpty(t, uid)

	token := ts.loginAs(t, "insp@example.com", "123mudar")

	w = ts.do(http.MethodPut, "/api/collections/users/"+uid, token, gin.H{"roles": []string{"master"}})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "Você não tem permissão para realizar esta ação.", errorMessage(t, w))

	w = ts.do(http.MethodPost, "/api/collections/financials", token, gin.H{"amount": 10})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = ts.do(http.MethodPost, "/api/users", token, gin.H{"name": "X", "email": "x@example.com"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = ts.do(http.MethodPut, "/api/collections/users/"+uid, token, gin.H{"name": "Inspetor"})
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = ts.do(http.MethodPost, "/api/collections/appointments", token, gin.H{"status": "Agendado"})
	assert.Equal(t, http.StatusCreated, w.Code)

	require.Eventually(t, func() bool {
		sess := ts.live.Session()
		return sess != nil && sess.User.Name == "Inspetor"
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"inspector"}, ts.live.Session().User.Roles)
}

func TestCollectionCRUD(t *testing.T) {
	ts := newTestServer(t)
	token := ts.login(t)

	w := ts.do(http.MethodPost, "/api/collections/appointments", token, gin.H{"status": "Agendado", "client": "Acme"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	id := created["id"]
	require.NotEmpty(t, id)

	require.Eventually(t, func() bool {
		return len(ts.live.Mirror(permission.Appointments)) == 1
	}, 2*time.Second, 5*time.Millisecond)

	w = ts.do(http.MethodGet, "/api/collections/appointments?status=Agendado", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var docs []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &docs))
	assert.Len(t, docs, 1)

	w = ts.do(http.MethodGet, "/api/collections/appointments?status=Solicitado", token, nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &docs))
	assert.Empty(t, docs)

	w = ts.do(http.MethodPut, "/api/collections/appointments/"+id, token, gin.H{"status": "Concluído"})
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = ts.do(http.MethodDelete, "/api/collections/appointments/"+id, token, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	require.Eventually(t, func() bool {
		return len(ts.live.Mirror(permission.Appointments)) == 0
	}, 2*time.Second, 5*time.Millisecond)

	w = ts.do(http.MethodPut, "/api/collections/appointments/missing", token, gin.H{"status": "x"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Erro ao atualizar agendamento.", errorMessage(t, w))
}

func TestUnknownResource(t *testing.T) {
	ts := newTestServer(t)
	token := ts.login(t)

	w := ts.do(http.MethodGet, "/api/collections/invoices", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBatchAppointments(t *testing.T) {
	ts := newTestServer(t)
	token := ts.login(t)

	w := ts.do(http.MethodPost, "/api/appointments/batch", token, gin.H{
		"appointments": []gin.H{{"status": "Agendado"}, {"status": "Solicitado"}},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var resp struct {
		IDs []string `json:"ids"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.IDs, 2)

	w = ts.do(http.MethodPost, "/api/appointments/batch-delete", token, gin.H{"ids": resp.IDs})
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestPasswordResetFlow(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodPost, "/auth/password-reset", "", gin.H{"email": "nobody@example.com"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Nenhum usuário encontrado com este e-mail.", errorMessage(t, w))

	w = ts.do(http.MethodPost, "/auth/password-reset", "", gin.H{"email": "boss@example.com"})
	require.Equal(t, http.StatusOK, w.Code)

	link, err := url.Parse(ts.mailer.link("boss@example.com"))
	require.NoError(t, err)
	resetToken := link.Query().Get("token")
	require.NotEmpty(t, resetToken)

	w = ts.do(http.MethodPost, "/auth/password-reset/confirm", "", gin.H{"token": resetToken, "password": "newsecret"})
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.do(http.MethodPost, "/auth/password-reset/confirm", "", gin.H{"token": resetToken, "password": "newsecret"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = ts.do(http.MethodPost, "/auth/login", "", gin.H{"email": "boss@example.com", "password": "newsecret"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPageFlagsAndNotification(t *testing.T) {
	ts := newTestServer(t)
	token := ts.login(t)

	w := ts.do(http.MethodDelete, "/api/pages/"+url.PathEscape(livestore.PagePendencies), token, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = ts.do(http.MethodDelete, "/api/pages/Nope", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	ts.do(http.MethodPost, "/auth/login", "", gin.H{"email": "boss@example.com", "password": "wrong"})
	require.NotNil(t, ts.live.Notification())

	w = ts.do(http.MethodDelete, "/api/notification", token, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Nil(t, ts.live.Notification())
}

func TestLogoutEndsSession(t *testing.T) {
	ts := newTestServer(t)
	token := ts.login(t)

	w := ts.do(http.MethodPost, "/api/logout", token, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	require.Eventually(t, func() bool {
		return ts.live.State() == livestore.StateSignedOut && ts.live.Session() == nil
	}, 2*time.Second, 5*time.Millisecond)

	w = ts.do(http.MethodGet, "/api/me", token, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestQueryTokenAccepted(t *testing.T) {
	ts := newTestServer(t)
	token := ts.login(t)

	w := ts.do(http.MethodGet, "/api/me?token="+token, "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "boss@example.com"))
}
