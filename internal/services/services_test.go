package services

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPushSend(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key=secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"success":1}`))
	}))
	defer srv.Close()

	p := NewPushService(srv.URL, "secret", discardLogger())
	err := p.Send(context.Background(), "device-token", PushMessage{Title: "GestorPRO", Body: "Nova mensagem", URL: "/"})
	require.NoError(t, err)

	assert.Equal(t, "device-token", got["to"])
	data := got["data"].(map[string]any)
	assert.Equal(t, "Nova mensagem", data["body"])
	assert.Equal(t, "/", data["url"])
}

func TestPushSendRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":0,"error":"NotRegistered"}`))
	}))
	defer srv.Close()

	p := NewPushService(srv.URL, "", discardLogger())
	err := p.Send(context.Background(), "stale", PushMessage{})
	assert.ErrorContains(t, err, "NotRegistered")
}

func TestPushSendAsyncReportsResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	results := make(chan bool, 1)
	p := NewPushService(srv.URL, "", discardLogger())
	p.OnResult(func(ok bool) { results <- ok })
	p.SendAsync("token", PushMessage{Title: "x"})

	select {
	case ok := <-results:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("no delivery result")
	}
}

func TestPushNotConfigured(t *testing.T) {
	p := NewPushService("", "", discardLogger())
	assert.False(t, p.IsConfigured())
	assert.Error(t, p.Send(context.Background(), "t", PushMessage{}))
}

func TestMailerSendsPasswordReset(t *testing.T) {
	m := NewMailer(MailerConfig{Host: "smtp.example.com", Port: "587", From: "noreply@example.com"}, discardLogger())
	var addr string
	var body string
	m.send = func(a string, _ smtp.Auth, from string, to []string, msg []byte) error {
		addr = a
		body = string(msg)
		assert.Equal(t, []string{"ana@example.com"}, to)
		return nil
	}

	require.NoError(t, m.SendPasswordReset("ana@example.com", "https://app/reset?token=abc"))
	assert.Equal(t, "smtp.example.com:587", addr)
	assert.Contains(t, body, "https://app/reset?token=abc")
	assert.Contains(t, body, "Subject: Redefinição de senha")
}

func TestMailerNotConfiguredDrops(t *testing.T) {
	m := NewMailer(MailerConfig{}, discardLogger())
	called := false
	m.send = func(string, smtp.Auth, string, []string, []byte) error {
		called = true
		return nil
	}
	require.NoError(t, m.SendPasswordReset("ana@example.com", "link"))
	assert.False(t, called)
}
