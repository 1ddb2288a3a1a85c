package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

type PushMessage struct {
	Title string
	Body  string
	URL   string
}

// PushService delivers background messages to a device token through an
// FCM-compatible HTTP endpoint. The payload travels in "data" so the service
// worker builds the system notification itself.
type PushService struct {
	endpoint  string
	serverKey string
	client    *http.Client
	log       *slog.Logger
	onResult  func(success bool)
}

func NewPushService(endpoint, serverKey string, logger *slog.Logger) *PushService {
	return &PushService{
		endpoint:  endpoint,
		serverKey: serverKey,
		client:    &http.Client{Timeout: 10 * time.Second},
		log:       logger,
	}
}

// OnResult registers a hook called after every delivery attempt.
func (s *PushService) OnResult(fn func(success bool)) { s.onResult = fn }

func (s *PushService) IsConfigured() bool {
	return s != nil && s.endpoint != ""
}

// Send posts one message and reports the provider's verdict.
func (s *PushService) Send(ctx context.Context, token string, msg PushMessage) error {
	if !s.IsConfigured() {
		return fmt.Errorf("push not configured")
	}
	postBody, err := json.Marshal(map[string]any{
		"to": token,
		"data": map[string]string{
			"title": msg.Title,
			"body":  msg.Body,
			"url":   msg.URL,
		},
	})
	if err != nil {
		return fmt.Errorf("marshal push payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewBuffer(postBody))
	if err != nil {
		return fmt.Errorf("build push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.serverKey != "" {
		req.Header.Set("Authorization", "key="+s.serverKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send push: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		Success int    `json:"success"`
		Error   string `json:"error"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&result)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("push endpoint returned %d: %s", resp.StatusCode, result.Error)
	}
	if result.Error != "" {
		return fmt.Errorf("push rejected: %s", result.Error)
	}
	return nil
}

// SendAsync delivers in a goroutine so callers never wait on the provider.
func (s *PushService) SendAsync(token string, msg PushMessage) {
	if !s.IsConfigured() || token == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		err := s.Send(ctx, token, msg)
		if s.onResult != nil {
			s.onResult(err == nil)
		}
		if err != nil {
			s.log.Warn("push delivery failed", "error", err)
			return
		}
		s.log.Debug("push delivered", "title", msg.Title)
	}()
}
