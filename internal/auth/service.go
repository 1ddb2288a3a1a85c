// Package auth is the email/password identity provider. Identities are
// stored in the document store; the process tracks one current identity
// and notifies listeners whenever it changes.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/harentsoaR/gestorpro/internal/store"
	"github.com/harentsoaR/gestorpro/internal/utils"
)

const IdentitiesCollection = "identities"

type Identity struct {
	UID         string `json:"uid"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
}

// ResetMailer delivers password reset links.
type ResetMailer interface {
	SendPasswordReset(to, link string) error
}

type Config struct {
	JWTSecret     []byte
	TokenTTL      time.Duration
	ResetTokenTTL time.Duration
	// ResetURL is the page that accepts ?token=...
	ResetURL string
}

type Service struct {
	docs   store.DocumentStore
	resets ResetStore
	mailer ResetMailer
	config Config
	log    *slog.Logger

	mu        sync.Mutex
	current   *Identity
	listeners map[int]func(*Identity)
	nextID    int
}

func NewService(docs store.DocumentStore, resets ResetStore, mailer ResetMailer, config Config, logger *slog.Logger) *Service {
	if config.TokenTTL == 0 {
		config.TokenTTL = 24 * time.Hour
	}
	if config.ResetTokenTTL == 0 {
		config.ResetTokenTTL = time.Hour
	}
	return &Service{
		docs:      docs,
		resets:    resets,
		mailer:    mailer,
		config:    config,
		log:       logger,
		listeners: make(map[int]func(*Identity)),
	}
}

// OnIdentityChange calls fn with the current identity right away and again
// after every sign-in or sign-out. A nil identity means signed out.
func (s *Service) OnIdentityChange(fn func(*Identity)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	current := copyIdentity(s.current)
	s.mu.Unlock()

	fn(current)
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Service) Current() *Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyIdentity(s.current)
}

func (s *Service) setCurrent(id *Identity) {
	s.mu.Lock()
	s.current = id
	fns := make([]func(*Identity), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(copyIdentity(id))
	}
}

// SignIn verifies the credentials, makes the identity current and returns
// a session token.
func (s *Service) SignIn(ctx context.Context, email, password string) (string, *Identity, error) {
	doc, err := s.lookup(ctx, email)
	if errors.Is(err, ErrUserNotFound) {
		return "", nil, ErrInvalidCredentials
	}
	if err != nil {
		return "", nil, err
	}
	if !utils.CheckPasswordHash(password, doc.String("passwordHash")) {
		return "", nil, ErrInvalidCredentials
	}

	id := identityFrom(doc)
	token, err := s.IssueToken(id.UID, nil)
	if err != nil {
		return "", nil, err
	}
	s.setCurrent(id)
	return token, copyIdentity(id), nil
}

// IssueToken signs a session token for uid.
func (s *Service) IssueToken(uid string, roles []string) (string, error) {
	token, err := utils.GenerateJWT(s.config.JWTSecret, uid, roles, s.config.TokenTTL)
	if errors.Is(err, utils.ErrJWTSecretMissing) {
		return "", ErrNotConfigured
	}
	return token, err
}

func (s *Service) ValidateToken(token string) (*utils.Claims, error) {
	return utils.ValidateJWT(s.config.JWTSecret, token)
}

func (s *Service) SignOut(ctx context.Context) error {
	s.setCurrent(nil)
	return nil
}

// CreateIdentity registers a new email/password identity without changing
// the current one.
func (s *Service) CreateIdentity(ctx context.Context, email, password, displayName string) (string, error) {
	email = normalizeEmail(email)
	if utils.ValidatePassword(password) != nil {
		return "", ErrWeakPassword
	}
	if _, err := s.lookup(ctx, email); err == nil {
		return "", ErrEmailInUse
	} else if !errors.Is(err, ErrUserNotFound) {
		return "", err
	}

	hash, err := utils.HashPassword(password)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	uid, err := s.docs.Add(ctx, IdentitiesCollection, bson.M{
		"email":        email,
		"passwordHash": hash,
		"displayName":  displayName,
		"createdAt":    time.Now().UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("create identity: %w", err)
	}
	s.log.Info("identity created", "uid", uid)
	return uid, nil
}

// Reauthenticate checks password against the current identity.
func (s *Service) Reauthenticate(ctx context.Context, password string) error {
	cur := s.Current()
	if cur == nil {
		return ErrNotSignedIn
	}
	doc, err := s.docs.Get(ctx, IdentitiesCollection, cur.UID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrInvalidCredentials
	}
	if err != nil {
		return fmt.Errorf("load identity: %w", err)
	}
	if !utils.CheckPasswordHash(password, doc.String("passwordHash")) {
		return ErrInvalidCredentials
	}
	return nil
}

// ChangePassword sets a new password for the current identity.
func (s *Service) ChangePassword(ctx context.Context, newPassword string) error {
	cur := s.Current()
	if cur == nil {
		return ErrNotSignedIn
	}
	return s.setPassword(ctx, cur.UID, newPassword)
}

// SendPasswordReset mails a single-use reset link.
func (s *Service) SendPasswordReset(ctx context.Context, email string) error {
	doc, err := s.lookup(ctx, email)
	if err != nil {
		return err
	}
	token := uuid.NewString()
	if err := s.resets.Save(ctx, token, doc.ID, s.config.ResetTokenTTL); err != nil {
		return err
	}
	link := s.config.ResetURL + "?token=" + token
	if err := s.mailer.SendPasswordReset(doc.String("email"), link); err != nil {
		return fmt.Errorf("deliver reset link: %w", err)
	}
	return nil
}

// ConfirmPasswordReset consumes token and sets the new password.
func (s *Service) ConfirmPasswordReset(ctx context.Context, token, newPassword string) error {
	if utils.ValidatePassword(newPassword) != nil {
		return ErrWeakPassword
	}
	uid, err := s.resets.Consume(ctx, token)
	if err != nil {
		return err
	}
	return s.setPassword(ctx, uid, newPassword)
}

func (s *Service) setPassword(ctx context.Context, uid, password string) error {
	if utils.ValidatePassword(password) != nil {
		return ErrWeakPassword
	}
	hash, err := utils.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.docs.Update(ctx, IdentitiesCollection, uid, bson.M{"passwordHash": hash}); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrUserNotFound
		}
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (s *Service) lookup(ctx context.Context, email string) (store.Document, error) {
	docs, err := s.docs.Query(ctx, IdentitiesCollection, store.Where("email", store.OpEqual, normalizeEmail(email)))
	if err != nil {
		return store.Document{}, fmt.Errorf("lookup identity: %w", err)
	}
	if len(docs) == 0 {
		return store.Document{}, ErrUserNotFound
	}
	return docs[0], nil
}

func identityFrom(doc store.Document) *Identity {
	return &Identity{UID: doc.ID, Email: doc.String("email"), DisplayName: doc.String("displayName")}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func copyIdentity(id *Identity) *Identity {
	if id == nil {
		return nil
	}
	c := *id
	return &c
}
