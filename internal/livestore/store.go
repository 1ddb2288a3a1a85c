// Package livestore owns the live session: it mirrors the remote
// collections the signed-in user may see, turns incoming change batches into
// notifications and writes mutations through to the document store.
package livestore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/harentsoaR/gestorpro/internal/auth"
	"github.com/harentsoaR/gestorpro/internal/metrics"
	"github.com/harentsoaR/gestorpro/internal/models"
	"github.com/harentsoaR/gestorpro/internal/permission"
	"github.com/harentsoaR/gestorpro/internal/services"
	"github.com/harentsoaR/gestorpro/internal/store"
)

const UsersCollection = "users"

type State uint8

const (
	StateSignedOut State = iota
	StateInitializing
	StateActive
	StateReinitializing
)

var stateNames = [...]string{"signed_out", "initializing", "active", "reinitializing"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// AuthProvider is the identity service the session follows.
type AuthProvider interface {
	OnIdentityChange(fn func(*auth.Identity)) (unsubscribe func())
	SignIn(ctx context.Context, email, password string) (string, *auth.Identity, error)
	SignOut(ctx context.Context) error
	SendPasswordReset(ctx context.Context, email string) error
	ConfirmPasswordReset(ctx context.Context, token, newPassword string) error
	CreateIdentity(ctx context.Context, email, password, displayName string) (string, error)
	Reauthenticate(ctx context.Context, password string) error
	ChangePassword(ctx context.Context, newPassword string) error
}

// Pusher delivers background push messages to a device token.
type Pusher interface {
	SendAsync(token string, msg services.PushMessage)
}

type Deps struct {
	Docs     store.DocumentStore
	Auth     AuthProvider
	Push     Pusher
	Feedback Feedback
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

type Options struct {
	NotificationDismiss   time.Duration
	DefaultMasterPassword string
	DefaultUserPassword   string
	PublicURL             string
}

// Session is the signed-in identity as derived from its profile document.
type Session struct {
	User            models.User `json:"user"`
	LinkedRequester string      `json:"linkedRequester,omitempty"`
}

func (s Session) Subject() permission.Subject {
	return permission.Subject{ID: s.User.ID, Roles: s.User.RoleSet(), Permissions: s.User.PermissionMap()}
}

type Store struct {
	docs     store.DocumentStore
	auth     AuthProvider
	push     Pusher
	feedback Feedback
	metrics  *metrics.Metrics
	log      *slog.Logger
	opts     Options

	identities chan *auth.Identity
	deliveries chan delivery

	// Owned by the Run goroutine.
	gen     uint64
	handles []*handle
	uid     string

	mu           sync.RWMutex
	state        State
	session      *Session
	settings     models.Settings
	mirrors      map[permission.Resource][]store.Document
	warnings     []string
	notification *Notification
	pages        map[string]bool
	dismiss      *time.Timer
	notifySeq    uint64

	lmu       sync.Mutex
	listeners map[chan Event]struct{}
}

func New(deps Deps, opts Options) *Store {
	if opts.DefaultMasterPassword == "" {
		opts.DefaultMasterPassword = "002219"
	}
	if opts.DefaultUserPassword == "" {
		opts.DefaultUserPassword = "123mudar"
	}
	s := &Store{
		docs:       deps.Docs,
		auth:       deps.Auth,
		push:       deps.Push,
		feedback:   deps.Feedback,
		metrics:    deps.Metrics,
		log:        deps.Logger,
		opts:       opts,
		identities: make(chan *auth.Identity, 16),
		deliveries: make(chan delivery),
		settings:   models.DefaultSettings(opts.DefaultMasterPassword),
		mirrors:    make(map[permission.Resource][]store.Document),
		pages:      newPages(),
		listeners:  make(map[chan Event]struct{}),
	}
	if s.feedback == nil {
		s.feedback = streamFeedback{s}
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	return s
}

// Run follows the auth provider until ctx is done. Identity events and
// change batches are handled one at a time; every open subscription is
// closed before Run returns.
func (s *Store) Run(ctx context.Context) error {
	unsubscribe := s.auth.OnIdentityChange(func(id *auth.Identity) {
		select {
		case s.identities <- id:
		case <-ctx.Done():
		}
	})
	defer unsubscribe()
	defer s.teardown()

	for {
		select {
		case <-ctx.Done():
			return nil
		case id := <-s.identities:
			s.handleIdentity(ctx, id)
		case d := <-s.deliveries:
			s.handleDelivery(ctx, d)
		}
	}
}

func (s *Store) handleIdentity(ctx context.Context, id *auth.Identity) {
	if id == nil {
		if s.State() == StateSignedOut && len(s.handles) > 0 {
			return
		}
		s.teardown()
		s.enterSignedOut(ctx)
		return
	}
	if s.uid == id.UID && s.State() == StateActive {
		return
	}

	if s.State() == StateActive {
		s.setState(StateReinitializing)
	}
	s.teardown()
	s.setState(StateInitializing)

	if err := s.startSession(ctx, id); err != nil {
		s.log.Error("session setup failed, signing out", "uid", id.UID, "error", err)
		s.teardown()
		s.enterSignedOut(ctx)
		go func() {
			if err := s.auth.SignOut(context.Background()); err != nil {
				s.log.Error("sign out after failed setup", "error", err)
			}
		}()
		return
	}
	s.setState(StateActive)
}

func (s *Store) startSession(ctx context.Context, id *auth.Identity) error {
	user, err := s.loadProfile(ctx, id)
	if err != nil {
		return err
	}

	settings := models.DefaultSettings(s.opts.DefaultMasterPassword)
	doc, err := s.docs.Get(ctx, models.SettingsCollection, models.SettingsID)
	switch {
	case err == nil:
		if settings, err = models.SettingsFromDocument(doc, settings); err != nil {
			return err
		}
	case !errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("load settings: %w", err)
	}

	sess := Session{User: user, LinkedRequester: settings.RequesterName(user.RequesterID)}

	s.mu.Lock()
	s.session = &sess
	s.settings = settings
	s.warnings = nil
	s.mu.Unlock()
	s.uid = id.UID

	if err := s.open(ctx, &handle{kind: kindProfile, collection: UsersCollection},
		store.Where(store.IDField, store.OpEqual, id.UID)); err != nil {
		return err
	}
	canCreate := user.PermissionMap().Level(permission.FeatureSettings) == permission.Edit
	if err := s.open(ctx, &handle{kind: kindSettings, collection: models.SettingsCollection, createSettings: canCreate, backfill: true},
		store.Where(store.IDField, store.OpEqual, models.SettingsID)); err != nil {
		return err
	}

	subject := sess.Subject()
	for _, r := range permission.Resources {
		scope := permission.ResolveScope(subject, r, sess.LinkedRequester)
		if scope.Gap {
			gap := &Error{Kind: PermissionGap, Op: "scope", Resource: r.String(),
				Err: fmt.Errorf("client %s has no linked requester", id.UID)}
			s.log.Warn("no documents will be shown", "error", gap)
			s.mu.Lock()
			s.warnings = append(s.warnings, gap.Error())
			s.mu.Unlock()
		}
		if !scope.Subscribe {
			continue
		}
		if err := s.open(ctx, &handle{kind: kindResource, resource: r, collection: r.Collection()}, scope.Filter); err != nil {
			return err
		}
		s.log.Debug("resource subscribed", "collection", r.Collection(), "filter", scope.Filter.String())
	}
	return nil
}

// loadProfile returns the user's profile, persisting a default inspector
// profile when none exists.
func (s *Store) loadProfile(ctx context.Context, id *auth.Identity) (models.User, error) {
	doc, err := s.docs.Get(ctx, UsersCollection, id.UID)
	if err == nil {
		return models.UserFromDocument(doc)
	}
	if !errors.Is(err, store.ErrNotFound) {
		return models.User{}, fmt.Errorf("load profile: %w", err)
	}

	s.log.Warn("profile not found, creating default", "uid", id.UID)
	user := models.DefaultUser(id.DisplayName, id.Email)
	fields, err := user.Fields()
	if err != nil {
		return models.User{}, err
	}
	if err := s.docs.Set(ctx, UsersCollection, id.UID, fields, false); err != nil {
		return models.User{}, fmt.Errorf("create default profile: %w", err)
	}
	user.ID = id.UID
	return user, nil
}

func (s *Store) enterSignedOut(ctx context.Context) {
	s.uid = ""
	s.mu.Lock()
	s.session = nil
	s.warnings = nil
	for _, r := range permission.Resources {
		s.mirrors[r] = []store.Document{}
	}
	s.mu.Unlock()
	s.setState(StateSignedOut)

	err := s.open(ctx, &handle{kind: kindSettings, collection: models.SettingsCollection},
		store.Where(store.IDField, store.OpEqual, models.SettingsID))
	if err != nil {
		s.log.Error("settings subscription for login failed", "error", err)
	}
}

func (s *Store) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	s.metrics.SessionTransitions.WithLabelValues(state.String()).Inc()
	s.publish(Event{Type: EventSession, State: state.String()})
}

func (s *Store) handleDelivery(ctx context.Context, d delivery) {
	h, b := d.h, d.batch
	if h.gen != s.gen || h.failed {
		return
	}
	if b.Err != nil {
		h.failed = true
		s.metrics.SubscriptionErrors.WithLabelValues(h.collection).Inc()
		err := &Error{Kind: SubscriptionError, Op: "subscribe", Resource: h.collection, Err: b.Err}
		s.log.Error("subscription failed, mirror keeps its last value", "error", err)
		s.mu.Lock()
		s.warnings = append(s.warnings, err.Error())
		s.mu.Unlock()
		return
	}
	s.metrics.ChangeBatches.WithLabelValues(h.collection).Inc()

	first := !h.delivered
	h.delivered = true

	switch h.kind {
	case kindProfile:
		s.applyProfile(b)
	case kindSettings:
		s.applySettings(ctx, h, b)
	case kindResource:
		s.applyResource(h, b, first)
	}
}

func (s *Store) applyProfile(b store.Batch) {
	doc, ok := findDoc(b.Docs, s.uid)
	if !ok {
		return
	}
	user, err := models.UserFromDocument(doc)
	if err != nil {
		s.log.Error("decode profile", "uid", s.uid, "error", err)
		return
	}
	s.mu.Lock()
	sess := Session{User: user}
	if s.session != nil {
		sess.LinkedRequester = s.session.LinkedRequester
	}
	s.session = &sess
	s.mu.Unlock()
}

func (s *Store) applySettings(ctx context.Context, h *handle, b store.Batch) {
	defaults := models.DefaultSettings(s.opts.DefaultMasterPassword)
	doc, ok := findDoc(b.Docs, models.SettingsID)
	if !ok {
		if h.createSettings {
			fields, err := models.Encode(defaults)
			if err == nil {
				err = s.docs.Set(ctx, models.SettingsCollection, models.SettingsID, fields, false)
			}
			if err != nil {
				s.log.Error("create default settings", "error", err)
			}
		}
		s.mu.Lock()
		s.settings = defaults
		s.mu.Unlock()
		return
	}

	settings, err := models.SettingsFromDocument(doc, defaults)
	if err != nil {
		s.log.Error("decode settings", "error", err)
		return
	}
	if h.backfill && doc.String("masterPassword") == "" {
		err := s.docs.Set(ctx, models.SettingsCollection, models.SettingsID,
			bson.M{"masterPassword": s.opts.DefaultMasterPassword}, true)
		if err != nil {
			s.log.Error("back-fill master password", "error", err)
		}
	}
	s.mu.Lock()
	s.settings = settings
	s.mu.Unlock()
}

func (s *Store) applyResource(h *handle, b store.Batch, first bool) {
	s.mu.Lock()
	prev := s.mirrors[h.resource]
	s.mirrors[h.resource] = b.Docs
	s.mu.Unlock()

	if first || b.Initial {
		return
	}

	var out Outcome
	switch h.resource {
	case permission.Appointments:
		out = DiffAppointments(prev, b.Changes)
	case permission.Pendencies:
		out = DiffPendencies(b.Changes)
	case permission.Financials, permission.Accounts, permission.ThirdParties:
		out = DiffGeneric(b.Changes)
	case permission.Users:
		return
	}
	if !out.Notify {
		return
	}
	if len(out.Pages) > 0 {
		s.flagPages(out.Pages...)
	}
	s.raise(out.Message)
}

func findDoc(docs []store.Document, id string) (store.Document, bool) {
	for _, d := range docs {
		if d.ID == id {
			return d, true
		}
	}
	return store.Document{}, false
}

func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Store) Session() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return nil
	}
	sess := *s.session
	return &sess
}

func (s *Store) Settings() models.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// Mirror returns a copy of the resource's collection mirror.
func (s *Store) Mirror(r permission.Resource) []store.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneDocs(s.mirrors[r])
}

func (s *Store) Notification() *Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.notification == nil {
		return nil
	}
	n := *s.notification
	return &n
}

func (s *Store) Pages() map[string]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyPages(s.pages)
}

// View is a read-only snapshot of everything the session holds.
type View struct {
	State        State                       `json:"state"`
	Session      *Session                    `json:"session"`
	Settings     models.Settings             `json:"settings"`
	Collections  map[string][]store.Document `json:"collections"`
	Notification *Notification               `json:"notification"`
	Pages        map[string]bool             `json:"pages"`
	Warnings     []string                    `json:"warnings,omitempty"`
}

func (s *Store) View() View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v := View{
		State:       s.state,
		Settings:    s.settings,
		Collections: make(map[string][]store.Document, len(permission.Resources)),
		Pages:       copyPages(s.pages),
		Warnings:    append([]string(nil), s.warnings...),
	}
	if s.session != nil {
		sess := *s.session
		v.Session = &sess
	}
	if s.notification != nil {
		n := *s.notification
		v.Notification = &n
	}
	for _, r := range permission.Resources {
		v.Collections[r.Collection()] = cloneDocs(s.mirrors[r])
	}
	return v
}

func cloneDocs(docs []store.Document) []store.Document {
	out := make([]store.Document, len(docs))
	for i, d := range docs {
		out[i] = d.Clone()
	}
	return out
}
