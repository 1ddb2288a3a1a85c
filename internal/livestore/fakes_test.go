package livestore

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/harentsoaR/gestorpro/internal/auth"
	"github.com/harentsoaR/gestorpro/internal/metrics"
	"github.com/harentsoaR/gestorpro/internal/models"
	"github.com/harentsoaR/gestorpro/internal/services"
	"github.com/harentsoaR/gestorpro/internal/store"
	"github.com/harentsoaR/gestorpro/internal/store/memstore"
)

// countingStore records every Subscribe and every Close.
type countingStore struct {
	store.DocumentStore

	mu            sync.Mutex
	opened        map[string]int
	closed        map[string]int
	subs          []*countingSub
	failSubscribe map[string]error
}

func newCountingStore(inner store.DocumentStore) *countingStore {
	return &countingStore{
		DocumentStore: inner,
		opened:        make(map[string]int),
		closed:        make(map[string]int),
		failSubscribe: make(map[string]error),
	}
}

func (c *countingStore) Subscribe(ctx context.Context, coll string, filter store.Filter) (store.Subscription, error) {
	c.mu.Lock()
	err := c.failSubscribe[coll]
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	sub, err := c.DocumentStore.Subscribe(ctx, coll, filter)
	if err != nil {
		return nil, err
	}
	cs := &countingSub{Subscription: sub, parent: c, coll: coll}
	c.mu.Lock()
	c.opened[coll]++
	c.subs = append(c.subs, cs)
	c.mu.Unlock()
	return cs, nil
}

func (c *countingStore) openedFor(coll string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opened[coll]
}

func (c *countingStore) totals() (opened, closed int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, n := range c.opened {
		opened += n
	}
	for _, n := range c.closed {
		closed += n
	}
	return opened, closed
}

func (c *countingStore) live() int {
	opened, closed := c.totals()
	return opened - closed
}

// maxCloses is the highest number of Close calls any one subscription got.
func (c *countingStore) maxCloses() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	most := 0
	for _, s := range c.subs {
		if s.closes > most {
			most = s.closes
		}
	}
	return most
}

type countingSub struct {
	store.Subscription
	parent *countingStore
	coll   string
	closes int
}

func (s *countingSub) Close() error {
	s.parent.mu.Lock()
	s.parent.closed[s.coll]++
	s.closes++
	s.parent.mu.Unlock()
	return s.Subscription.Close()
}

// fakeAuth is an AuthProvider without password hashing.
type fakeAuth struct {
	mu        sync.Mutex
	current   *auth.Identity
	listeners []func(*auth.Identity)
	passwords map[string]string
	uids      map[string]string
}

func newFakeAuth() *fakeAuth {
	return &fakeAuth{passwords: make(map[string]string), uids: make(map[string]string)}
}

func (a *fakeAuth) OnIdentityChange(fn func(*auth.Identity)) func() {
	a.mu.Lock()
	a.listeners = append(a.listeners, fn)
	cur := a.current
	a.mu.Unlock()
	fn(cur)
	return func() {}
}

func (a *fakeAuth) set(id *auth.Identity) {
	a.mu.Lock()
	a.current = id
	fns := append([]func(*auth.Identity){}, a.listeners...)
	a.mu.Unlock()
	for _, fn := range fns {
		fn(id)
	}
}

func (a *fakeAuth) currentUID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == nil {
		return ""
	}
	return a.current.UID
}

func (a *fakeAuth) SignIn(_ context.Context, email, password string) (string, *auth.Identity, error) {
	a.mu.Lock()
	pw, ok := a.passwords[email]
	uid := a.uids[email]
	a.mu.Unlock()
	if !ok || pw != password {
		return "", nil, auth.ErrInvalidCredentials
	}
	id := &auth.Identity{UID: uid, Email: email}
	a.set(id)
	return "token-" + uid, id, nil
}

func (a *fakeAuth) SignOut(context.Context) error {
	a.set(nil)
	return nil
}

func (a *fakeAuth) SendPasswordReset(_ context.Context, email string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.uids[email]; !ok {
		return auth.ErrUserNotFound
	}
	return nil
}

func (a *fakeAuth) ConfirmPasswordReset(_ context.Context, token, _ string) error {
	if token != "good" {
		return auth.ErrInvalidResetToken
	}
	return nil
}

func (a *fakeAuth) CreateIdentity(_ context.Context, email, password, _ string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.uids[email]; ok {
		return "", auth.ErrEmailInUse
	}
	uid := "uid-" + email
	a.uids[email] = uid
	a.passwords[email] = password
	return uid, nil
}

func (a *fakeAuth) Reauthenticate(_ context.Context, password string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == nil {
		return auth.ErrNotSignedIn
	}
	if a.passwords[a.current.Email] != password {
		return auth.ErrInvalidCredentials
	}
	return nil
}

func (a *fakeAuth) ChangePassword(_ context.Context, pw string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == nil {
		return auth.ErrNotSignedIn
	}
	a.passwords[a.current.Email] = pw
	return nil
}

type recordingFeedback struct {
	mu       sync.Mutex
	tones    int
	patterns [][]time.Duration
	panics   bool
}

func (f *recordingFeedback) Tone() error {
	if f.panics {
		panic("audio blocked")
	}
	f.mu.Lock()
	f.tones++
	f.mu.Unlock()
	return nil
}

func (f *recordingFeedback) Vibrate(p []time.Duration) error {
	f.mu.Lock()
	f.patterns = append(f.patterns, p)
	f.mu.Unlock()
	return nil
}

type recordingPusher struct {
	mu   sync.Mutex
	sent map[string]services.PushMessage
}

func (p *recordingPusher) SendAsync(token string, msg services.PushMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sent == nil {
		p.sent = make(map[string]services.PushMessage)
	}
	p.sent[token] = msg
}

type fixture struct {
	t        require.TestingT
	mem      *memstore.Store
	docs     *countingStore
	auth     *fakeAuth
	feedback *recordingFeedback
	pusher   *recordingPusher
	store    *Store

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newFixture builds a Store over memory fakes without starting it.
func newFixture(t require.TestingT, opts Options) *fixture {
	mem := memstore.New()
	f := &fixture{
		t:        t,
		mem:      mem,
		docs:     newCountingStore(mem),
		auth:     newFakeAuth(),
		feedback: &recordingFeedback{},
		pusher:   &recordingPusher{},
	}
	f.store = New(Deps{
		Docs:     f.docs,
		Auth:     f.auth,
		Push:     f.pusher,
		Feedback: f.feedback,
		Metrics:  metrics.NewMetrics(prometheus.NewRegistry()),
		Logger:   discardLogger(),
	}, opts)
	return f
}

// start runs the loop and waits for the signed-out settings subscription.
func (f *fixture) start() *fixture {
	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	f.done = make(chan struct{})
	go func() {
		_ = f.store.Run(ctx)
		close(f.done)
	}()
	f.eventually(func() bool {
		return f.store.State() == StateSignedOut && f.docs.live() == 1
	})
	return f
}

func (f *fixture) stop() {
	f.once.Do(func() {
		if f.cancel != nil {
			f.cancel()
			<-f.done
		}
	})
}

func (f *fixture) eventually(cond func() bool) {
	require.Eventually(f.t, cond, 3*time.Second, 5*time.Millisecond)
}

// addUser creates an identity with password "secret1" and its profile.
func (f *fixture) addUser(u models.User) string {
	uid, err := f.auth.CreateIdentity(context.Background(), u.Email, "secret1", u.Name)
	require.NoError(f.t, err)
	fields, err := u.Fields()
	require.NoError(f.t, err)
	require.NoError(f.t, f.mem.Set(context.Background(), UsersCollection, uid, fields, false))
	return uid
}

func (f *fixture) signIn(email string) string {
	_, id, err := f.auth.SignIn(context.Background(), email, "secret1")
	require.NoError(f.t, err)
	f.eventually(func() bool {
		sess := f.store.Session()
		return f.store.State() == StateActive && sess != nil && sess.User.ID == id.UID
	})
	return id.UID
}

func (f *fixture) signOut() {
	require.NoError(f.t, f.auth.SignOut(context.Background()))
	f.eventually(func() bool {
		return f.store.State() == StateSignedOut && f.docs.live() == 1
	})
}

func (f *fixture) add(coll string, fields bson.M) string {
	id, err := f.mem.Add(context.Background(), coll, fields)
	require.NoError(f.t, err)
	return id
}

func masterUser(email string) models.User {
	return models.User{
		Name:        "Master",
		Email:       email,
		Roles:       []string{"master"},
		Permissions: map[string]string{"appointments": "edit", "pendencies": "edit", "financial": "edit", "settings": "edit", "users": "edit"},
	}
}
