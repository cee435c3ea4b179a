package authflow

import (
	"context"
	"errors"
	"sync"
	"testing"

	internalaudit "github.com/MrEthical07/authflow/internal/audit"
	"github.com/MrEthical07/authflow/jwt"
)

var testSigningKey = []byte("0123456789abcdef0123456789abcdef")

type fakeUser struct {
	principal Principal
	password  string
	mfa       bool
	roles     []Role
	mfaProf   MFAProfile
	profile   UserProfile
}

// fakeStore is an in-memory IdentityStore and CredentialVerifier.
type fakeStore struct {
	mu    sync.Mutex
	users map[string]*fakeUser
	fail  error
}

func newFakeStore(users ...*fakeUser) *fakeStore {
	s := &fakeStore{users: map[string]*fakeUser{}}
	for _, u := range users {
		s.users[u.principal.Username] = u
	}
	return s
}

func (s *fakeStore) get(username string) (*fakeUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return nil, s.fail
	}
	u, ok := s.users[username]
	if !ok {
		return nil, ErrNotFound
	}
	return u, nil
}

func (s *fakeStore) setRoles(username string, roles []Role) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[username].roles = roles
}

func (s *fakeStore) remove(username string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, username)
}

func (s *fakeStore) Authenticate(_ context.Context, username, password string) (*Principal, error) {
	u, err := s.get(username)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrUnauthenticated
	}
	if err != nil {
		return nil, err
	}
	if u.password != password {
		return nil, ErrUnauthenticated
	}
	p := u.principal
	return &p, nil
}

func (s *fakeStore) LoadByUsername(_ context.Context, username string) (*Principal, error) {
	u, err := s.get(username)
	if err != nil {
		return nil, err
	}
	p := u.principal
	return &p, nil
}

func (s *fakeStore) IsMFAEnabled(_ context.Context, username string) (bool, error) {
	u, err := s.get(username)
	if err != nil {
		return false, err
	}
	return u.mfa, nil
}

func (s *fakeStore) Roles(_ context.Context, username string) ([]Role, error) {
	u, err := s.get(username)
	if err != nil {
		return nil, err
	}
	return append([]Role(nil), u.roles...), nil
}

func (s *fakeStore) MFAProfile(_ context.Context, username string) (*MFAProfile, error) {
	u, err := s.get(username)
	if err != nil {
		return nil, err
	}
	m := u.mfaProf
	return &m, nil
}

func (s *fakeStore) UserProfile(_ context.Context, username string) (*UserProfile, error) {
	u, err := s.get(username)
	if err != nil {
		return nil, err
	}
	p := u.profile
	return &p, nil
}

type sentCode struct {
	destination string
	principalID string
}

// fakeOTP accepts "424242" for any principal it has sent to.
type fakeOTP struct {
	mu        sync.Mutex
	sent      []sentCode
	sendErr   error
	verifyErr error
}

const fakeOTPCode = "424242"

func (f *fakeOTP) Send(_ context.Context, destination, principalID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, sentCode{destination: destination, principalID: principalID})
	return nil
}

func (f *fakeOTP) Verify(_ context.Context, code, principalID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.verifyErr != nil {
		return false, f.verifyErr
	}
	if code != fakeOTPCode {
		return false, nil
	}
	for _, s := range f.sent {
		if s.principalID == principalID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeOTP) sends() []sentCode {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentCode(nil), f.sent...)
}

type harness struct {
	engine *Engine
	store  *fakeStore
	phone  *fakeOTP
	email  *fakeOTP
	codec  *jwt.Manager
	sink   *internalaudit.ChannelSink
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.SigningMethod = jwt.MethodHS256
	cfg.JWT.PrivateKey = testSigningKey
	cfg.JWT.Issuer = "authflow-test"
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	return cfg
}

func testCodec(t *testing.T) *jwt.Manager {
	t.Helper()
	c := testConfig()
	m, err := jwt.NewManager(c.jwtConfig())
	if err != nil {
		t.Fatalf("codec: %v", err)
	}
	return m
}

func newHarness(t *testing.T, users ...*fakeUser) *harness {
	t.Helper()
	store := newFakeStore(users...)
	phone := &fakeOTP{}
	email := &fakeOTP{}
	sink := NewChannelSink(256)

	cfg := testConfig()
	cfg.Audit.Enabled = true
	cfg.Audit.DropIfFull = false

	engine, err := New().
		WithConfig(cfg).
		WithIdentityStore(store).
		WithCredentialVerifier(store).
		WithPhoneCodes(phone).
		WithEmailCodes(email).
		WithAuditSink(sink).
		Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(engine.Close)

	return &harness{engine: engine, store: store, phone: phone, email: email, codec: testCodec(t), sink: sink}
}

// events closes the engine and returns everything it audited.
func (h *harness) events(t *testing.T) []AuditEvent {
	t.Helper()
	h.engine.Close()
	var out []AuditEvent
	for {
		select {
		case e := <-h.sink.Events():
			out = append(out, e)
		default:
			return out
		}
	}
}

func alice() *fakeUser {
	return &fakeUser{
		principal: Principal{ID: "u-alice", Username: "alice"},
		password:  "rightpass",
		roles:     []Role{{Name: "ADMIN", Permissions: []string{"READ", "WRITE"}}},
		profile: UserProfile{
			ID:       "u-alice",
			Username: "alice",
			Email:    "alice@example.com",
			Roles:    []string{"ADMIN"},
			Approved: true,
		},
	}
}

func mfaBob(secret string) *fakeUser {
	return &fakeUser{
		principal: Principal{ID: "u-bob", Username: "bob"},
		password:  "bobpass",
		mfa:       true,
		roles: []Role{
			{Name: "USER", Permissions: []string{"READ"}},
			{Name: "AUDITOR", Permissions: []string{"READ", "AUDIT"}},
		},
		mfaProf: MFAProfile{
			Enabled:    true,
			TOTPSecret: secret,
			Phone:      "+15550001111",
			Email:      "bob@example.com",
		},
		profile: UserProfile{ID: "u-bob", Username: "bob", MFAEnabled: true},
	}
}
