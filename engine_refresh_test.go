package authflow

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
)

func loginAlice(t *testing.T, h *harness) *LoginResult {
	t.Helper()
	res, err := h.engine.Login(context.Background(), "alice", "rightpass")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	return res
}

func TestRefreshUsesCurrentRoles(t *testing.T) {
	h := newHarness(t, alice())
	res := loginAlice(t, h)

	h.store.setRoles("alice", []Role{{Name: "VIEWER", Permissions: []string{"READ"}}})

	pair, err := h.engine.Refresh(context.Background(), res.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	_, perms, err := h.codec.ParseAccess(pair.AccessToken)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !reflect.DeepEqual(perms, []string{"READ"}) {
		t.Fatalf("expected permissions from current roles, got %v", perms)
	}
	if pair.RefreshToken == "" || pair.RefreshToken == res.RefreshToken {
		t.Fatal("expected a fresh refresh token")
	}
	exp, _ := h.codec.ExpiryOf(pair.AccessToken)
	if !exp.Equal(pair.ExpiresAt) {
		t.Fatalf("expiresAt %v does not match token expiry %v", pair.ExpiresAt, exp)
	}
}

func TestRefreshDeletedUserIsNotFound(t *testing.T) {
	h := newHarness(t, alice())
	res := loginAlice(t, h)

	h.store.remove("alice")

	_, err := h.engine.Refresh(context.Background(), res.RefreshToken)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRefreshMalformedToken(t *testing.T) {
	h := newHarness(t, alice())

	for _, tok := range []string{"", "not-a-token", "a.b.c"} {
		if _, err := h.engine.Refresh(context.Background(), tok); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("refresh(%q): expected ErrInvalidToken, got %v", tok, err)
		}
	}
}

func TestRefreshTamperedSignatureIsUnauthenticated(t *testing.T) {
	h := newHarness(t, alice())
	res := loginAlice(t, h)

	parts := strings.Split(res.RefreshToken, ".")
	if len(parts) != 3 {
		t.Fatalf("unexpected token shape %q", res.RefreshToken)
	}
	sig := []byte(parts[2])
	mid := len(sig) / 2
	if sig[mid] == 'A' {
		sig[mid] = 'B'
	} else {
		sig[mid] = 'A'
	}
	tampered := parts[0] + "." + parts[1] + "." + string(sig)

	_, err := h.engine.Refresh(context.Background(), tampered)
	if !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestRefreshForeignIssuerIsUnauthenticated(t *testing.T) {
	h := newHarness(t, alice())

	other := testConfig()
	other.JWT.PrivateKey = []byte("another-secret-another-secret-xx")
	foreign, err := New().WithConfig(other).WithIdentityStore(h.store).WithCredentialVerifier(h.store).Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(foreign.Close)

	res, err := foreign.Login(context.Background(), "alice", "rightpass")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := h.engine.Refresh(context.Background(), res.RefreshToken); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

// Refresh does not rotate: the consumed token keeps working until expiry.
func TestRefreshDoesNotRevokePriorToken(t *testing.T) {
	h := newHarness(t, alice())
	res := loginAlice(t, h)
	ctx := context.Background()

	if _, err := h.engine.Refresh(ctx, res.RefreshToken); err != nil {
		t.Fatalf("first refresh: %v", err)
	}
	if _, err := h.engine.Refresh(ctx, res.RefreshToken); err != nil {
		t.Fatalf("second refresh with same token: %v", err)
	}
	if got := h.engine.MetricsSnapshot().Counters[MetricRefreshSuccess]; got != 2 {
		t.Fatalf("expected 2 refresh successes, got %d", got)
	}
}

func TestRefreshStoreFailureIsUnavailable(t *testing.T) {
	h := newHarness(t, alice())
	res := loginAlice(t, h)

	h.store.fail = errors.New("timeout")
	_, err := h.engine.Refresh(context.Background(), res.RefreshToken)
	if !errors.Is(err, ErrCollaboratorUnavailable) {
		t.Fatalf("expected ErrCollaboratorUnavailable, got %v", err)
	}
}

func TestRefreshAuditsFailureReason(t *testing.T) {
	h := newHarness(t, alice())
	_, _ = h.engine.Refresh(context.Background(), "garbage")

	events := h.events(t)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].EventType != auditEventRefreshFailure || events[0].Error != string(reasonMalformedToken) {
		t.Fatalf("unexpected event %+v", events[0])
	}
}

// principalLessStore answers LoadByUsername with neither a principal nor an
// error.
type principalLessStore struct {
	*fakeStore
}

func (principalLessStore) LoadByUsername(context.Context, string) (*Principal, error) {
	return nil, nil
}

func TestStoreReturningNoPrincipalIsUnavailable(t *testing.T) {
	store := principalLessStore{newFakeStore(alice())}
	e, err := New().WithConfig(testConfig()).WithIdentityStore(store).WithCredentialVerifier(store).Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(e.Close)
	codec := testCodec(t)

	refresh, err := codec.GenerateRefresh("alice")
	if err != nil {
		t.Fatalf("refresh token: %v", err)
	}
	if _, err := e.Refresh(context.Background(), refresh); !errors.Is(err, ErrCollaboratorUnavailable) {
		t.Fatalf("refresh: expected ErrCollaboratorUnavailable, got %v", err)
	}

	access, err := codec.GenerateAccess("alice", []string{"READ"})
	if err != nil {
		t.Fatalf("access token: %v", err)
	}
	if _, err := e.Authenticate(context.Background(), access); !errors.Is(err, ErrCollaboratorUnavailable) {
		t.Fatalf("authenticate: expected ErrCollaboratorUnavailable, got %v", err)
	}
}
