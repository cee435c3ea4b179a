package authflow

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"testing"
	"time"
)

func TestFlattenPermissions(t *testing.T) {
	tests := []struct {
		name  string
		roles []Role
		want  []string
	}{
		{"nil roles", nil, []string{}},
		{"role without permissions", []Role{{Name: "EMPTY"}}, []string{}},
		{"single", []Role{{Name: "A", Permissions: []string{"READ"}}}, []string{"READ"}},
		{
			"duplicates kept",
			[]Role{
				{Name: "A", Permissions: []string{"READ", "WRITE"}},
				{Name: "B", Permissions: []string{"READ"}},
			},
			[]string{"READ", "READ", "WRITE"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := FlattenPermissions(tc.roles)
			if got == nil {
				t.Fatal("result must not be nil")
			}
			sort.Strings(got)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
		})
	}
}

// stubCodec fails at a chosen step.
type stubCodec struct {
	failAccess  bool
	failRefresh bool
	failExpiry  bool
	exp         time.Time
	accessPerms []string
}

func (s *stubCodec) GenerateAccess(subject string, perms []string) (string, error) {
	if s.failAccess {
		return "", errors.New("signer offline")
	}
	s.accessPerms = perms
	return "access:" + subject, nil
}

func (s *stubCodec) GenerateRefresh(subject string) (string, error) {
	if s.failRefresh {
		return "", errors.New("signer offline")
	}
	return "refresh:" + subject, nil
}

func (s *stubCodec) ExpiryOf(string) (time.Time, error) {
	if s.failExpiry {
		return time.Time{}, errors.New("no exp")
	}
	return s.exp, nil
}

func (s *stubCodec) SubjectOf(token string) (string, error) { return "", ErrInvalidToken }

func (s *stubCodec) ValidateRefresh(string, string) bool { return false }

func (s *stubCodec) ParseAccess(string) (string, []string, error) { return "", nil, ErrInvalidToken }

func engineWithCodec(t *testing.T, codec TokenCodec) *Engine {
	t.Helper()
	store := newFakeStore(alice())
	e, err := New().
		WithConfig(testConfig()).
		WithIdentityStore(store).
		WithCredentialVerifier(store).
		WithTokenCodec(codec).
		Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	t.Cleanup(e.Close)
	return e
}

func TestIssueTokenPairReadsExpiryFromCodec(t *testing.T) {
	exp := time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC)
	codec := &stubCodec{exp: exp}
	e := engineWithCodec(t, codec)

	pair, err := e.issueTokenPair(Principal{ID: "u-alice", Username: "alice"}, []Role{{Name: "R", Permissions: []string{"X"}}})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if pair.AccessToken != "access:alice" || pair.RefreshToken != "refresh:alice" {
		t.Fatalf("unexpected pair %+v", pair)
	}
	if !pair.ExpiresAt.Equal(exp) {
		t.Fatalf("expected expiry %v, got %v", exp, pair.ExpiresAt)
	}
	if !reflect.DeepEqual(codec.accessPerms, []string{"X"}) {
		t.Fatalf("unexpected embedded permissions %v", codec.accessPerms)
	}
}

func TestIssuePendingTokenHasNoPermissionsOrRefresh(t *testing.T) {
	codec := &stubCodec{exp: time.Now().Add(time.Minute)}
	e := engineWithCodec(t, codec)

	pair, err := e.issuePendingToken(Principal{ID: "u-alice", Username: "alice"})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if pair.RefreshToken != "" {
		t.Fatal("pending token must not carry a refresh token")
	}
	if codec.accessPerms == nil || len(codec.accessPerms) != 0 {
		t.Fatalf("expected empty non-nil permissions, got %#v", codec.accessPerms)
	}
}

func TestIssueFailuresAreCollaboratorErrors(t *testing.T) {
	for name, codec := range map[string]*stubCodec{
		"access":  {failAccess: true},
		"refresh": {failRefresh: true},
		"expiry":  {failExpiry: true},
	} {
		t.Run(name, func(t *testing.T) {
			e := engineWithCodec(t, codec)
			_, err := e.Login(context.Background(), "alice", "rightpass")
			if !errors.Is(err, ErrCollaboratorUnavailable) {
				t.Fatalf("expected ErrCollaboratorUnavailable, got %v", err)
			}
		})
	}
}
