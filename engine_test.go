package authflow

import (
	"context"
	"errors"
	"net/http"
	"reflect"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/authflow/codes/otp"
	"github.com/MrEthical07/authflow/codes/totp"
)

func newTOTPSecret(t *testing.T) (string, *totp.Provider) {
	t.Helper()
	p, err := totp.New(totp.DefaultConfig())
	if err != nil {
		t.Fatalf("totp provider: %v", err)
	}
	secret, _, err := p.GenerateSecret("bob")
	if err != nil {
		t.Fatalf("generate secret: %v", err)
	}
	return secret, p
}

func currentCode(t *testing.T, p *totp.Provider, secret string) string {
	t.Helper()
	code, err := p.Code(secret, time.Now())
	if err != nil {
		t.Fatalf("totp code: %v", err)
	}
	return code
}

func sorted(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}

func TestLoginWithoutMFAEmbedsRolePermissions(t *testing.T) {
	h := newHarness(t, alice())

	res, err := h.engine.Login(context.Background(), "alice", "rightpass")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if res.MFARequired {
		t.Fatal("expected mfaRequired=false")
	}
	if res.RefreshToken == "" {
		t.Fatal("expected refresh token")
	}

	subject, perms, err := h.codec.ParseAccess(res.AccessToken)
	if err != nil {
		t.Fatalf("parse access: %v", err)
	}
	if subject != "alice" {
		t.Fatalf("expected subject alice, got %q", subject)
	}
	if !reflect.DeepEqual(sorted(perms), []string{"READ", "WRITE"}) {
		t.Fatalf("expected [READ WRITE], got %v", perms)
	}

	exp, err := h.codec.ExpiryOf(res.AccessToken)
	if err != nil {
		t.Fatalf("expiry: %v", err)
	}
	if !exp.Equal(res.ExpiresAt) {
		t.Fatalf("expiresAt %v does not match token expiry %v", res.ExpiresAt, exp)
	}
	if !h.codec.ValidateRefresh(res.RefreshToken, "alice") {
		t.Fatal("expected refresh token valid for alice")
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	h := newHarness(t, alice())

	for _, tc := range []struct{ user, pass string }{
		{"alice", "wrongpass"},
		{"mallory", "rightpass"},
		{"", ""},
	} {
		res, err := h.engine.Login(context.Background(), tc.user, tc.pass)
		if !errors.Is(err, ErrUnauthenticated) {
			t.Fatalf("login(%q): expected ErrUnauthenticated, got %v", tc.user, err)
		}
		if res != nil {
			t.Fatalf("login(%q): expected no result", tc.user)
		}
		if HTTPStatus(err) != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", HTTPStatus(err))
		}
	}

	if got := h.engine.MetricsSnapshot().Counters[MetricLoginFailure]; got != 3 {
		t.Fatalf("expected 3 login failures, got %d", got)
	}
}

func TestLoginWithMFAIssuesPermissionlessToken(t *testing.T) {
	secret, _ := newTOTPSecret(t)
	h := newHarness(t, mfaBob(secret))
	ctx := context.Background()

	res, err := h.engine.Login(ctx, "bob", "bobpass")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if !res.MFARequired {
		t.Fatal("expected mfaRequired=true")
	}
	if res.RefreshToken != "" {
		t.Fatal("pending login must not issue a refresh token")
	}

	_, perms, err := h.codec.ParseAccess(res.AccessToken)
	if err != nil {
		t.Fatalf("parse access: %v", err)
	}
	if perms == nil || len(perms) != 0 {
		t.Fatalf("expected empty permission list, got %#v", perms)
	}

	sess, err := h.engine.Authenticate(ctx, res.AccessToken)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if !sess.MFAPending || len(sess.Permissions) != 0 || sess.HasPermission("READ") {
		t.Fatalf("pending session must carry no permissions: %+v", sess)
	}
	if sess.Principal.ID != "u-bob" {
		t.Fatalf("expected principal u-bob, got %+v", sess.Principal)
	}

	if _, err := h.engine.Refresh(ctx, res.AccessToken); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("pending access token must not refresh, got %v", err)
	}
}

func TestSendCodeTOTPReturnsProvisioningURI(t *testing.T) {
	secret, _ := newTOTPSecret(t)
	h := newHarness(t, mfaBob(secret), alice())
	ctx := context.Background()

	uri, err := h.engine.SendCode(ctx, Principal{ID: "u-bob", Username: "bob"}, VerificationTOTP)
	if err != nil {
		t.Fatalf("send code: %v", err)
	}
	if !strings.HasPrefix(uri, "otpauth://totp/") || !strings.Contains(uri, "secret="+secret) {
		t.Fatalf("unexpected uri %q", uri)
	}

	_, err = h.engine.SendCode(ctx, Principal{ID: "u-alice", Username: "alice"}, VerificationTOTP)
	if !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("expected ErrNotConfigured without secret, got %v", err)
	}
	if HTTPStatus(err) != http.StatusConflict {
		t.Fatalf("expected 409, got %d", HTTPStatus(err))
	}
}

func TestSendCodeOutOfBandChannels(t *testing.T) {
	secret, _ := newTOTPSecret(t)
	h := newHarness(t, mfaBob(secret), alice())
	ctx := context.Background()
	bob := Principal{ID: "u-bob", Username: "bob"}

	uri, err := h.engine.SendCode(ctx, bob, VerificationPhone)
	if err != nil || uri != "" {
		t.Fatalf("phone send: uri=%q err=%v", uri, err)
	}
	if got := h.phone.sends(); len(got) != 1 || got[0] != (sentCode{"+15550001111", "u-bob"}) {
		t.Fatalf("unexpected phone sends %+v", got)
	}

	if _, err := h.engine.SendCode(ctx, bob, VerificationEmail); err != nil {
		t.Fatalf("email send: %v", err)
	}
	if got := h.email.sends(); len(got) != 1 || got[0].destination != "bob@example.com" {
		t.Fatalf("unexpected email sends %+v", got)
	}

	// alice has neither phone nor email in her MFA profile.
	aliceP := Principal{ID: "u-alice", Username: "alice"}
	for _, vt := range []VerificationType{VerificationPhone, VerificationEmail} {
		if _, err := h.engine.SendCode(ctx, aliceP, vt); !errors.Is(err, ErrNotFound) {
			t.Fatalf("%s: expected ErrNotFound, got %v", vt, err)
		}
	}
}

func TestSendCodeTwiceDeliversTwiceWithoutStateChange(t *testing.T) {
	secret, _ := newTOTPSecret(t)
	bob := mfaBob(secret)
	h := newHarness(t, bob)
	ctx := context.Background()
	p := Principal{ID: "u-bob", Username: "bob"}

	before, _ := h.store.MFAProfile(ctx, "bob")
	for i := 0; i < 2; i++ {
		if _, err := h.engine.SendCode(ctx, p, VerificationEmail); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	if got := len(h.email.sends()); got != 2 {
		t.Fatalf("expected 2 deliveries, got %d", got)
	}
	after, _ := h.store.MFAProfile(ctx, "bob")
	if *before != *after {
		t.Fatalf("send-code mutated verification state: %+v -> %+v", before, after)
	}
}

func TestSendCodeUnknownTypeIsExplicitError(t *testing.T) {
	h := newHarness(t, alice())

	_, err := h.engine.SendCode(context.Background(), Principal{ID: "u-alice", Username: "alice"}, VerificationType(42))
	if !errors.Is(err, ErrInvalidVerificationType) {
		t.Fatalf("expected ErrInvalidVerificationType, got %v", err)
	}
	if HTTPStatus(err) != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", HTTPStatus(err))
	}
	if _, err := h.engine.Verify(context.Background(), Principal{Username: "alice"}, 0, "x"); !errors.Is(err, ErrInvalidVerificationType) {
		t.Fatalf("verify: expected ErrInvalidVerificationType, got %v", err)
	}
}

func TestSendCodeProviderErrors(t *testing.T) {
	secret, _ := newTOTPSecret(t)
	h := newHarness(t, mfaBob(secret))
	ctx := context.Background()
	p := Principal{ID: "u-bob", Username: "bob"}

	h.phone.sendErr = otp.ErrRateLimited
	_, err := h.engine.SendCode(ctx, p, VerificationPhone)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if HTTPStatus(err) != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", HTTPStatus(err))
	}

	h.email.sendErr = otp.ErrDeliveryFailed
	_, err = h.engine.SendCode(ctx, p, VerificationEmail)
	if !errors.Is(err, ErrCollaboratorUnavailable) {
		t.Fatalf("expected ErrCollaboratorUnavailable, got %v", err)
	}

	snap := h.engine.MetricsSnapshot()
	if snap.Counters[MetricCodeRateLimited] != 1 || snap.Counters[MetricCodeSendFailure] != 1 {
		t.Fatalf("unexpected counters %+v", snap.Counters)
	}
}

func TestVerifyTOTPEscalatesToFullPair(t *testing.T) {
	secret, provider := newTOTPSecret(t)
	h := newHarness(t, mfaBob(secret))
	ctx := context.Background()
	bob := Principal{ID: "u-bob", Username: "bob"}

	wrong := "000000"
	if wrong == currentCode(t, provider, secret) {
		wrong = "111111"
	}
	pair, err := h.engine.VerifyTOTP(ctx, bob, wrong)
	if !errors.Is(err, ErrUnauthenticated) || pair != nil {
		t.Fatalf("wrong code: expected ErrUnauthenticated and no pair, got %v %v", pair, err)
	}

	pair, err = h.engine.VerifyTOTP(ctx, bob, currentCode(t, provider, secret))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	_, perms, err := h.codec.ParseAccess(pair.AccessToken)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !reflect.DeepEqual(sorted(perms), []string{"AUDIT", "READ", "READ"}) {
		t.Fatalf("expected flattened perms with duplicates, got %v", perms)
	}
	if pair.RefreshToken == "" {
		t.Fatal("expected refresh token after verification")
	}
}

func TestVerifyTOTPWithoutSecretIsUnauthenticated(t *testing.T) {
	h := newHarness(t, mfaBob(""))
	_, err := h.engine.VerifyTOTP(context.Background(), Principal{ID: "u-bob", Username: "bob"}, "123456")
	if !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestVerifyTOTPCorruptSecretIsUnauthenticated(t *testing.T) {
	h := newHarness(t, mfaBob("!!not-base32!!"))
	_, err := h.engine.VerifyTOTP(context.Background(), Principal{ID: "u-bob", Username: "bob"}, "123456")
	if !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestVerifyPhoneAndEmail(t *testing.T) {
	secret, _ := newTOTPSecret(t)
	h := newHarness(t, mfaBob(secret))
	ctx := context.Background()
	bob := Principal{ID: "u-bob", Username: "bob"}

	if _, err := h.engine.VerifyPhone(ctx, bob, fakeOTPCode); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("verify before send: expected ErrUnauthenticated, got %v", err)
	}

	if _, err := h.engine.SendCode(ctx, bob, VerificationPhone); err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := h.engine.VerifyPhone(ctx, bob, "999999"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("wrong phone code: expected ErrUnauthenticated, got %v", err)
	}
	pair, err := h.engine.VerifyPhone(ctx, bob, fakeOTPCode)
	if err != nil || pair.AccessToken == "" {
		t.Fatalf("verify phone: %v", err)
	}

	if _, err := h.engine.VerifyEmail(ctx, bob, fakeOTPCode); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("email channel is independent of phone, got %v", err)
	}

	h.email.verifyErr = otp.ErrUnavailable
	if _, err := h.engine.VerifyEmail(ctx, bob, fakeOTPCode); !errors.Is(err, ErrCollaboratorUnavailable) {
		t.Fatalf("expected ErrCollaboratorUnavailable, got %v", err)
	}
}

func TestVerifyReadsRolesAtVerificationTime(t *testing.T) {
	secret, provider := newTOTPSecret(t)
	h := newHarness(t, mfaBob(secret))
	ctx := context.Background()

	if _, err := h.engine.Login(ctx, "bob", "bobpass"); err != nil {
		t.Fatalf("login: %v", err)
	}
	h.store.setRoles("bob", []Role{{Name: "OPS", Permissions: []string{"DEPLOY"}}})

	pair, err := h.engine.VerifyTOTP(ctx, Principal{ID: "u-bob", Username: "bob"}, currentCode(t, provider, secret))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	_, perms, _ := h.codec.ParseAccess(pair.AccessToken)
	if !reflect.DeepEqual(perms, []string{"DEPLOY"}) {
		t.Fatalf("expected current roles, got %v", perms)
	}
}

func TestCurrentUser(t *testing.T) {
	h := newHarness(t, alice())
	ctx := context.Background()

	profile, err := h.engine.CurrentUser(ctx, Principal{ID: "u-alice", Username: "alice"})
	if err != nil {
		t.Fatalf("current user: %v", err)
	}
	if profile.Email != "alice@example.com" || !profile.Approved {
		t.Fatalf("unexpected profile %+v", profile)
	}

	if _, err := h.engine.CurrentUser(ctx, Principal{Username: "ghost"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAuthenticateFullToken(t *testing.T) {
	h := newHarness(t, alice())
	ctx := context.Background()

	res, err := h.engine.Login(ctx, "alice", "rightpass")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	sess, err := h.engine.Authenticate(ctx, res.AccessToken)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if sess.MFAPending || !sess.HasPermission("WRITE") || !sess.ExpiresAt.Equal(res.ExpiresAt) {
		t.Fatalf("unexpected session %+v", sess)
	}

	if _, err := h.engine.Authenticate(ctx, "garbage"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	if _, err := h.engine.Authenticate(ctx, res.RefreshToken); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("refresh token must not authenticate, got %v", err)
	}

	h.store.remove("alice")
	if _, err := h.engine.Authenticate(ctx, res.AccessToken); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("deleted user: expected ErrUnauthenticated, got %v", err)
	}
}

func TestCollaboratorFailuresAreDistinct(t *testing.T) {
	h := newHarness(t, alice())
	ctx := context.Background()
	h.store.fail = errors.New("connection reset")

	_, err := h.engine.Login(ctx, "alice", "rightpass")
	if !errors.Is(err, ErrCollaboratorUnavailable) || errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrCollaboratorUnavailable, got %v", err)
	}
	if HTTPStatus(err) != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", HTTPStatus(err))
	}
	if got := h.engine.MetricsSnapshot().Counters[MetricCollaboratorError]; got == 0 {
		t.Fatal("expected collaborator error counter")
	}
}

func TestEngineEmitsAuditEvents(t *testing.T) {
	h := newHarness(t, alice())
	ctx := WithClientIP(context.Background(), "203.0.113.7")

	_, _ = h.engine.Login(ctx, "alice", "wrongpass")
	_, _ = h.engine.Login(ctx, "alice", "rightpass")

	events := h.events(t)
	if len(events) != 2 {
		t.Fatalf("expected 2 audit events, got %d", len(events))
	}
	if events[0].EventType != auditEventLoginFailure || events[0].Error != string(reasonBadCredentials) {
		t.Fatalf("unexpected failure event %+v", events[0])
	}
	if events[1].EventType != auditEventLoginSuccess || !events[1].Success || events[1].IP != "203.0.113.7" {
		t.Fatalf("unexpected success event %+v", events[1])
	}
}

func TestNilEngineNotReady(t *testing.T) {
	var e *Engine
	if _, err := e.Login(context.Background(), "a", "b"); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
	if _, err := e.Refresh(context.Background(), "x"); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
	if e.AuditDropped() != 0 || len(e.MetricsSnapshot().Counters) != 0 {
		t.Fatal("nil engine accessors must be zero")
	}
	e.Close()
}
