package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MrEthical07/authflow"
	"github.com/MrEthical07/authflow/jwt"
	"github.com/MrEthical07/authflow/password"
	"github.com/MrEthical07/authflow/store/memory"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	metricLoginSuccess      = authflow.MetricLoginSuccess
	metricMFARequired       = authflow.MetricMFARequired
	metricVerifySuccess     = authflow.MetricVerifySuccess
	metricRefreshSuccess    = authflow.MetricRefreshSuccess
	metricCollaboratorError = authflow.MetricCollaboratorError

	seedPassword = "load-test-password"
)

// inbox captures delivered codes by destination.
type inbox struct {
	mu    sync.Mutex
	codes map[string]string
}

func (b *inbox) Deliver(_ context.Context, destination, code string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.codes[destination] = code
	return nil
}

func (b *inbox) code(destination string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.codes[destination]
}

type harness struct {
	engine   *authflow.Engine
	inbox    *inbox
	users    []string
	mfaUsers []string

	// refresh tokens minted during setup, indexed like users.
	refresh []string
	access  []string

	closers []func()
}

func newHarness(ctx context.Context, opts options, logger *zap.Logger) (*harness, error) {
	h := &harness{inbox: &inbox{codes: map[string]string{}}}

	client, err := h.redis(opts.redisAddr, logger)
	if err != nil {
		return nil, err
	}

	pc := password.DefaultConfig()
	pc.Memory = opts.argonMemKB
	pc.Time = 1
	pc.Parallelism = 1
	hasher, err := password.NewHasher(pc)
	if err != nil {
		h.close()
		return nil, err
	}
	hash, err := hasher.Hash(seedPassword)
	if err != nil {
		h.close()
		return nil, err
	}

	store := memory.New()
	store.PutRole(authflow.Role{Name: "USER", Permissions: []string{"READ", "WRITE"}})
	for i := 0; i < opts.users; i++ {
		name := fmt.Sprintf("user-%d", i)
		mfa := i%2 == 1
		err := store.PutUser(memory.User{
			ID:           fmt.Sprintf("u-%d", i),
			Username:     name,
			PasswordHash: hash,
			Email:        name + "@load.test",
			MFAEnabled:   mfa,
			Approved:     true,
			Roles:        []string{"USER"},
		})
		if err != nil {
			h.close()
			return nil, err
		}
		if mfa {
			h.mfaUsers = append(h.mfaUsers, name)
		} else {
			h.users = append(h.users, name)
		}
	}

	cfg := authflow.DefaultConfig()
	cfg.JWT.SigningMethod = jwt.MethodHS256
	cfg.JWT.PrivateKey = []byte(fmt.Sprintf("load-test-signing-key-%d-0123456789", time.Now().UnixNano()))
	cfg.Password.Memory = pc.Memory
	cfg.Password.Time = pc.Time
	cfg.Password.Parallelism = pc.Parallelism
	cfg.Email.SendLimit = 0

	engine, err := authflow.New().
		WithConfig(cfg).
		WithIdentityStore(store).
		WithRedis(client).
		WithEmailSender(h.inbox).
		WithLogger(logger).
		Build()
	if err != nil {
		h.close()
		return nil, err
	}
	h.engine = engine
	h.closers = append(h.closers, engine.Close)

	if len(h.users) == 0 {
		h.close()
		return nil, fmt.Errorf("need at least one user without mfa")
	}
	for _, name := range h.users {
		res, err := engine.Login(ctx, name, seedPassword)
		if err != nil {
			h.close()
			return nil, fmt.Errorf("seed login %s: %w", name, err)
		}
		h.refresh = append(h.refresh, res.RefreshToken)
		h.access = append(h.access, res.AccessToken)
	}
	return h, nil
}

func (h *harness) redis(addr string, logger *zap.Logger) (redis.UniversalClient, error) {
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return nil, fmt.Errorf("start miniredis: %w", err)
		}
		addr = mr.Addr()
		h.closers = append(h.closers, mr.Close)
		logger.Info("using miniredis", zap.String("addr", addr))
	} else {
		logger.Info("using redis", zap.String("addr", addr))
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	h.closers = append(h.closers, func() { _ = client.Close() })
	return client, nil
}

// close runs closers in reverse order.
func (h *harness) close() {
	for i := len(h.closers) - 1; i >= 0; i-- {
		h.closers[i]()
	}
	h.closers = nil
}
