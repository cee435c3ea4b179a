package main

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/authflow"
	"golang.org/x/sync/errgroup"
)

// opFunc runs operation i on behalf of a worker. Returned errors count as
// failures; they do not stop the phase.
type opFunc func(ctx context.Context, r *rand.Rand, i int) error

var phaseRunners = map[string]func(*harness) opFunc{
	"login": func(h *harness) opFunc {
		return func(ctx context.Context, r *rand.Rand, _ int) error {
			_, err := h.engine.Login(ctx, h.users[r.Intn(len(h.users))], seedPassword)
			return err
		}
	},
	"mfa": func(h *harness) opFunc {
		return func(ctx context.Context, r *rand.Rand, _ int) error {
			if len(h.mfaUsers) == 0 {
				return fmt.Errorf("no mfa users seeded")
			}
			name := h.mfaUsers[r.Intn(len(h.mfaUsers))]
			res, err := h.engine.Login(ctx, name, seedPassword)
			if err != nil {
				return err
			}
			sess, err := h.engine.Authenticate(ctx, res.AccessToken)
			if err != nil {
				return err
			}
			if _, err := h.engine.SendCode(ctx, sess.Principal, authflow.VerificationEmail); err != nil {
				return err
			}
			// A concurrent send to the same user may have replaced the code.
			_, err = h.engine.VerifyEmail(ctx, sess.Principal, h.inbox.code(name+"@load.test"))
			return err
		}
	},
	"refresh": func(h *harness) opFunc {
		return func(ctx context.Context, r *rand.Rand, _ int) error {
			_, err := h.engine.Refresh(ctx, h.refresh[r.Intn(len(h.refresh))])
			return err
		}
	},
	"authenticate": func(h *harness) opFunc {
		return func(ctx context.Context, r *rand.Rand, _ int) error {
			_, err := h.engine.Authenticate(ctx, h.access[r.Intn(len(h.access))])
			return err
		}
	},
}

func runPhase(ctx context.Context, ops, concurrency int, op opFunc) (phaseStats, error) {
	var (
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	g, gctx := errgroup.WithContext(ctx)
	start := time.Now()
	for w := 0; w < concurrency; w++ {
		worker := w
		g.Go(func() error {
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				if err := gctx.Err(); err != nil {
					return err
				}
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return nil
				}
				t0 := time.Now()
				err := op(gctx, r, i)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		})
	}
	if err := g.Wait(); err != nil {
		return phaseStats{}, err
	}
	return computeStats(time.Since(start), latencies, failures), nil
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total, failures: failures}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
