// Command authflow-loadtest drives an in-process authflow engine through
// login, second-factor and refresh phases and prints latency percentiles.
// Redis is a real server when --redis-addr or REDIS_ADDR is set, otherwise
// an embedded miniredis.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/MrEthical07/authflow/logging"
	"github.com/spf13/cobra"
)

type options struct {
	users       int
	concurrency int
	ops         int
	redisAddr   string
	argonMemKB  uint32
	logLevel    string
	phases      []string
}

func main() {
	opts := options{redisAddr: os.Getenv("REDIS_ADDR")}

	root := &cobra.Command{
		Use:           "authflow-loadtest",
		Short:         "Load test the authflow login, verification and refresh paths",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.users <= 0 || opts.concurrency <= 0 || opts.ops <= 0 {
				return fmt.Errorf("users, concurrency and ops must be > 0")
			}
			for _, p := range opts.phases {
				if _, ok := phaseRunners[p]; !ok {
					return fmt.Errorf("unknown phase %q", p)
				}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}

	f := root.Flags()
	f.IntVar(&opts.users, "users", 1000, "number of users to seed")
	f.IntVar(&opts.concurrency, "concurrency", 64, "number of concurrent workers")
	f.IntVar(&opts.ops, "ops", 20000, "operations per phase")
	f.StringVar(&opts.redisAddr, "redis-addr", opts.redisAddr, "redis address; empty uses miniredis (env REDIS_ADDR)")
	f.Uint32Var(&opts.argonMemKB, "argon-memory-kb", 8*1024, "argon2id memory cost used for seeded hashes")
	f.StringVar(&opts.logLevel, "log-level", "warn", "log level: debug|info|warn|error")
	f.StringSliceVar(&opts.phases, "phases", []string{"login", "mfa", "refresh", "authenticate"}, "phases to run, in order")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	logger, err := logging.New(logging.Config{Env: "dev", Level: opts.logLevel, Service: "authflow-loadtest"})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	h, err := newHarness(ctx, opts, logger)
	if err != nil {
		return err
	}
	defer h.close()

	results := make([]phaseResult, 0, len(opts.phases))
	for _, name := range opts.phases {
		stats, err := runPhase(ctx, opts.ops, opts.concurrency, phaseRunners[name](h))
		if err != nil {
			return fmt.Errorf("phase %s: %w", name, err)
		}
		results = append(results, phaseResult{name: name, stats: stats})
	}

	fmt.Println("---- results ----")
	for _, r := range results {
		printStats(r.name, r.stats)
	}
	snap := h.engine.MetricsSnapshot()
	fmt.Printf("engine: login_success=%d mfa_required=%d verify_success=%d refresh_success=%d collaborator_errors=%d\n",
		snap.Counters[metricLoginSuccess],
		snap.Counters[metricMFARequired],
		snap.Counters[metricVerifySuccess],
		snap.Counters[metricRefreshSuccess],
		snap.Counters[metricCollaboratorError],
	)
	return nil
}

type phaseResult struct {
	name  string
	stats phaseStats
}
