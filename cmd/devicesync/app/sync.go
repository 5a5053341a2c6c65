package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"slices"
	"strconv"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	devicesyncapp "github.com/ledgerkit/devicesync/internal/app"
	"github.com/ledgerkit/devicesync/internal/config"
	"github.com/ledgerkit/devicesync/internal/httpclient"
	"github.com/ledgerkit/devicesync/internal/store"
	pkgsync "github.com/ledgerkit/devicesync/internal/sync"
	"github.com/ledgerkit/devicesync/internal/syncerr"
)

const defaultMaxAttempts = 5

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run a sync pass now",
	Long: `Run one pass over every configured stream, or over a single stream with
--stream. When a daemon already holds the local store, the pass is triggered
through its API instead.`,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().String("stream", "", "Only sync this stream")
	syncCmd.Flags().Bool("retry", false, "Retry retryable failures with exponential backoff")
	syncCmd.Flags().Uint("max-attempts", defaultMaxAttempts, "Attempts made with --retry")
}

// passRunner runs one sync attempt over one stream, or every stream when
// streamID is empty
type passRunner interface {
	Run(ctx context.Context, streamID string) ([]*pkgsync.SyncResult, error)
}

// localRunner runs passes in this process
type localRunner struct {
	orchestrator pkgsync.Orchestrator
}

func (l *localRunner) Run(ctx context.Context, streamID string) ([]*pkgsync.SyncResult, error) {
	if streamID == "" {
		return l.orchestrator.RunAll(ctx)
	}
	result, err := l.orchestrator.RunPass(ctx, streamID)
	if result == nil {
		return nil, err
	}
	return []*pkgsync.SyncResult{result}, err
}

func runSync(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(commandContext(cmd), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	streamID, _ := cmd.Flags().GetString("stream")
	retry, _ := cmd.Flags().GetBool("retry")
	maxAttempts, _ := cmd.Flags().GetUint("max-attempts")

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if streamID != "" && !slices.Contains(cfg.Streams, streamID) {
		return fmt.Errorf("stream %s is not configured", streamID)
	}

	runner, release, err := openRunner(ctx, cfg)
	if err != nil {
		return err
	}
	defer release()

	attempts := uint(1)
	if retry {
		attempts = max(maxAttempts, 1)
	}

	results, runErr := runWithRetry(ctx, func(ctx context.Context) ([]*pkgsync.SyncResult, error) {
		return runner.Run(ctx, streamID)
	}, attempts, backoff.NewExponentialBackOff())

	if err := printResults(cmd.OutOrStdout(), results); err != nil {
		return err
	}
	if runErr != nil {
		return fmt.Errorf("sync failed: %w", runErr)
	}
	return nil
}

// openRunner runs passes in process, or through the daemon when it holds the store
func openRunner(ctx context.Context, cfg *config.Config) (passRunner, func(), error) {
	components, err := devicesyncapp.NewComponents(ctx, devicesyncapp.WithConfig(cfg))
	if errors.Is(err, store.ErrStoreLocked) {
		slog.Info("Local store is held by the sync daemon, triggering the pass through its API",
			"address", cfg.GetServerAddress())
		return newDaemonClient(cfg, httpclient.NewDefaultClient(0)), func() {}, nil
	}
	if err != nil {
		return nil, nil, err
	}

	release := func() {
		if err := components.Close(context.WithoutCancel(ctx)); err != nil {
			slog.Warn("Failed to close sync components", "error", err)
		}
	}
	return &localRunner{orchestrator: components.Orchestrator}, release, nil
}

// runWithRetry repeats run while it fails with a retryable error, at most
// attempts times. It returns the results of the last attempt.
func runWithRetry(
	ctx context.Context,
	run func(context.Context) ([]*pkgsync.SyncResult, error),
	attempts uint,
	b backoff.BackOff,
) ([]*pkgsync.SyncResult, error) {
	if attempts <= 1 {
		return run(ctx)
	}

	var last []*pkgsync.SyncResult
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		results, err := run(ctx)
		last = results
		if err != nil && !retryable(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(attempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			slog.Warn("Sync attempt failed, retrying", "error", err, "retry_in", next)
		}),
	)
	return last, err
}

// retryable reports whether another attempt may succeed. Unclassified local
// failures are retried; cancellation never is.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var de *daemonError
	if errors.As(err, &de) {
		return de.retryable()
	}
	if se, ok := syncerr.As(err); ok {
		return se.RetryClass() == syncerr.Retryable
	}
	return true
}

func printResults(w io.Writer, results []*pkgsync.SyncResult) error {
	if len(results) == 0 {
		return nil
	}

	table := tablewriter.NewWriter(w)
	table.Header("STREAM", "MODE", "STATE", "SEGMENTS", "EVENTS", "PUSHED", "DURATION", "MESSAGE")
	for _, r := range results {
		if r == nil {
			continue
		}
		err := table.Append(
			r.StreamID,
			string(r.Mode),
			string(r.State),
			strconv.Itoa(r.SegmentsApplied),
			strconv.Itoa(r.EventsApplied),
			strconv.Itoa(r.EventsPushed),
			r.Duration.Round(time.Millisecond).String(),
			r.Message,
		)
		if err != nil {
			return fmt.Errorf("failed to render results: %w", err)
		}
	}
	return table.Render()
}
