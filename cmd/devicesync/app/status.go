package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	v1 "github.com/ledgerkit/devicesync/internal/api/v1"
	"github.com/ledgerkit/devicesync/internal/config"
	"github.com/ledgerkit/devicesync/internal/httpclient"
	"github.com/ledgerkit/devicesync/internal/ledger"
	"github.com/ledgerkit/devicesync/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the local sync position of every stream",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		status, err := readStatus(commandContext(cmd), cfg)
		if err != nil {
			return err
		}
		return printStatus(cmd.OutOrStdout(), status)
	},
}

// readStatus reads cursors from the store, or from the daemon when it holds the store
func readStatus(ctx context.Context, cfg *config.Config) (*v1.StatusResponse, error) {
	st, err := store.New(ctx, &cfg.Storage)
	if errors.Is(err, store.ErrStoreLocked) {
		slog.Debug("Local store is held by the sync daemon, reading status through its API")
		return newDaemonClient(cfg, httpclient.NewDefaultClient(0)).Status(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Warn("Failed to close store", "error", err)
		}
	}()

	return localStatus(ctx, st, cfg.Streams)
}

func localStatus(ctx context.Context, cursors store.CursorStore, streams []string) (*v1.StatusResponse, error) {
	stored, err := cursors.ListCursors(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list cursors: %w", err)
	}

	byStream := make(map[string]ledger.Cursor, len(stored))
	for _, c := range stored {
		byStream[c.StreamID] = c
	}

	resp := &v1.StatusResponse{Streams: make([]v1.StreamStatus, 0, len(streams))}
	for _, id := range streams {
		status := v1.StreamStatus{StreamID: id}
		if c, ok := byStream[id]; ok {
			status.Cursor = &c
		}
		resp.Streams = append(resp.Streams, status)
	}
	return resp, nil
}

func printStatus(w io.Writer, status *v1.StatusResponse) error {
	table := tablewriter.NewWriter(w)
	table.Header("STREAM", "SEGMENT", "EVENT", "BOOTSTRAP", "LAST PASS", "UPDATED")

	for _, s := range status.Streams {
		segment, event, bootstrap, updated := "-", "-", "", "never synced"
		if c := s.Cursor; c != nil {
			segment = formatIndex(c.SegmentIndex)
			event = formatIndex(c.EventIndex)
			if c.BootstrapRequired {
				bootstrap = string(c.BootstrapReason)
				if bootstrap == "" {
					bootstrap = "required"
				}
			}
			updated = c.UpdatedAt.Local().Format(time.RFC3339)
		}

		lastPass := "-"
		if r := s.LastResult; r != nil {
			lastPass = string(r.State)
		}

		if err := table.Append(s.StreamID, segment, event, bootstrap, lastPass, updated); err != nil {
			return fmt.Errorf("failed to render status: %w", err)
		}
	}
	return table.Render()
}

func formatIndex(i int64) string {
	if i == ledger.NoIndex {
		return "-"
	}
	return strconv.FormatInt(i, 10)
}
