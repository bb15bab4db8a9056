package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	stdsync "sync"
	"syscall"
	"time"

	"github.com/dl-alexandre/gsyncfs/internal/logging"
	"github.com/dl-alexandre/gsyncfs/internal/types"
	"github.com/spf13/cobra"
)

const shutdownFlushTimeout = 10 * time.Second

var runCmd = &cobra.Command{
	Use:   "run <app-path>",
	Short: "Synchronize an app directory until interrupted",
	Long: `Start synchronizing an app directory and keep running until SIGINT or
SIGTERM.

The remote folder "<rootDirectoryName>/<app>" is created when missing and
mirrored into "<localRoot>/<app>". Every file status change is printed as
it happens: one JSON object per line with --json, one text line otherwise.

Examples:
  gsyncfs run /notes
  gsyncfs run /notes --json --log-file ~/.gsyncfs/sync.log`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

var syncOnceCmd = &cobra.Command{
	Use:   "sync <app-path>",
	Short: "Synchronize an app directory once and exit",
	Long: `Push pending local changes, pull remote changes once and exit. Useful
from cron or scripts.`,
	Args: cobra.ExactArgs(1),
	RunE: runSyncOnce,
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(syncOnceCmd)
}

// eventPrinter serializes events delivered from several goroutines
type eventPrinter struct {
	mu  stdsync.Mutex
	out *OutputWriter
}

func (p *eventPrinter) fileStatus(ev types.FileStatusEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.out.format == types.OutputFormatJSON {
		_ = json.NewEncoder(p.out.stdout).Encode(ev)
		return
	}
	fmt.Fprintf(p.out.stdout, "%-8s %-16s %-12s %s\n", ev.Action, ev.Direction, ev.Status, ev.Path)
}

func (p *eventPrinter) serviceStatus(st types.ServiceStatus) {
	fields := []logging.Field{logging.F("state", st.State)}
	if st.Description != "" {
		fields = append(fields, logging.F("description", st.Description))
	}
	GetLogger().Info("Service status changed", fields...)
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := newOutput()
	engine, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer engine.Close()

	printer := &eventPrinter{out: out}
	defer engine.OnFileStatusChanged(printer.fileStatus)()
	defer engine.OnServiceStatusChanged(printer.serviceStatus)()

	sess, err := engine.RequestSync(ctx, args[0])
	if err != nil {
		return err
	}
	out.Log("Synchronizing %s with %s (policy %s)", sess.LocalDir, sess.AppPath, engine.GetConflictResolutionPolicy())

	<-ctx.Done()
	out.Log("Shutting down")

	flushCtx, cancel := context.WithTimeout(context.Background(), shutdownFlushTimeout)
	defer cancel()
	if err := engine.Flush(flushCtx); err != nil {
		GetLogger().Warn("Pending local changes were not flushed", logging.F("error", err.Error()))
	}
	return nil
}

// SyncResult summarizes one `sync` run
type SyncResult struct {
	AppPath     string             `json:"appPath"`
	LocalDir    string             `json:"localDir"`
	Pulled      int                `json:"pulled"`
	Pushed      int                `json:"pushed"`
	Pending     int                `json:"pending"`
	Conflicting int                `json:"conflicting"`
	Status      types.ServiceState `json:"status"`
}

func (r *SyncResult) Headers() []string {
	return []string{"App Path", "Local Dir", "Pushed", "Pulled", "Pending", "Conflicting", "Status"}
}

func (r *SyncResult) Rows() [][]string {
	return [][]string{{
		r.AppPath, r.LocalDir,
		fmt.Sprint(r.Pushed), fmt.Sprint(r.Pulled),
		fmt.Sprint(r.Pending), fmt.Sprint(r.Conflicting),
		string(r.Status),
	}}
}

func (r *SyncResult) EmptyMessage() string {
	return "Nothing synchronized"
}

func runSyncOnce(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := newOutput()
	engine, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer engine.Close()

	var mu stdsync.Mutex
	pushed := 0
	defer engine.OnFileStatusChanged(func(ev types.FileStatusEvent) {
		if ev.Direction == types.DirectionLocalToRemote && ev.Status == types.SyncStatusSynced {
			mu.Lock()
			pushed++
			mu.Unlock()
		}
	})()

	sess, err := engine.RequestSync(ctx, args[0])
	if err != nil {
		return err
	}
	if err := engine.Flush(ctx); err != nil {
		return err
	}
	pulled, err := engine.PollNow(ctx)
	if err != nil {
		return err
	}
	if err := engine.Flush(ctx); err != nil {
		return err
	}

	entries, err := engine.ListEntries(ctx)
	if err != nil {
		return err
	}
	mu.Lock()
	result := &SyncResult{
		AppPath:  sess.AppPath,
		LocalDir: sess.LocalDir,
		Pulled:   pulled,
		Pushed:   pushed,
		Status:   engine.GetServiceStatus().State,
	}
	mu.Unlock()
	for _, e := range entries {
		switch e.SyncStatus {
		case types.SyncStatusPending:
			result.Pending++
		case types.SyncStatusConflicting:
			result.Conflicting++
		}
	}
	return out.WriteSuccess("sync", result)
}
