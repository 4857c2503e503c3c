package keylog

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/endorses/tlsdissect/internal/pkg/cmdutil"
	"github.com/endorses/tlsdissect/internal/pkg/logger"
	"github.com/endorses/tlsdissect/internal/pkg/output"
	"github.com/endorses/tlsdissect/internal/pkg/signals"
	kl "github.com/endorses/tlsdissect/internal/pkg/tls/keylog"
	"github.com/endorses/tlsdissect/internal/pkg/tls/secrets"
)

var watchCmd = &cobra.Command{
	Use:   "watch FILE",
	Short: "Follow a key log and report what arrives",
	Long: `Follow a key log file or named pipe into a secret cache. Counts are
printed every --interval, on SIGHUP and once more on SIGINT or SIGTERM.

Examples:
  tlsd keylog watch $SSLKEYLOGFILE
  mkfifo /tmp/keys.fifo && tlsd keylog watch /tmp/keys.fifo --interval 1m`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

var (
	interval     time.Duration
	pollInterval time.Duration
)

func init() {
	watchCmd.Flags().DurationVar(&interval, "interval", 10*time.Second, "report interval, 0 disables periodic reports")
	watchCmd.Flags().DurationVar(&pollInterval, "poll-interval", kl.DefaultWatcherConfig().PollInterval, "polling interval when file notifications are unavailable")
	_ = viper.BindPFlag("keylog.poll_interval", watchCmd.Flags().Lookup("poll-interval"))
}

// WatchReport is printed by keylog watch.
type WatchReport struct {
	Path    string         `json:"path" yaml:"path"`
	Lines   uint64         `json:"lines" yaml:"lines"`
	Added   uint64         `json:"added" yaml:"added"`
	Errors  uint64         `json:"errors" yaml:"errors"`
	Secrets secrets.Stats  `json:"secrets" yaml:"secrets"`
	Labels  map[string]int `json:"labels" yaml:"labels"`
}

func runWatch(cmd *cobra.Command, args []string) error {
	f, err := output.ParseFormat(cmdutil.GetStringConfig("output.format", format))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	cleanup := signals.SetupHandler(ctx, cancel)
	defer cleanup()

	printer := output.NewPrinter(cmd.OutOrStdout(), f, false)
	defer printer.Close()

	return Watch(ctx, args[0], WatchOptions{
		Interval:     interval,
		PollInterval: cmdutil.GetDurationConfig("keylog.poll_interval", pollInterval),
	}, printer)
}

// WatchOptions configures Watch.
type WatchOptions struct {
	Interval     time.Duration
	PollInterval time.Duration
}

// Watch follows path until ctx is done and prints a WatchReport every
// interval, on SIGHUP and when it stops.
func Watch(ctx context.Context, path string, opts WatchOptions, printer *output.Printer) error {
	cache := secrets.NewCache(secrets.Config{
		OnInsert: func(id secrets.MapID, key []byte, result secrets.InsertResult) {
			if result == secrets.Collision {
				logger.Warn("secret replaced by a different value", "map", id.String())
			}
		},
	})
	labels := newLabelCounter()
	sink := kl.SinkFunc(func(e *kl.KeyEntry) {
		labels.add(e.Label.String())
		cache.AddEntry(e)
	})

	watcher := kl.NewWatcher(path, sink, kl.WatcherConfig{PollInterval: opts.PollInterval})
	if err := watcher.Start(ctx); err != nil {
		return fmt.Errorf("failed to watch key log: %w", err)
	}
	defer func() {
		if err := watcher.Stop(); err != nil {
			logger.Warn("failed to stop key log watcher", "error", err)
		}
	}()
	logger.Info("watching key log", "path", path)

	reports := make(chan struct{}, 1)
	stopHangup := signals.OnHangup(ctx, func() {
		select {
		case reports <- struct{}{}:
		default:
		}
	})
	defer stopHangup()

	var tick <-chan time.Time
	if opts.Interval > 0 {
		ticker := time.NewTicker(opts.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	emit := func() error {
		stats := watcher.Stats()
		r := WatchReport{
			Path:    path,
			Lines:   stats.LinesRead,
			Added:   stats.EntriesAdded,
			Errors:  stats.Errors,
			Secrets: cache.Stats(),
			Labels:  labels.snapshot(),
		}
		return printer.Document("keylog_watch", r, func(w io.Writer) error { return writeWatchText(w, r) })
	}

	for {
		select {
		case <-ctx.Done():
			return emit()
		case <-tick:
		case <-reports:
		}
		if err := emit(); err != nil {
			return err
		}
	}
}

func writeWatchText(w io.Writer, r WatchReport) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s: lines=%d added=%d errors=%d duplicates=%d collisions=%d",
		time.Now().Format(time.RFC3339), r.Path, r.Lines, r.Added, r.Errors, r.Secrets.Duplicates, r.Secrets.Collisions)
	for _, label := range kl.Labels() {
		if n := r.Labels[label.String()]; n > 0 {
			fmt.Fprintf(&b, " %s=%d", label.String(), n)
		}
	}
	b.WriteByte('\n')
	_, err := io.WriteString(w, b.String())
	return err
}
