package decrypt

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/endorses/tlsdissect/internal/pkg/cmdutil"
	"github.com/endorses/tlsdissect/internal/pkg/dissect"
	"github.com/endorses/tlsdissect/internal/pkg/logger"
	"github.com/endorses/tlsdissect/internal/pkg/monitoring"
	"github.com/endorses/tlsdissect/internal/pkg/output"
	"github.com/endorses/tlsdissect/internal/pkg/signals"
	tlsdecrypt "github.com/endorses/tlsdissect/internal/pkg/tls/decrypt"
	"github.com/endorses/tlsdissect/internal/pkg/tls/keylog"
	"github.com/endorses/tlsdissect/internal/pkg/tls/secrets"
)

var DecryptCmd = &cobra.Command{
	Use:   "decrypt",
	Short: "Decrypt the TLS and DTLS records of a capture",
	Long: `Decrypt the TLS and DTLS records of a pcap or pcapng file.

Secrets come from an NSS key log (SSLKEYLOGFILE), RSA private keys for
static RSA key exchange, or a pre-shared key. Records whose secrets are
not known when they are read wait in a bounded queue; --two-pass reloads
the key log once the capture has been read and replays them.

Examples:
  tlsd decrypt -r capture.pcap --keylog keys.log
  tlsd decrypt -r capture.pcapng --rsa-key server.pem --format json
  tlsd decrypt -r dtls.pcap --psk 0102030405 --ports 4433
  tlsd decrypt -r capture.pcap --keylog /tmp/keys.fifo --follow-keylog`,
	Args: cobra.NoArgs,
	RunE: runDecrypt,
}

var (
	readFile      string
	keyLogFile    string
	followKeyLog  bool
	rsaKeys       []string
	pskHex        string
	twoPass       bool
	ignoreMAC     bool
	format        string
	ports         []string
	pendingLimit  int
	metricsListen string
	showPlaintext bool
	summaryOnly   bool
)

func init() {
	DecryptCmd.Flags().StringVarP(&readFile, "read-file", "r", "", "pcap or pcapng file to decrypt (required)")
	DecryptCmd.Flags().StringVar(&keyLogFile, "keylog", "", "NSS key log file or named pipe")
	DecryptCmd.Flags().BoolVar(&followKeyLog, "follow-keylog", false, "keep reading the key log while the capture is processed")
	DecryptCmd.Flags().StringSliceVar(&rsaKeys, "rsa-key", nil, "RSA private key as path[:password] (PEM or PKCS#12), repeatable")
	DecryptCmd.Flags().StringVar(&pskHex, "psk", "", "pre-shared key in hex")
	DecryptCmd.Flags().BoolVar(&twoPass, "two-pass", false, "reload the key log after the capture and replay records still waiting for keys")
	DecryptCmd.Flags().BoolVar(&ignoreMAC, "ignore-mac", false, "keep plaintext of records whose MAC check failed")
	DecryptCmd.Flags().StringVar(&format, "format", "", "output format (json, yaml, text; default text)")
	DecryptCmd.Flags().StringSliceVar(&ports, "ports", nil, "only decode traffic on these ports, comma separated")
	DecryptCmd.Flags().IntVar(&pendingLimit, "pending-limit", tlsdecrypt.DefaultPendingLimit, "records buffered per connection while keys are missing")
	DecryptCmd.Flags().StringVar(&metricsListen, "metrics-listen", "", "serve Prometheus metrics on this address (e.g. :9102)")
	DecryptCmd.Flags().BoolVar(&showPlaintext, "plaintext", true, "include decrypted payloads in the output")
	DecryptCmd.Flags().BoolVar(&summaryOnly, "summary", false, "print only session summaries and the report")

	_ = viper.BindPFlag("decrypt.keylog", DecryptCmd.Flags().Lookup("keylog"))
	_ = viper.BindPFlag("decrypt.rsa_keys", DecryptCmd.Flags().Lookup("rsa-key"))
	_ = viper.BindPFlag("decrypt.psk", DecryptCmd.Flags().Lookup("psk"))
	_ = viper.BindPFlag("decrypt.two_pass", DecryptCmd.Flags().Lookup("two-pass"))
	_ = viper.BindPFlag("decrypt.ignore_mac", DecryptCmd.Flags().Lookup("ignore-mac"))
	_ = viper.BindPFlag("decrypt.ports", DecryptCmd.Flags().Lookup("ports"))
	_ = viper.BindPFlag("decrypt.pending_limit", DecryptCmd.Flags().Lookup("pending-limit"))
	_ = viper.BindPFlag("output.format", DecryptCmd.Flags().Lookup("format"))
	_ = viper.BindPFlag("metrics.listen", DecryptCmd.Flags().Lookup("metrics-listen"))
}

// Options configures a decryption run.
type Options struct {
	ReadFile      string
	KeyLogFile    string
	FollowKeyLog  bool
	PollInterval  time.Duration
	RSAKeys       []string
	PSK           []byte
	TwoPass       bool
	IgnoreMAC     bool
	Format        output.Format
	Ports         []uint16
	PendingLimit  int
	MetricsListen string
	Plaintext     bool
	SummaryOnly   bool
}

func runDecrypt(cmd *cobra.Command, args []string) error {
	opts, err := optionsFromFlags()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	cleanup := signals.SetupHandler(ctx, cancel)
	defer cleanup()

	return Run(ctx, opts, cmd.OutOrStdout())
}

func optionsFromFlags() (Options, error) {
	opts := Options{
		ReadFile:      readFile,
		KeyLogFile:    cmdutil.GetStringConfig("decrypt.keylog", keyLogFile),
		FollowKeyLog:  followKeyLog,
		PollInterval:  cmdutil.GetDurationConfig("keylog.poll_interval", keylog.DefaultWatcherConfig().PollInterval),
		RSAKeys:       cmdutil.GetStringSliceConfig("decrypt.rsa_keys", rsaKeys),
		TwoPass:       cmdutil.GetBoolConfig("decrypt.two_pass", twoPass),
		IgnoreMAC:     cmdutil.GetBoolConfig("decrypt.ignore_mac", ignoreMAC),
		PendingLimit:  cmdutil.GetIntConfig("decrypt.pending_limit", pendingLimit),
		MetricsListen: cmdutil.GetStringConfig("metrics.listen", metricsListen),
		Plaintext:     showPlaintext,
		SummaryOnly:   summaryOnly,
	}
	if opts.ReadFile == "" {
		return opts, errors.New("a capture file is required (-r)")
	}

	var err error
	if opts.Format, err = output.ParseFormat(cmdutil.GetStringConfig("output.format", format)); err != nil {
		return opts, err
	}
	if opts.Ports, err = cmdutil.ParsePorts(cmdutil.GetStringSliceConfig("decrypt.ports", ports)); err != nil {
		return opts, err
	}
	if psk := cmdutil.GetStringConfig("decrypt.psk", pskHex); psk != "" {
		if opts.PSK, err = hex.DecodeString(strings.TrimPrefix(psk, "0x")); err != nil || len(opts.PSK) == 0 {
			return opts, fmt.Errorf("invalid --psk %q: want hex", psk)
		}
	}
	return opts, nil
}

// Run decrypts opts.ReadFile and prints the outcome to w.
func Run(ctx context.Context, opts Options, w io.Writer) error {
	metrics := monitoring.New()
	if opts.MetricsListen != "" {
		if _, err := metrics.Serve(ctx, opts.MetricsListen); err != nil {
			return err
		}
	}

	// the tracker exists before the first secret is inserted
	var (
		cache   *secrets.Cache
		tracker *dissect.Tracker
	)
	cache = secrets.NewCache(secrets.Config{
		OnInsert: func(id secrets.MapID, key []byte, result secrets.InsertResult) {
			metrics.ObserveInsert(result, cache.Total())
			tracker.Notify()
		},
	})
	sink := keylog.SinkFunc(func(entry *keylog.KeyEntry) {
		metrics.ObserveKeylogEntry(entry.Label.String())
		cache.AddEntry(entry)
	})

	var schedOpts []tlsdecrypt.SchedulerOption
	if len(opts.RSAKeys) > 0 {
		keyring, err := loadRSAKeys(opts.RSAKeys)
		if err != nil {
			return err
		}
		schedOpts = append(schedOpts, tlsdecrypt.WithRSAKeys(keyring))
	}
	if len(opts.PSK) > 0 {
		schedOpts = append(schedOpts, tlsdecrypt.WithPSK(opts.PSK))
	}

	engine := tlsdecrypt.NewEngine(
		tlsdecrypt.NewKeyScheduler(cache, schedOpts...),
		tlsdecrypt.NewRecordDecryptor(tlsdecrypt.Options{IgnoreMAC: opts.IgnoreMAC}))

	printer := output.NewPrinter(w, opts.Format, output.PrettyJSON(w, opts.Format))
	defer func() {
		if err := printer.Close(); err != nil {
			logger.Warn("failed to close output", "error", err)
		}
	}()

	var printErr error
	report := func(err error) {
		if err != nil && printErr == nil {
			printErr = err
		}
	}
	sessions := 0
	tracker = dissect.NewTracker(engine, dissect.TrackerConfig{
		PendingLimit: opts.PendingLimit,
		OnRecord: func(ev dissect.RecordEvent) {
			plaintextLen := 0
			if ev.Result != nil {
				plaintextLen = len(ev.Result.Plaintext)
			}
			metrics.ObserveRecord(ev.Status(), plaintextLen)
			if !opts.SummaryOnly {
				report(printer.Record(output.NewRecordView(ev, opts.Plaintext)))
			}
		},
		OnSession: func(s dissect.SessionSummary) {
			sessions++
			metrics.ObserveSession(s.Version)
			report(printer.Session(s))
		},
	})

	if opts.KeyLogFile != "" {
		if opts.FollowKeyLog {
			watcher := keylog.NewWatcher(opts.KeyLogFile, sink, keylog.WatcherConfig{PollInterval: opts.PollInterval})
			if err := watcher.Start(ctx); err != nil {
				return fmt.Errorf("failed to follow key log: %w", err)
			}
			defer func() {
				if err := watcher.Stop(); err != nil {
					logger.Warn("failed to stop key log watcher", "error", err)
				}
			}()
		} else if err := loadKeyLog(opts.KeyLogFile, sink); err != nil {
			return err
		}
	}

	stats, err := dissect.ReadPcap(ctx, opts.ReadFile, tracker, dissect.PcapOptions{Ports: opts.Ports})
	if errors.Is(err, context.Canceled) {
		logger.Info("interrupted, reporting what was read", "packets", stats.Packets)
	} else if err != nil {
		return err
	}

	if opts.TwoPass && opts.KeyLogFile != "" && !opts.FollowKeyLog {
		if err := loadKeyLog(opts.KeyLogFile, sink); err != nil {
			logger.Warn("failed to reload key log", "error", err)
		}
	}
	if opts.TwoPass {
		if n := tracker.Retry(); n > 0 {
			logger.Info("second pass decrypted pending records", "records", n)
		}
	}
	tracker.Finish()

	cacheStats := cache.Stats()
	report(printer.Report(output.Report{
		Capture:  stats,
		Tracker:  tracker.Stats(),
		Sessions: sessions,
		Secrets: output.SecretStats{
			Entries:    cacheStats.Entries,
			Collisions: cacheStats.Collisions,
			Lookups:    cacheStats.Lookups,
			Hits:       cacheStats.Hits,
		},
	}))
	if printErr != nil {
		return fmt.Errorf("failed to write output: %w", printErr)
	}
	return nil
}

func loadKeyLog(path string, sink keylog.Sink) error {
	n, errs := keylog.LoadFile(path, sink, false)
	var pathErr *fs.PathError
	if n == 0 && len(errs) == 1 && errors.As(errs[0], &pathErr) {
		return fmt.Errorf("failed to read key log: %w", errs[0])
	}
	for i, err := range errs {
		if i == 5 {
			logger.Warn("more key log lines skipped", "count", len(errs)-i)
			break
		}
		logger.Warn("skipped key log line", "error", err)
	}
	logger.Info("loaded key log", "path", path, "entries", n)
	return nil
}

func loadRSAKeys(specs []string) (*tlsdecrypt.RSAKeyring, error) {
	keyring := tlsdecrypt.NewRSAKeyring()
	for _, spec := range specs {
		path, password := tlsdecrypt.ParseKeySpec(spec)
		n, err := keyring.LoadFile(path, password)
		if err != nil {
			return nil, fmt.Errorf("failed to load RSA key %s: %w", path, err)
		}
		logger.Info("loaded RSA keys", "path", path, "keys", n)
	}
	return keyring, nil
}
