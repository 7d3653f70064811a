package main

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/viniciushammett/go-log-relearn/internal/api"
	"github.com/viniciushammett/go-log-relearn/internal/buffer"
	"github.com/viniciushammett/go-log-relearn/internal/logger"
	"github.com/viniciushammett/go-log-relearn/internal/metrics"
	"github.com/viniciushammett/go-log-relearn/internal/model"
	"github.com/viniciushammett/go-log-relearn/internal/normalize"
	"github.com/viniciushammett/go-log-relearn/internal/scheduler"
	"github.com/viniciushammett/go-log-relearn/internal/tracing"
)

var (
	version = "0.1.0"
	commit  = "dev"
	date    = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "relearn",
		Short:         "Novelty detection over log streams with pattern-driven retraining",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	var cfgPath string
	root.PersistentFlags().StringVar(&cfgPath, "config", env("CONFIG_PATH", "configs/config.yaml"), "YAML config path")

	// one-shot commands log to stderr, serve logs to stdout
	open := func(w io.Writer) (*app, error) {
		cfg, err := loadConfig(cfgPath)
		if err != nil {
			return nil, err
		}
		return newApp(cfg, logger.NewWithWriter(cfg.LogLevel, w))
	}

	root.AddCommand(
		serveCmd(open),
		fitCmd(open),
		retrainCmd(open),
		ingestCmd(open),
		normalizeCmd(&cfgPath),
		exportPatternsCmd(open),
		&cobra.Command{
			Use:   "version",
			Short: "Print version",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "relearn %s (%s) %s\n", version, commit, date)
			},
		},
	)
	return root
}

type opener func(w io.Writer) (*app, error)

func serveCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (and the retrain scheduler when configured)",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(os.Stdout)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			metrics.MustRegister()
			closer, err := tracing.Init(ctx, a.cfg.Tracing)
			if err != nil {
				a.log.Error().Err(err).Msg("tracing init failed")
				closer = func(context.Context) error { return nil }
			}
			defer func() { _ = closer(context.Background()) }()

			a.watchModels(ctx)
			if sched := a.cfg.Retrain.Schedule; sched != "" {
				go func() {
					if err := scheduler.Run(ctx, a.log, sched, a.svc); err != nil {
						a.log.Error().Err(err).Msg("retrain scheduler stopped")
					}
				}()
			}

			srv := api.NewServer(api.Deps{
				Log:      a.log,
				Service:  a.svc,
				Actions:  a.actions,
				Versions: a.store.Versions,
			}, api.Config{
				Addr:        a.cfg.Server.Addr,
				AuthToken:   a.cfg.Server.AuthToken,
				CORSOrigins: a.cfg.Server.CORSOrigins,
			})
			return srv.Run(ctx)
		},
	}
}

func fitCmd(open opener) *cobra.Command {
	var file string
	var k int
	cmd := &cobra.Command{
		Use:   "fit",
		Short: "Train a new model from a file with one log message per line",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(os.Stderr)
			if err != nil {
				return err
			}
			defer a.Close()

			lines, err := readLines(cmd, file)
			if err != nil {
				return err
			}
			v, err := a.svc.Fit(lines, k)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "model %s trained on %d messages\n", v, len(lines))
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "training file, - for stdin")
	cmd.Flags().IntVar(&k, "k", 0, "cluster count (0 = detector.defaultK)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func retrainCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "retrain",
		Short: "Pop ready patterns from the buffer and refit",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(os.Stderr)
			if err != nil {
				return err
			}
			defer a.Close()
			return json.NewEncoder(cmd.OutOrStdout()).Encode(a.svc.Retrain(cmd.Context()))
		},
	}
}

func ingestCmd(open opener) *cobra.Command {
	var file, source string
	var onlyUnknown bool
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Classify log lines from a file or stdin, one JSON result per line",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(os.Stderr)
			if err != nil {
				return err
			}
			defer a.Close()

			r, err := input(cmd, file)
			if err != nil {
				return err
			}
			defer r.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			enc := json.NewEncoder(cmd.OutOrStdout())
			n, err := a.svc.IngestReader(ctx, r, source, func(line string, res model.DetectionResult) {
				if onlyUnknown && res.Label != model.LabelUnknown {
					return
				}
				_ = enc.Encode(struct {
					Line string `json:"line"`
					model.DetectionResult
				}{line, res})
			})
			a.log.Info().Int("lines", n).Msg("ingest finished")
			return err
		},
	}
	cmd.Flags().StringVar(&file, "file", "-", "log file, - for stdin")
	cmd.Flags().StringVar(&source, "source", "cli", "source label for metrics")
	cmd.Flags().BoolVar(&onlyUnknown, "only-unknown", false, "print unknown lines only")
	return cmd
}

func normalizeCmd(cfgPath *string) *cobra.Command {
	var file string
	var full bool
	cmd := &cobra.Command{
		Use:   "normalize",
		Short: "Print signature and normalised text for each input line",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			norm, bad := normalize.New(cfg.Normalizer.Rules)
			if len(bad) > 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "skipping invalid rules: %s\n", strings.Join(bad, ", "))
			}
			r, err := input(cmd, file)
			if err != nil {
				return err
			}
			defer r.Close()

			out := bufio.NewWriter(cmd.OutOrStdout())
			defer out.Flush()
			sc := bufio.NewScanner(r)
			sc.Buffer(make([]byte, 64*1024), 1<<20)
			for sc.Scan() {
				line := sc.Text()
				n := normalize.Quick(line)
				if full {
					n = norm.Full(line)
				}
				fmt.Fprintf(out, "%s\t%s\n", normalize.Signature(n), n)
			}
			return sc.Err()
		},
	}
	cmd.Flags().StringVar(&file, "file", "-", "input file, - for stdin")
	cmd.Flags().BoolVar(&full, "full", false, "apply the full masking rule set")
	return cmd
}

func exportPatternsCmd(open opener) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export-patterns",
		Short: "Write the pattern buffer as CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := open(os.Stderr)
			if err != nil {
				return err
			}
			defer a.Close()

			dst := cmd.OutOrStdout()
			if out != "" && out != "-" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				dst = f
			}
			n, err := writePatternsCSV(dst, a.buf.Entries(), a.buf.Trigger())
			if err != nil {
				return err
			}
			a.log.Info().Int("patterns", n).Str("out", out).Msg("patterns exported")
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "-", "CSV file, - for stdout")
	return cmd
}

func writePatternsCSV(w io.Writer, entries []buffer.Entry, trigger int) (int, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"signature", "count", "ready", "example"}); err != nil {
		return 0, err
	}
	for _, e := range entries {
		row := []string{e.Signature, strconv.Itoa(e.Count), strconv.FormatBool(e.Count >= trigger), e.Example}
		if err := cw.Write(row); err != nil {
			return 0, err
		}
	}
	cw.Flush()
	return len(entries), cw.Error()
}

func input(cmd *cobra.Command, file string) (io.ReadCloser, error) {
	if file == "" || file == "-" {
		return io.NopCloser(cmd.InOrStdin()), nil
	}
	return os.Open(file)
}

func readLines(cmd *cobra.Command, file string) ([]string, error) {
	r, err := input(cmd, file)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	var lines []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		if l := strings.TrimSpace(sc.Text()); l != "" {
			lines = append(lines, l)
		}
	}
	return lines, sc.Err()
}

func env(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}
