package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/chronicle/internal/config"
	"firestige.xyz/chronicle/internal/core"
	logpkg "firestige.xyz/chronicle/internal/log"
	"firestige.xyz/chronicle/internal/metrics"
	"firestige.xyz/chronicle/internal/pipeline"
	"firestige.xyz/chronicle/internal/pool"
	"firestige.xyz/chronicle/pkg/plugin"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Capture and reconstruct NFS traffic",
	Long: `Run the capture engine in the foreground.

The engine will:
  1. Load configuration and apply the command-line overrides
  2. Initialize logging and metrics
  3. Read frames from the capture file or interface
  4. Stop at end of file, or on SIGINT/SIGTERM for live capture
  5. Drain every flow, flush the sinks and print a summary`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadRunConfig()
		if err != nil {
			return err
		}
		if err := logpkg.Init(cfg.Log); err != nil {
			return fmt.Errorf("failed to init logging: %w", err)
		}
		defer logpkg.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if cfg.Metrics.Enabled {
			srv := metrics.NewServer(cfg.Metrics.Listen, cfg.Metrics.Path)
			if err := srv.Start(ctx); err != nil {
				return fmt.Errorf("failed to start metrics server: %w", err)
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := srv.Stop(shutdownCtx); err != nil {
					slog.Error("error stopping metrics server", "error", err)
				}
			}()
		}

		res, err := runEngine(ctx, cfg)
		printSummary(cmd.OutOrStdout(), res)
		return err
	},
}

var (
	runPcap      string
	runInterface string
	runShards    int
)

func init() {
	runCmd.Flags().StringVar(&runPcap, "pcap", "", "replay a pcap or pcapng file")
	runCmd.Flags().StringVar(&runInterface, "interface", "", "capture live from an interface")
	runCmd.Flags().IntVar(&runShards, "shards", 0, "number of flow shards (overrides config)")
	runCmd.MarkFlagsMutuallyExclusive("pcap", "interface")
}

func loadRunConfig() (*config.GlobalConfig, error) {
	cfg, err := config.Read(configFile)
	if err != nil {
		return nil, err
	}
	switch {
	case runPcap != "":
		cfg.Capture.Type, cfg.Capture.File = "pcap", runPcap
	case runInterface != "":
		cfg.Capture.Type, cfg.Capture.Interface = "afpacket", runInterface
	}
	if runShards > 0 {
		cfg.Pipeline.Shards = runShards
	}
	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// runResult is what a finished run reports.
type runResult struct {
	Elapsed time.Duration
	Source  plugin.SourceStats
	Engine  pipeline.Stats
}

// runEngine builds the plugins and the pipeline from cfg and runs it to
// completion. The result is valid even when an error is returned after
// the engine started.
func runEngine(ctx context.Context, cfg *config.GlobalConfig) (runResult, error) {
	var res runResult

	newSource, err := plugin.GetSourceFactory(cfg.Capture.Type)
	if err != nil {
		return res, err
	}
	src := newSource()
	if err := src.Init(cfg.Capture.SourceOptions()); err != nil {
		return res, fmt.Errorf("%w: source %s: %w", core.ErrPluginInitFail, cfg.Capture.Type, err)
	}

	sinks := make([]plugin.Sink, 0, len(cfg.Sinks))
	for i, sc := range cfg.Sinks {
		newSink, err := plugin.GetSinkFactory(sc.Type)
		if err != nil {
			return res, err
		}
		s := newSink()
		if err := s.Init(sc.Options); err != nil {
			return res, fmt.Errorf("%w: sinks[%d] %s: %w", core.ErrPluginInitFail, i, sc.Type, err)
		}
		sinks = append(sinks, s)
	}

	p, err := pipeline.NewBuilder().
		WithShards(cfg.Pipeline.Shards).
		WithQueueSize(cfg.Pipeline.QueueSize).
		WithRingReplicas(cfg.Pipeline.RingReplicas).
		WithRPC(cfg.Parser()).
		WithPool(pool.New(cfg.Pool.Pool())).
		WithSources(src).
		WithSinks(sinks...).
		Build()
	if err != nil {
		return res, err
	}

	slog.Info("engine starting",
		"capture", cfg.Capture.Type,
		"shards", cfg.Pipeline.Shards,
		"sinks", len(sinks))
	start := time.Now()
	err = p.Run(ctx)
	res = runResult{Elapsed: time.Since(start), Source: src.Stats(), Engine: p.Stats()}
	slog.Info("engine stopped", "elapsed", res.Elapsed.Round(time.Millisecond), "records", res.Engine.Records)
	return res, err
}

func printSummary(w io.Writer, r runResult) {
	e, rs, fc := r.Engine, r.Engine.RPC, r.Engine.RPC.Flows
	fmt.Fprintf(w, "elapsed            %s\n", r.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "packets            received=%d dropped=%d decoded=%d rejected=%d\n",
		r.Source.PacketsReceived, r.Source.PacketsDropped, e.Decoded, e.DecodeErrors)
	fmt.Fprintf(w, "pdus               good=%d bad=%d non_rpc=%d\n", rs.GoodPDUs, rs.BadPDUs, rs.NonRPC)
	fmt.Fprintf(w, "complete           calls=%d replies=%d\n", rs.CompleteCalls, rs.CompleteReplies)
	fmt.Fprintf(w, "complete header    calls=%d replies=%d\n", rs.CompleteHeaderCalls, rs.CompleteHeaderReplies)
	fmt.Fprintf(w, "unmatched          calls=%d replies=%d\n", rs.UnmatchedCalls, rs.UnmatchedReplies)
	fmt.Fprintf(w, "scanned headers    calls=%d replies=%d forced_scans=%d forced_gc=%d\n",
		rs.ScannedCallHeaders, rs.ScannedReplyHeaders, rs.ForcedReplyScans, rs.ForcedGC)
	fmt.Fprintf(w, "tcp                seen=%d out_of_order=%d retrans=%d discarded=%d dropped=%d\n",
		fc.Seen, fc.OutOfOrder, fc.GoodRetrans+fc.BadRetrans+fc.WrapGoodRetrans+fc.WrapBadRetrans+fc.StaleRetrans,
		fc.TailDiscard+fc.WrapDiscard+fc.MiscDiscard, fc.Dropped)
	fmt.Fprintf(w, "nfs                parsable=%d unparsable=%d failed=%d\n", e.NFS.Parsable, e.NFS.Unparsable, e.NFS.Failed)
	fmt.Fprintf(w, "records            emitted=%d sink_errors=%d pool_exhausted=%d pool_in_use=%d\n",
		e.Records, e.SinkErrors, e.PoolExhausted, e.PoolInUse)
}
