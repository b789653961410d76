package main

import (
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/netprobe-io/netprobe/internal/domain"
	"github.com/netprobe-io/netprobe/internal/logging"
	"github.com/netprobe-io/netprobe/internal/session"
)

var (
	targets     []string
	interval    time.Duration
	timeout     time.Duration
	concurrency int
	count       int
	duration    time.Duration
	window      int
	verbose     bool
	quiet       bool
)

var rootCmd = &cobra.Command{
	Use:   "netprobe",
	Short: "Concurrent multi-host network prober",
	Long: `netprobe runs latency, reachability and bandwidth probes against a set
of targets and reports windowed statistics per target.

Target specs:
  8.8.8.8                      icmp ping
  icmp:example.com             icmp ping by hostname
  tcp:example.com:443          tcp connect
  bandwidth:https://host/file  http download sample
An optional "id=" prefix names the target: dns=tcp:9.9.9.9:53`,
	RunE: runProbes,
}

func init() {
	rootCmd.Flags().StringArrayVarP(&targets, "target", "t", nil, "target spec (repeatable)")
	rootCmd.Flags().DurationVarP(&interval, "interval", "i", time.Second, "time between probe rounds")
	rootCmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "per-probe timeout")
	rootCmd.Flags().IntVarP(&concurrency, "concurrency", "c", 8, "max probes in flight")
	rootCmd.Flags().IntVarP(&count, "count", "n", 0, "stop after this many rounds (0 = unlimited)")
	rootCmd.Flags().DurationVarP(&duration, "duration", "d", 0, "stop after this much time (0 = until interrupted)")
	rootCmd.Flags().IntVarP(&window, "window", "w", 100, "samples per target in the stats window")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "suppress per-probe lines, print the final table only")
	_ = rootCmd.MarkFlagRequired("target")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runProbes(cmd *cobra.Command, _ []string) error {
	cfg := session.Config{
		Interval:    interval,
		Timeout:     timeout,
		Concurrency: concurrency,
		MaxTicks:    count,
		Duration:    duration,
		Window:      window,
	}
	for i, spec := range targets {
		t, err := parseTarget(spec, i)
		if err != nil {
			return err
		}
		cfg.Targets = append(cfg.Targets, t)
	}

	logger := logging.NewConsoleLogger(verbose)
	defer logger.Sync()

	sess, err := session.Configure(logger, cfg)
	if err != nil {
		return err
	}

	events, cancelSub := sess.Subscribe()
	defer cancelSub()

	if err := sess.Start(); err != nil {
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		fmt.Fprintln(os.Stderr, "stopping...")
		sess.Stop()
	}()

	for res := range events {
		if quiet {
			continue
		}
		printResult(res)
	}
	sess.Wait()

	printSummary(sess)
	if n := sess.Abandoned(); n > 0 {
		fmt.Fprintf(os.Stderr, "%d probe(s) abandoned at shutdown\n", n)
	}
	return nil
}

// parseTarget turns a CLI spec into a target. idx seeds the default ID for
// specs without an "id=" prefix.
func parseTarget(spec string, idx int) (domain.Target, error) {
	var t domain.Target

	id := ""
	if eq := strings.Index(spec, "="); eq > 0 && !strings.Contains(spec[:eq], ":") {
		id, spec = spec[:eq], spec[eq+1:]
	}

	kind := domain.KindICMP
	rest := spec
	switch {
	case strings.HasPrefix(spec, "icmp:"):
		rest = strings.TrimPrefix(spec, "icmp:")
	case strings.HasPrefix(spec, "tcp:"):
		kind = domain.KindTCP
		rest = strings.TrimPrefix(spec, "tcp:")
	case strings.HasPrefix(spec, "bandwidth:"):
		kind = domain.KindBandwidth
		rest = strings.TrimPrefix(spec, "bandwidth:")
	}

	t.Kind = kind
	t.Address = rest

	if kind == domain.KindTCP {
		i := strings.LastIndex(rest, ":")
		if i < 0 {
			return t, fmt.Errorf("tcp target %q needs host:port", spec)
		}
		port, err := strconv.Atoi(rest[i+1:])
		if err != nil || port < 1 || port > 65535 {
			return t, fmt.Errorf("tcp target %q has a bad port", spec)
		}
		t.Address = rest[:i]
		t.Port = port
	}

	if id == "" {
		id = fmt.Sprintf("%s-%d", t.Address, idx)
	}
	t.ID = domain.TargetID(id)
	return t, nil
}

func printResult(r domain.ProbeResult) {
	if !r.Success {
		fmt.Printf("%-20s  FAIL  %s", r.TargetID, r.Cause)
		if r.Message != "" {
			fmt.Printf("  (%s)", r.Message)
		}
		fmt.Println()
		return
	}
	if r.Throughput > 0 {
		fmt.Printf("%-20s  %s\n", r.TargetID, fmtThroughput(r.Throughput))
		return
	}
	fmt.Printf("%-20s  %.2f ms\n", r.TargetID, r.LatencyMS)
}

func printSummary(sess *session.Session) {
	snaps := sess.SnapshotAll()
	ids := make([]string, 0, len(snaps))
	for id := range snaps {
		ids = append(ids, string(id))
	}
	sort.Strings(ids)

	fmt.Println()
	fmt.Printf("%-20s %7s %7s %8s %8s %8s %8s %8s %8s %8s\n",
		"TARGET", "SAMPLES", "LOSS", "MIN", "MEAN", "MAX", "JITTER", "P50", "P90", "P99")
	for _, id := range ids {
		st := snaps[domain.TargetID(id)]
		fmt.Printf("%-20s %7d %6.1f%% %8s %8s %8s %8s %8s %8s %8s\n",
			id, st.SampleCount, st.LossRatio*100,
			fmtMetric(st.Min), fmtMetric(st.Mean), fmtMetric(st.Max),
			fmtMetric(st.Jitter), fmtMetric(st.P50), fmtMetric(st.P90), fmtMetric(st.P99))
	}
}

func fmtMetric(v *float64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'f', 2, 64)
}

func fmtThroughput(bps float64) string {
	switch {
	case bps >= 1<<20:
		return fmt.Sprintf("%.2f MiB/s", bps/(1<<20))
	case bps >= 1<<10:
		return fmt.Sprintf("%.2f KiB/s", bps/(1<<10))
	default:
		return fmt.Sprintf("%.0f B/s", bps)
	}
}
