package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"taskd/internal/config"
	"taskd/internal/engine"
	"taskd/internal/manager"
	"taskd/pkg/types"
)

type runFlags struct {
	maxTokens     int
	terminator    string
	sampler       string
	temperature   float32
	topP          float32
	repeatPenalty float32
	repeatWindow  int
	seed          int64
	pollInterval  time.Duration
	capacity      int
	metrics       bool
	events        bool
}

func newRunCmd(a *app) *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run PROMPT",
		Short: "Generate text for one prompt, streaming it as it is produced",
		Example: "  taskd run \"once upon a time\"\n" +
			"  taskd run --engine llama --model tiny --sampler temperature_top_p --temperature 0.7 \"hello\"",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := f.samplerOverrides(cmd, a.cfg.Sampler)
			if err != nil {
				return err
			}
			return a.runOne(cmd.Context(), args[0], f, sc)
		},
	}
	fl := cmd.Flags()
	fl.IntVar(&f.maxTokens, "max-tokens", 128, "upper bound on generated tokens")
	fl.StringVar(&f.terminator, "terminator", "", "stop once this text appears in the output")
	fl.StringVar(&f.sampler, "sampler", "", "sampler: greedy|temperature_top_p")
	fl.Float32Var(&f.temperature, "temperature", 0, "softmax temperature")
	fl.Float32Var(&f.topP, "top-p", 0, "nucleus cumulative probability")
	fl.Float32Var(&f.repeatPenalty, "repeat-penalty", 0, "repetition penalty (>1 enables it)")
	fl.IntVar(&f.repeatWindow, "repeat-window", 0, "recent tokens considered by the repetition penalty")
	fl.Int64Var(&f.seed, "seed", 0, "sampling seed (0 = time seeded)")
	fl.DurationVar(&f.pollInterval, "poll-interval", 50*time.Millisecond, "how often the task is polled")
	fl.IntVar(&f.capacity, "capacity", 1<<16, "poll buffer capacity in bytes")
	fl.BoolVar(&a.jsonOut, "json", false, "print the final snapshot as JSON instead of streaming text")
	fl.BoolVar(&f.metrics, "metrics", false, "print task metrics in Prometheus text format on exit")
	fl.BoolVar(&f.events, "events", false, "print the task lifecycle events on exit")
	return cmd
}

// samplerOverrides applies the sampler flags the user set on top of base.
func (f runFlags) samplerOverrides(cmd *cobra.Command, base config.SamplerConfig) (config.SamplerConfig, error) {
	fl := cmd.Flags()
	if fl.Changed("sampler") {
		base.Mode = f.sampler
	}
	if fl.Changed("temperature") {
		base.Temperature = f.temperature
	}
	if fl.Changed("top-p") {
		base.TopP = f.topP
	}
	if fl.Changed("repeat-penalty") {
		base.RepeatPenalty = f.repeatPenalty
	}
	if fl.Changed("repeat-window") {
		base.RepeatWindow = f.repeatWindow
	}
	if fl.Changed("seed") {
		base.Seed = f.seed
	}
	if f.pollInterval <= 0 {
		return base, fmt.Errorf("--poll-interval must be positive")
	}
	return base, nil
}

func (a *app) runOne(ctx context.Context, prompt string, f runFlags, sc config.SamplerConfig) error {
	if ctx == nil {
		ctx = context.Background()
	}
	smp, err := sc.Sampling()
	if err != nil {
		return err
	}
	eng, err := a.openEngine()
	if err != nil {
		return err
	}
	pub := manager.NewMemoryPublisher()
	m, err := a.newManager(eng, pub)
	if err != nil {
		_ = eng.Close()
		return err
	}
	defer a.shutdown(m, eng)

	id, err := m.Submit(prompt, f.maxTokens)
	if err != nil {
		return err
	}
	if f.terminator != "" {
		if _, err := m.SetTerminator(id, f.terminator); err != nil {
			return err
		}
	}
	ack, err := m.SetSampler(id, smp)
	if err != nil {
		return err
	}
	for _, adj := range ack.Adjustments {
		fmt.Fprintf(a.stderr, "taskd: adjusted %s\n", adj)
	}
	if _, err := m.Start(id); err != nil {
		return err
	}

	// The first interrupt cancels the task; a second one kills the process.
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	var stream io.Writer = a.stdout
	if a.jsonOut {
		stream = nil
	}
	snap, err := followTask(m, id, followOptions{
		interval:  f.pollInterval,
		capacity:  f.capacity,
		stream:    stream,
		interrupt: sigCtx.Done(),
		onInterrupt: func() {
			stop()
			fmt.Fprintln(a.stderr, "\ntaskd: cancelling, interrupt again to abort")
		},
	})
	if err != nil {
		return err
	}
	a.report(snap)
	if f.events {
		printEvents(a.stderr, pub.Events())
	}
	if f.metrics {
		if err := writeMetrics(a.stderr); err != nil {
			return err
		}
	}
	if code := exitCodeFor(snap.Status); code != exitOK {
		return exitErr{code: code}
	}
	return nil
}

// report prints the final snapshot.
func (a *app) report(snap types.TaskSnapshot) {
	if a.jsonOut {
		_ = json.NewEncoder(a.stdout).Encode(snap)
		return
	}
	if snap.Text != "" {
		fmt.Fprintln(a.stdout)
	}
	fmt.Fprintf(a.stderr, "taskd: %s (%d/%d tokens)", snap.Status, snap.GeneratedTokens, snap.MaxTokens)
	if snap.Truncated {
		fmt.Fprint(a.stderr, ", output truncated to --capacity")
	}
	fmt.Fprintln(a.stderr)
}

// shutdown stops the manager and frees the engine. The engine stays open if
// a worker is still running after the timeout.
func (a *app) shutdown(m *manager.Manager, eng engine.Engine) {
	ctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
	defer cancel()
	if err := m.Shutdown(ctx); err != nil {
		a.log.Warn().Err(err).Msg("shutdown timed out, leaving engine open")
		return
	}
	if err := eng.Close(); err != nil {
		a.log.Warn().Err(err).Msg("close engine")
	}
}

func exitCodeFor(status string) int {
	switch manager.Status(status) {
	case manager.StatusFinished:
		return exitOK
	case manager.StatusInterrupted:
		return exitInterrupted
	default:
		return exitError
	}
}

func printEvents(w io.Writer, events []manager.Event) {
	for _, e := range events {
		fmt.Fprintf(w, "event %-15s task=%d", e.Name, e.TaskID)
		if len(e.Fields) > 0 {
			b, _ := json.Marshal(e.Fields)
			fmt.Fprintf(w, " %s", b)
		}
		fmt.Fprintln(w)
	}
}
