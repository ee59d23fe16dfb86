package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"taskd/internal/config"
	"taskd/internal/manager"
	"taskd/pkg/types"
)

// batchFile is the YAML document read by `taskd batch`.
type batchFile struct {
	Jobs []batchJob `yaml:"jobs"`
}

type batchJob struct {
	Name       string `yaml:"name"`
	Prompt     string `yaml:"prompt"`
	MaxTokens  int    `yaml:"max_tokens"`
	Terminator string `yaml:"terminator"`
	// Sampler overrides the configured sampler field by field.
	Sampler *config.SamplerConfig `yaml:"sampler"`
	// CancelAfterMS cancels the job this long after it starts; 0 never.
	CancelAfterMS int `yaml:"cancel_after_ms"`
}

// batchResult is one line of `taskd batch --json` output.
type batchResult struct {
	Name string `json:"name"`
	types.TaskSnapshot
}

func newBatchCmd(a *app) *cobra.Command {
	var pollInterval time.Duration
	cmd := &cobra.Command{
		Use:   "batch FILE",
		Short: "Run every job of a YAML file concurrently through one manager",
		Example: "  taskd batch jobs.yaml\n" +
			"  taskd batch --max-concurrent 2 --json jobs.yaml",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobs, err := readBatch(args[0])
			if err != nil {
				return err
			}
			results, err := a.runBatch(cmd.Context(), jobs, pollInterval)
			if err != nil {
				return err
			}
			a.printBatch(results)
			for _, r := range results {
				if r.Status == string(manager.StatusError) {
					return exitErr{code: exitError}
				}
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&pollInterval, "poll-interval", 20*time.Millisecond, "how often each task is polled")
	cmd.Flags().BoolVar(&a.jsonOut, "json", false, "print one JSON object per job")
	return cmd
}

func readBatch(path string) ([]batchJob, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f batchFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(f.Jobs) == 0 {
		return nil, fmt.Errorf("%s: no jobs", path)
	}
	for i := range f.Jobs {
		j := &f.Jobs[i]
		if j.Name == "" {
			j.Name = fmt.Sprintf("job-%d", i+1)
		}
		if j.MaxTokens == 0 {
			j.MaxTokens = 128
		}
	}
	return f.Jobs, nil
}

// runBatch submits and starts every job, then follows them concurrently.
// Results keep the order of jobs.
func (a *app) runBatch(ctx context.Context, jobs []batchJob, pollInterval time.Duration) ([]batchResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if pollInterval <= 0 {
		return nil, fmt.Errorf("--poll-interval must be positive")
	}
	eng, err := a.openEngine()
	if err != nil {
		return nil, err
	}
	m, err := a.newManager(eng, nil)
	if err != nil {
		_ = eng.Close()
		return nil, err
	}
	defer a.shutdown(m, eng)

	ids := make([]int64, len(jobs))
	for i, j := range jobs {
		id, err := a.submitJob(m, j)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", j.Name, err)
		}
		ids[i] = id
	}

	// An interrupt cancels every job; each is still followed to retirement.
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return followBatch(ctx, m, jobs, ids, pollInterval)
}

// followBatch starts every submitted job and follows them concurrently. If a
// Start fails, the jobs already running are cancelled and followed to
// retirement before the error is returned.
func followBatch(ctx context.Context, m *manager.Manager, jobs []batchJob, ids []int64, pollInterval time.Duration) ([]batchResult, error) {
	ctx, abort := context.WithCancel(ctx)
	defer abort()

	results := make([]batchResult, len(jobs))
	var timers []*time.Timer
	defer func() {
		for _, t := range timers {
			t.Stop()
		}
	}()
	g, gctx := errgroup.WithContext(ctx)
	for i := range jobs {
		if _, err := m.Start(ids[i]); err != nil {
			abort()
			_ = g.Wait()
			return nil, fmt.Errorf("%s: %w", jobs[i].Name, err)
		}
		if d := jobs[i].CancelAfterMS; d > 0 {
			id := ids[i]
			timers = append(timers, time.AfterFunc(time.Duration(d)*time.Millisecond, func() { m.Cancel(id) }))
		}
		g.Go(func() error {
			snap, err := followTask(m, ids[i], followOptions{
				interval:  pollInterval,
				capacity:  1 << 20,
				interrupt: gctx.Done(),
			})
			results[i] = batchResult{Name: jobs[i].Name, TaskSnapshot: snap}
			return err
		})
	}
	err := g.Wait()
	return results, err
}

func (a *app) submitJob(m *manager.Manager, j batchJob) (int64, error) {
	id, err := m.Submit(j.Prompt, j.MaxTokens)
	if err != nil {
		return 0, err
	}
	if j.Terminator != "" {
		if _, err := m.SetTerminator(id, j.Terminator); err != nil {
			return 0, err
		}
	}
	if j.Sampler != nil {
		sc := mergeSampler(a.cfg.Sampler, *j.Sampler)
		smp, err := sc.Sampling()
		if err != nil {
			return 0, err
		}
		ack, err := m.SetSampler(id, smp)
		if err != nil {
			return 0, err
		}
		for _, adj := range ack.Adjustments {
			a.log.Warn().Int64("task_id", id).Str("adjustment", adj.String()).Msg("sampler parameter clamped")
		}
	}
	return id, nil
}

// mergeSampler overlays the non-zero fields of o on base.
func mergeSampler(base, o config.SamplerConfig) config.SamplerConfig {
	if o.Mode != "" {
		base.Mode = o.Mode
	}
	if o.Temperature != 0 {
		base.Temperature = o.Temperature
	}
	if o.TopP != 0 {
		base.TopP = o.TopP
	}
	if o.RepeatPenalty != 0 {
		base.RepeatPenalty = o.RepeatPenalty
	}
	if o.RepeatWindow != 0 {
		base.RepeatWindow = o.RepeatWindow
	}
	if o.Seed != 0 {
		base.Seed = o.Seed
	}
	return base
}

func (a *app) printBatch(results []batchResult) {
	if a.jsonOut {
		enc := json.NewEncoder(a.stdout)
		for _, r := range results {
			_ = enc.Encode(r)
		}
		return
	}
	tw := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSTATUS\tTOKENS\tTEXT")
	for _, r := range results {
		fmt.Fprintf(tw, "%s\t%s\t%d/%d\t%q\n", r.Name, r.Status, r.GeneratedTokens, r.MaxTokens, r.Text)
	}
	_ = tw.Flush()
}
