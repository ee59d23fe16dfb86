package manager

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"taskd/internal/engine"
	"taskd/internal/sampling"
)

// runWorker drives one task from running to a terminal status.
func (m *Manager) runWorker(ctx context.Context, t *Task, j job) {
	defer m.wg.Done()
	defer runningWorkers.Dec()

	start := time.Now()
	res := m.generate(ctx, t, j)
	m.finish(t, res, time.Since(start))
}

// generate is the decode loop. Panics from the engine are recovered and
// reported as an error outcome.
func (m *Manager) generate(ctx context.Context, t *Task, j job) (res outcome) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error().Int64("task_id", t.ID).Interface("panic", r).Msg("worker panic recovered")
			res = outcome{status: StatusError, err: fmt.Errorf("internal error: %v", r)}
		}
	}()

	release, err := m.beginGeneration(ctx)
	if err != nil {
		return outcome{status: StatusInterrupted}
	}
	defer release()

	dctx, err := m.eng.NewContext(m.contextSize)
	if err != nil {
		return failed("create decoding context", err)
	}
	hist := sampling.NewHistory(m.historyCap)
	m.mu.Lock()
	t.engCtx = dctx
	t.history = hist
	m.mu.Unlock()

	if ctx.Err() != nil {
		return outcome{status: StatusInterrupted}
	}
	prompt, err := m.eng.Tokenize(j.prompt)
	if err != nil {
		return failed("tokenize prompt", err)
	}
	if err := dctx.Decode(prompt); err != nil {
		return failed("decode prompt", err)
	}

	smp := sampling.New(j.sampler)
	for step := 0; step < j.maxTokens; step++ {
		if ctx.Err() != nil {
			return outcome{status: StatusInterrupted}
		}
		stepStart := time.Now()
		logits, err := dctx.Logits()
		if err != nil {
			return failed("read logits", err)
		}
		if len(logits) == 0 {
			return failed("read logits", errors.New("empty vocabulary"))
		}
		tok := engine.Token(smp.Sample(logits, hist))
		if engine.IsStop(m.eng, tok) {
			return outcome{status: StatusFinished}
		}
		if m.appendPiece(t, m.eng.TokenToText(tok), j.terminator) {
			return outcome{status: StatusFinished}
		}
		hist.Push(int(tok))
		// The last token never needs to be fed back.
		if step+1 < j.maxTokens {
			if err := dctx.Decode([]engine.Token{tok}); err != nil {
				return failed("decode", err)
			}
		}
		decodeStepSeconds.Observe(time.Since(stepStart).Seconds())
	}
	if ctx.Err() != nil {
		return outcome{status: StatusInterrupted}
	}
	return outcome{status: StatusFinished}
}

// appendPiece publishes one generated piece. It reports true when the
// terminator now occurs in the result, which is then cut right after its
// first occurrence. Only the tail that can contain a new match is searched.
func (m *Manager) appendPiece(t *Task, piece, terminator string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := len(t.result)
	t.result = append(t.result, piece...)
	t.generated++
	m.tokens++
	tokensGeneratedTotal.Inc()
	if terminator == "" {
		return false
	}
	from := prev - len(terminator) + 1
	if from < 0 {
		from = 0
	}
	i := bytes.Index(t.result[from:], []byte(terminator))
	if i < 0 {
		return false
	}
	t.result = t.result[:from+i+len(terminator)]
	return true
}

// finish records the terminal status. A task that Shutdown already removed
// from the registry has nobody left to retire it, so its context is freed here.
func (m *Manager) finish(t *Task, res outcome, took time.Duration) {
	m.mu.Lock()
	t.status = res.status
	t.endedAt = time.Now()
	if res.err != nil {
		t.errMsg = res.err.Error()
		if len(t.result) > 0 {
			t.result = append(t.result, '\n')
		}
		t.result = append(t.result, "error: "+t.errMsg...)
	}
	var orphan engine.Context
	if t.retired {
		orphan, t.engCtx = t.engCtx, nil
	}
	generated := t.generated
	m.workers--
	m.mu.Unlock()

	m.closeContext(t.ID, orphan)
	tasksCompletedTotal.WithLabelValues(string(res.status)).Inc()

	ev := m.log.Info()
	if res.err != nil {
		ev = m.log.Error().Err(res.err)
	}
	ev.Int64("task_id", t.ID).Str("trace_id", t.TraceID.String()).Str("status", string(res.status)).
		Int("tokens", generated).Dur("took", took).Msg("task done")
	m.publisher.Publish(Event{Name: EventFinished, TaskID: t.ID, Fields: map[string]any{
		"status": string(res.status),
		"tokens": generated,
	}})
}

func failed(stage string, err error) outcome {
	return outcome{status: StatusError, err: fmt.Errorf("%s: %w", stage, err)}
}
