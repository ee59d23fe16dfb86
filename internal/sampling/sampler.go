// Package sampling picks the next token from a vector of logits.
//
// Greedy mode is a plain argmax. TemperatureTopP mode runs, in order:
// repetition penalty, temperature softmax, nucleus (top-p) truncation and a
// uniform draw over the surviving candidates. A Sampler is owned by a single
// generation worker and is not safe for concurrent use.
package sampling

import (
	"math"
	"math/rand"
	"sort"
	"time"
)

type Sampler struct {
	cfg  Config
	rng  *rand.Rand
	work []float32
	prob []float64
	idx  []int
	seen map[int]struct{}
}

// New returns a sampler for cfg after normalization.
func New(cfg Config) *Sampler {
	cfg, _ = cfg.Normalize()
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Sampler{
		cfg:  cfg,
		rng:  rand.New(rand.NewSource(seed)),
		seen: make(map[int]struct{}),
	}
}

func (s *Sampler) Config() Config { return s.cfg }

// Sample returns a token id in [0, len(logits)). logits is never modified.
// An empty vector panics: the caller must not ask for a token from an empty
// vocabulary.
func (s *Sampler) Sample(logits []float32, hist *History) int {
	if len(logits) == 0 {
		panic("sampling: empty logits")
	}
	if s.cfg.Mode == Greedy {
		return Argmax(logits)
	}

	scores := logits
	if s.cfg.penalizes() && hist != nil && hist.Len() > 0 {
		scores = s.penalize(logits, hist)
	}

	prob := s.softmax(scores)
	if prob == nil {
		return Argmax(scores)
	}

	idx := s.candidates(prob)
	var mass float64
	for _, i := range idx {
		mass += prob[i]
	}
	if !(mass > 0) {
		return Argmax(scores)
	}

	r := s.rng.Float64() * mass
	var c float64
	for _, i := range idx {
		c += prob[i]
		if c >= r {
			return i
		}
	}
	return idx[len(idx)-1]
}

// penalize copies logits into scratch space and shrinks the score of every
// token seen in the last RepetitionWindow history entries.
func (s *Sampler) penalize(logits []float32, hist *History) []float32 {
	if cap(s.work) < len(logits) {
		s.work = make([]float32, len(logits))
	}
	work := s.work[:len(logits)]
	copy(work, logits)

	clear(s.seen)
	hist.Recent(s.cfg.RepetitionWindow, func(tok int) {
		if tok >= 0 && tok < len(work) {
			s.seen[tok] = struct{}{}
		}
	})
	p := s.cfg.RepetitionPenalty
	for tok := range s.seen {
		if work[tok] > 0 {
			work[tok] /= p
		} else {
			work[tok] *= p
		}
	}
	return work
}

// softmax computes exp((x-max)/T) normalized to 1. It returns nil when no
// candidate ends up with positive probability.
func (s *Sampler) softmax(scores []float32) []float64 {
	if cap(s.prob) < len(scores) {
		s.prob = make([]float64, len(scores))
	}
	prob := s.prob[:len(scores)]
	invT := 1.0 / float64(s.cfg.Temperature)

	maxv := math.Inf(-1)
	for _, v := range scores {
		if x := float64(v) * invT; x > maxv {
			maxv = x
		}
	}
	if math.IsInf(maxv, 0) || math.IsNaN(maxv) {
		return nil
	}
	var sum float64
	for i, v := range scores {
		e := math.Exp(float64(v)*invT - maxv)
		if math.IsNaN(e) {
			e = 0
		}
		prob[i] = e
		sum += e
	}
	if !(sum > 0) {
		return nil
	}
	inv := 1.0 / sum
	for i := range prob {
		prob[i] *= inv
	}
	return prob
}

// candidates returns the token ids eligible for the draw. With TopP < 1 they
// are ordered by probability descending and cut after the smallest prefix
// whose cumulative mass reaches TopP; otherwise every token is eligible in
// id order.
func (s *Sampler) candidates(prob []float64) []int {
	if cap(s.idx) < len(prob) {
		s.idx = make([]int, len(prob))
	}
	idx := s.idx[:len(prob)]
	for i := range idx {
		idx[i] = i
	}
	if s.cfg.TopP >= 1 {
		return idx
	}
	sort.SliceStable(idx, func(a, b int) bool { return prob[idx[a]] > prob[idx[b]] })
	topP := float64(s.cfg.TopP)
	var c float64
	for n, i := range idx {
		c += prob[i]
		if c >= topP {
			return idx[:n+1]
		}
	}
	return idx
}

// Argmax returns the index of the largest value; ties go to the lowest index.
func Argmax(x []float32) int {
	if len(x) == 0 {
		panic("sampling: argmax of empty slice")
	}
	best := 0
	for i := 1; i < len(x); i++ {
		if x[i] > x[best] {
			best = i
		}
	}
	return best
}
