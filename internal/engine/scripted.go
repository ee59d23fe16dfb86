package engine

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	eosPiece     = "</s>"
	defaultPeak  = 10
	echoVocabCap = 1 << 16
)

// ScriptedOptions configures a Scripted engine. The zero value echoes the
// prompt back word by word and then emits EOS.
type ScriptedOptions struct {
	// Script lists the words to emit, in order, before EOS. Nil echoes the
	// prompt instead.
	Script []string
	// Peak is the logit given to the scripted token; every other token scores 0.
	Peak float32
	// StepDelay is slept inside every Decode to stand in for compute.
	StepDelay time.Duration

	// Failure injection. Step numbers count generated tokens starting at 1.
	ContextErr   error
	TokenizeErr  error
	FailDecodeAt int
	FailLogitsAt int
	PanicAt      int
}

// Scripted is a deterministic word-level engine. Each vocabulary entry is a
// word followed by a space; token 0 is EOS.
type Scripted struct {
	opts ScriptedOptions

	mu     sync.Mutex
	pieces []string
	ids    map[string]Token
	script []Token
	live   int
	closed bool
}

// NewScripted returns a scripted engine.
func NewScripted(opts ScriptedOptions) *Scripted {
	if opts.Peak == 0 {
		opts.Peak = defaultPeak
	}
	s := &Scripted{
		opts:   opts,
		pieces: []string{eosPiece},
		ids:    map[string]Token{eosPiece: 0},
	}
	if opts.Script != nil {
		s.script = make([]Token, 0, len(opts.Script))
		for _, w := range opts.Script {
			s.script = append(s.script, s.intern(w+" "))
		}
	}
	return s
}

func (s *Scripted) intern(piece string) Token {
	if id, ok := s.ids[piece]; ok {
		return id
	}
	id := Token(len(s.pieces))
	s.pieces = append(s.pieces, piece)
	s.ids[piece] = id
	return id
}

func (s *Scripted) NewContext(contextSize int) (Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if s.opts.ContextErr != nil {
		return nil, s.opts.ContextErr
	}
	if contextSize <= 0 {
		return nil, fmt.Errorf("invalid context size %d", contextSize)
	}
	s.live++
	c := &scriptedContext{eng: s, size: contextSize}
	if s.script != nil {
		c.script = s.script
	}
	return c, nil
}

func (s *Scripted) Tokenize(text string) ([]Token, error) {
	if s.opts.TokenizeErr != nil {
		return nil, s.opts.TokenizeErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	words := strings.Fields(text)
	if len(s.pieces)+len(words) > echoVocabCap {
		return nil, errors.New("vocabulary full")
	}
	out := make([]Token, 0, len(words))
	for _, w := range words {
		out = append(out, s.intern(w+" "))
	}
	return out, nil
}

func (s *Scripted) TokenToText(tok Token) string {
	if tok == s.EOS() {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if tok < 0 || int(tok) >= len(s.pieces) {
		return ""
	}
	return s.pieces[tok]
}

func (s *Scripted) EOS() Token { return 0 }

func (s *Scripted) VocabSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pieces)
}

// LiveContexts reports how many contexts are allocated and not yet closed.
func (s *Scripted) LiveContexts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live
}

func (s *Scripted) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type scriptedContext struct {
	eng    *Scripted
	size   int
	mu     sync.Mutex
	script []Token
	pos    int
	steps  int
	primed bool
	logits []float32
	closed bool
}

func (c *scriptedContext) Decode(tokens []Token) error {
	if d := c.eng.opts.StepDelay; d > 0 {
		time.Sleep(d)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.pos+len(tokens) > c.size {
		return fmt.Errorf("context window exceeded: %d tokens, size %d", c.pos+len(tokens), c.size)
	}
	if !c.primed {
		c.primed = true
		if c.script == nil {
			c.script = append([]Token(nil), tokens...)
		}
		c.pos += len(tokens)
		return nil
	}
	c.steps++
	if c.steps == c.eng.opts.FailDecodeAt {
		return fmt.Errorf("decode failed at step %d", c.steps)
	}
	c.pos += len(tokens)
	return nil
}

func (c *scriptedContext) Logits() ([]float32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	step := c.steps + 1
	if step == c.eng.opts.PanicAt {
		panic(fmt.Sprintf("scripted engine: panic at step %d", step))
	}
	if step == c.eng.opts.FailLogitsAt {
		return nil, fmt.Errorf("logits unavailable at step %d", step)
	}
	n := c.eng.VocabSize()
	if cap(c.logits) < n {
		c.logits = make([]float32, n)
	}
	logits := c.logits[:n]
	clear(logits)
	target := c.eng.EOS()
	if c.steps < len(c.script) {
		target = c.script[c.steps]
	}
	logits[target] = c.eng.opts.Peak
	return logits, nil
}

func (c *scriptedContext) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.eng.mu.Lock()
	c.eng.live--
	c.eng.mu.Unlock()
	return nil
}
