// Package engine defines the inference collaborator the task manager drives
// one token at a time, plus the implementations shipped with taskd:
//
//   - scripted.go: pure-Go word-level engine ("echo"). Used by tests and as a
//     dry-run backend for the CLI.
//   - llama.go: llama.cpp through yzma. Enabled with `-tags=llama`.
//     A stub (llama_stub.go) is compiled otherwise and reports the
//     dependency as unavailable.
//
// Model weights live in the Engine and are shared read-only between tasks.
// Every task owns exactly one Context; contexts are never shared.
package engine

import (
	"fmt"
	"strings"
)

// Token is a vocabulary index.
type Token int32

// Engine is a loaded model.
type Engine interface {
	// NewContext allocates a fresh decoding context sized to contextSize tokens.
	NewContext(contextSize int) (Context, error)
	Tokenize(text string) ([]Token, error)
	TokenToText(tok Token) string
	EOS() Token
	VocabSize() int
	// Close frees the model. Every Context must be closed first.
	Close() error
}

// Context is per-task decoding state (position, KV cache).
type Context interface {
	// Decode feeds tokens and advances the decoding position.
	Decode(tokens []Token) error
	// Logits returns the scores for the next token after the last Decode.
	// The slice may be reused by the next Decode call.
	Logits() ([]float32, error)
	Close() error
}

// Kinds accepted by Open.
const (
	KindEcho  = "echo"
	KindLlama = "llama"
)

// Options selects and configures an engine.
type Options struct {
	Kind      string
	ModelPath string
	GPULayers int
	Threads   int
	// LibPath locates the llama.cpp shared libraries; empty uses $YZMA_LIB.
	LibPath string
}

// LlamaBuilt reports whether this binary carries the llama.cpp engine.
func LlamaBuilt() bool { return llamaBuilt }

// EndOfGeneration is implemented by engines with more than one stop token.
type EndOfGeneration interface {
	IsEOG(tok Token) bool
}

// IsStop reports whether tok ends generation for e.
func IsStop(e Engine, tok Token) bool {
	if eog, ok := e.(EndOfGeneration); ok && eog.IsEOG(tok) {
		return true
	}
	return tok == e.EOS()
}

// Open loads the engine described by opts.
func Open(opts Options) (Engine, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Kind)) {
	case "", KindEcho:
		return NewScripted(ScriptedOptions{}), nil
	case KindLlama:
		return loadLlama(opts)
	default:
		return nil, fmt.Errorf("unknown engine kind %q", opts.Kind)
	}
}

// InitStatus is the coarse outcome of loading a model.
type InitStatus int

const (
	InitOK InitStatus = iota
	InitError
	InitModelNotFound
)

func (s InitStatus) String() string {
	switch s {
	case InitOK:
		return "ok"
	case InitModelNotFound:
		return "model_not_found"
	default:
		return "error"
	}
}

// InitStatusOf classifies an error returned by Open.
func InitStatusOf(err error) InitStatus {
	switch {
	case err == nil:
		return InitOK
	case IsModelNotFound(err):
		return InitModelNotFound
	default:
		return InitError
	}
}
