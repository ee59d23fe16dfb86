//go:build llama

package engine

import (
	"errors"
	"os"
	"sync"

	"github.com/hybridgroup/yzma/pkg/llama"

	"taskd/internal/common/fsutil"
)

// llamaBuilt indicates this binary was compiled with real llama support.
var llamaBuilt = true

var (
	llamaInitOnce sync.Once
	llamaInitErr  error
)

func llamaInit(libPath string) error {
	llamaInitOnce.Do(func() {
		if libPath == "" {
			libPath = os.Getenv("YZMA_LIB")
		}
		if err := llama.Load(libPath); err != nil {
			llamaInitErr = ErrDependencyUnavailable("load llama.cpp libraries from " + libPath + ": " + err.Error())
			return
		}
		llama.Init()
	})
	return llamaInitErr
}

// llamaEngine owns the loaded model and its vocabulary. Contexts created from
// it share the weights read-only.
type llamaEngine struct {
	path    string
	threads int
	model   llama.Model
	vocab   llama.Vocab
	nVocab  int
	eos     Token

	mu     sync.Mutex
	closed bool
}

func loadLlama(opts Options) (Engine, error) {
	path, err := fsutil.ResolvePath(opts.ModelPath)
	if err != nil {
		return nil, ErrInitFailed(opts.ModelPath, err)
	}
	if path == "" {
		return nil, ErrInitFailed(opts.ModelPath, errors.New("model path is empty"))
	}
	if !fsutil.FileExists(path) {
		return nil, ErrModelNotFound(path)
	}
	if err := llamaInit(opts.LibPath); err != nil {
		return nil, err
	}

	mp := llama.ModelDefaultParams()
	mp.NGpuLayers = int32(opts.GPULayers)
	model, err := llama.ModelLoadFromFile(path, mp)
	if err != nil {
		return nil, ErrInitFailed(path, err)
	}
	vocab := llama.ModelGetVocab(model)
	return &llamaEngine{
		path:    path,
		threads: opts.Threads,
		model:   model,
		vocab:   vocab,
		nVocab:  int(llama.VocabNTokens(vocab)),
		eos:     Token(llama.VocabEOS(vocab)),
	}, nil
}

func (e *llamaEngine) NewContext(contextSize int) (Context, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	cp := llama.ContextDefaultParams()
	cp.NCtx = uint32(contextSize)
	cp.NBatch = uint32(contextSize)
	if e.threads > 0 {
		cp.NThreads = int32(e.threads)
	}
	lctx, err := llama.InitFromModel(e.model, cp)
	if err != nil {
		return nil, err
	}
	return &llamaContext{eng: e, lctx: lctx}, nil
}

func (e *llamaEngine) Tokenize(text string) ([]Token, error) {
	raw := llama.Tokenize(e.vocab, text, true, false)
	if len(raw) == 0 && text != "" {
		return nil, errors.New("tokenize produced no tokens")
	}
	out := make([]Token, len(raw))
	for i, t := range raw {
		out[i] = Token(t)
	}
	return out, nil
}

func (e *llamaEngine) TokenToText(tok Token) string {
	buf := make([]byte, 64)
	n := llama.TokenToPiece(e.vocab, llama.Token(tok), buf, 0, true)
	if n < 0 {
		buf = make([]byte, -n)
		n = llama.TokenToPiece(e.vocab, llama.Token(tok), buf, 0, true)
	}
	if n <= 0 {
		return ""
	}
	return string(buf[:n])
}

func (e *llamaEngine) EOS() Token { return e.eos }

// IsEOG treats every end-of-generation token (EOS, EOT, ...) as a stop.
func (e *llamaEngine) IsEOG(tok Token) bool {
	return llama.VocabIsEOG(e.vocab, llama.Token(tok))
}

func (e *llamaEngine) VocabSize() int { return e.nVocab }

func (e *llamaEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	llama.ModelFree(e.model)
	return nil
}

type llamaContext struct {
	eng    *llamaEngine
	lctx   llama.Context
	closed bool
}

func (c *llamaContext) Decode(tokens []Token) error {
	if c.closed {
		return ErrClosed
	}
	raw := make([]llama.Token, len(tokens))
	for i, t := range tokens {
		raw[i] = llama.Token(t)
	}
	rc, err := llama.Decode(c.lctx, llama.BatchGetOne(raw))
	return decodeStatus(rc, err)
}

func (c *llamaContext) Logits() ([]float32, error) {
	if c.closed {
		return nil, ErrClosed
	}
	logits, err := llama.GetLogitsIth(c.lctx, -1, c.eng.nVocab)
	if err != nil {
		return nil, err
	}
	if len(logits) == 0 {
		return nil, errors.New("no logits for last position")
	}
	return logits, nil
}

func (c *llamaContext) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	llama.Free(c.lctx)
	return nil
}
