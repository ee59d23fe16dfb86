package sampling

// History is a fixed-capacity ring of recently emitted tokens. Pushing past
// capacity evicts the oldest entry. It is not safe for concurrent use; each
// generation worker owns its own.
type History struct {
	buf   []int
	start int
	n     int
}

// NewHistory returns an empty history holding at most capacity tokens.
// A non-positive capacity falls back to HistoryCap.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = HistoryCap
	}
	return &History{buf: make([]int, capacity)}
}

func (h *History) Len() int { return h.n }

func (h *History) Cap() int { return len(h.buf) }

// Push appends tok, evicting the oldest token when full.
func (h *History) Push(tok int) {
	if h.n < len(h.buf) {
		h.buf[(h.start+h.n)%len(h.buf)] = tok
		h.n++
		return
	}
	h.buf[h.start] = tok
	h.start = (h.start + 1) % len(h.buf)
}

// Recent calls fn for the last window tokens, oldest first.
func (h *History) Recent(window int, fn func(tok int)) {
	if h == nil || window <= 0 || h.n == 0 {
		return
	}
	if window > h.n {
		window = h.n
	}
	for i := h.n - window; i < h.n; i++ {
		fn(h.buf[(h.start+i)%len(h.buf)])
	}
}

// Tokens returns a copy of the history, oldest first.
func (h *History) Tokens() []int {
	out := make([]int, 0, h.n)
	h.Recent(h.n, func(tok int) { out = append(out, tok) })
	return out
}
