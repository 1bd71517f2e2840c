package services

import "time"

// stamped is implemented by history records.
type stamped interface {
	At() time.Time
}

// history is a bounded, time-ordered ring of records. Appending beyond the
// capacity overwrites the oldest record. It is not safe for concurrent use;
// the owner serializes access.
type history[T stamped] struct {
	buf   []T
	start int
	n     int
}

func newHistory[T stamped](capacity int) *history[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &history[T]{buf: make([]T, capacity)}
}

func (h *history[T]) push(v T) {
	if h.n < len(h.buf) {
		h.buf[(h.start+h.n)%len(h.buf)] = v
		h.n++
		return
	}
	h.buf[h.start] = v
	h.start = (h.start + 1) % len(h.buf)
}

func (h *history[T]) len() int { return h.n }

func (h *history[T]) at(i int) T { return h.buf[(h.start+i)%len(h.buf)] }

// pruneBefore drops records stamped before cutoff and returns how many went.
func (h *history[T]) pruneBefore(cutoff time.Time) int {
	var zero T
	dropped := 0
	for h.n > 0 && h.at(0).At().Before(cutoff) {
		h.buf[h.start] = zero
		h.start = (h.start + 1) % len(h.buf)
		h.n--
		dropped++
	}
	return dropped
}

// countSince counts records stamped strictly after since.
func (h *history[T]) countSince(since time.Time) int {
	c := 0
	for i := h.n - 1; i >= 0; i-- {
		if !h.at(i).At().After(since) {
			break
		}
		c++
	}
	return c
}

// last returns up to k newest records, newest first.
func (h *history[T]) last(k int) []T {
	if k > h.n {
		k = h.n
	}
	out := make([]T, 0, k)
	for i := h.n - 1; i >= h.n-k; i-- {
		out = append(out, h.at(i))
	}
	return out
}
