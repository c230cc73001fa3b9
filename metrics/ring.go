package metrics

// ring is a fixed-capacity buffer that overwrites its oldest entry.
// It is not safe for concurrent use; callers hold their own lock.
type ring[T any] struct {
	buf  []T
	next int
	n    int
}

func newRing[T any](capacity int) *ring[T] {
	return &ring[T]{buf: make([]T, capacity)}
}

func (r *ring[T]) push(v T) {
	r.buf[r.next] = v
	r.next = (r.next + 1) % len(r.buf)
	r.n = min(r.n+1, len(r.buf))
}

func (r *ring[T]) len() int { return r.n }

// last returns up to k of the newest entries, oldest first.
func (r *ring[T]) last(k int) []T {
	k = min(k, r.n)
	if k <= 0 {
		return []T{}
	}
	out := make([]T, k)
	start := r.next - k
	if start < 0 {
		start += len(r.buf)
	}
	for i := range out {
		out[i] = r.buf[(start+i)%len(r.buf)]
	}
	return out
}
