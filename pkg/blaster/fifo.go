package blaster

// fifo is a bounded byte queue. Storage is allocated once; consumed bytes
// are compacted to the front so the free space is always one contiguous tail.
type fifo struct {
	buf []byte
	n   int
}

func newFIFO(capacity int) *fifo {
	return &fifo{buf: make([]byte, capacity)}
}

func (f *fifo) Len() int   { return f.n }
func (f *fifo) Cap() int   { return len(f.buf) }
func (f *fifo) Free() int  { return len(f.buf) - f.n }
func (f *fifo) Full() bool { return f.n == len(f.buf) }

// Bytes returns the queued bytes. The slice is valid until the next mutation.
func (f *fifo) Bytes() []byte { return f.buf[:f.n] }

// Tail returns the free space for a producer to fill; Commit publishes it.
func (f *fifo) Tail() []byte { return f.buf[f.n:] }

func (f *fifo) Commit(n int) {
	if n < 0 || n > f.Free() {
		panic("blaster: fifo commit out of range")
	}
	f.n += n
}

// Push appends b, reporting false when the queue is full.
func (f *fifo) Push(b byte) bool {
	if f.Full() {
		return false
	}
	f.buf[f.n] = b
	f.n++
	return true
}

// Discard drops the first n bytes, preserving the order of the rest.
func (f *fifo) Discard(n int) {
	if n <= 0 {
		return
	}
	if n >= f.n {
		f.n = 0
		return
	}
	copy(f.buf, f.buf[n:f.n])
	f.n -= n
}

func (f *fifo) Clear() { f.n = 0 }
