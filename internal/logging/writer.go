package logging

import (
	"errors"
	"io"
	"sync"
)

// ErrWriterClosed is returned by Write and Sync after Close.
var ErrWriterClosed = errors.New("logging: writer closed")

const defaultWriterQueue = 4096

// Writer is the single owner of a log destination. Entries arrive over an
// ordered channel and are written by one goroutine, so concurrent loggers
// never share a file handle. An optional tap receives every entry after it
// was written.
type Writer struct {
	out  io.Writer
	tap  func([]byte)
	ops  chan writeOp
	done chan struct{}

	mu     sync.RWMutex
	closed bool
}

type writeOp struct {
	entry []byte
	// synced is non-nil for a flush barrier.
	synced chan error
}

// NewWriter starts the goroutine that owns out. queue bounds the number of
// pending entries; Write blocks when it is full.
func NewWriter(out io.Writer, queue int, tap func([]byte)) *Writer {
	if queue <= 0 {
		queue = defaultWriterQueue
	}
	w := &Writer{
		out:  out,
		tap:  tap,
		ops:  make(chan writeOp, queue),
		done: make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *Writer) run() {
	defer close(w.done)
	for op := range w.ops {
		if op.synced != nil {
			op.synced <- syncOut(w.out)
			continue
		}
		w.out.Write(op.entry)
		if w.tap != nil {
			w.tap(op.entry)
		}
	}
}

// Write enqueues a copy of p. The caller's buffer may be reused once Write
// returns, which zap relies on.
func (w *Writer) Write(p []byte) (int, error) {
	entry := make([]byte, len(p))
	copy(entry, p)

	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return 0, ErrWriterClosed
	}
	w.ops <- writeOp{entry: entry}
	return len(p), nil
}

// Sync blocks until every entry enqueued before it has been written.
func (w *Writer) Sync() error {
	synced := make(chan error, 1)

	w.mu.RLock()
	if w.closed {
		w.mu.RUnlock()
		return ErrWriterClosed
	}
	w.ops <- writeOp{synced: synced}
	w.mu.RUnlock()

	return <-synced
}

// Close drains pending entries and stops the goroutine. It does not close
// the underlying destination.
func (w *Writer) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.ops)
	w.mu.Unlock()

	<-w.done
	return syncOut(w.out)
}

func syncOut(out io.Writer) error {
	if s, ok := out.(interface{ Sync() error }); ok {
		// terminals reject fsync
		s.Sync()
	}
	return nil
}
