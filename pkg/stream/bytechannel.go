package stream

import (
	"io"
)

// byteChunkQueueDepth bounds how many pending chunks a Sender may get ahead
// of the Receiver by, giving the producer side backpressure once a slow
// HTTP client (or a paused io.Copy) stops draining the reader — the same
// bounded-channel-as-queue idiom as friggdb/pool.Pool's workQueue.
const byteChunkQueueDepth = 4

// ByteChannel is a bounded single-producer/single-consumer pipe from a
// Sender (typically an export/serialization goroutine) to a Receiver used
// as an http.ResponseWriter body (spec.md §4.6). Unlike io.Pipe, writes are
// chunked and queued rather than synchronized 1:1 with reads, so the
// producer can run ahead by up to byteChunkQueueDepth chunks before
// blocking.
type ByteChannel struct {
	chunks chan []byte
	done   chan error
	gone   chan struct{}
}

// NewByteChannel returns a connected (Sender, Receiver) pair.
func NewByteChannel() (*Sender, *Receiver) {
	bc := &ByteChannel{
		chunks: make(chan []byte, byteChunkQueueDepth),
		done:   make(chan error, 1),
		gone:   make(chan struct{}),
	}
	return &Sender{bc: bc}, &Receiver{bc: bc}
}

// Sender is the producer half of a ByteChannel.
type Sender struct {
	bc     *ByteChannel
	closed bool
}

// Write queues b for the Receiver, blocking while the queue is full. b is
// copied before this call returns, so the caller may reuse its buffer
// immediately. Returns io.ErrClosedPipe if Close has already been called
// or if the Receiver has been abandoned (so a producer doesn't spin
// forever writing into a body nobody is reading).
func (s *Sender) Write(b []byte) (int, error) {
	if s.closed {
		return 0, io.ErrClosedPipe
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	select {
	case s.bc.chunks <- cp:
		return len(b), nil
	case <-s.bc.gone:
		return 0, io.ErrClosedPipe
	}
}

// Close signals end-of-stream to the Receiver. err, if non-nil, is
// surfaced from the Receiver's Read as the terminal error instead of
// io.EOF (spec.md §4.6 "end-of-stream-on-drop": a producer error becomes
// the body's terminal read error, not a silently truncated response).
func (s *Sender) Close(err error) {
	if s.closed {
		return
	}
	s.closed = true
	close(s.bc.chunks)
	if err != nil {
		s.bc.done <- err
	}
	close(s.bc.done)
}

// Receiver is the consumer half of a ByteChannel, implementing io.Reader
// so it can be used directly as an http.ResponseWriter body.
type Receiver struct {
	bc      *ByteChannel
	pending []byte
	err     error
	gone    bool
}

// Read implements io.Reader, draining queued chunks in order. Once the
// Sender closes, Read returns the Sender's terminal error (io.EOF if none
// was given to Close).
func (r *Receiver) Read(p []byte) (int, error) {
	for len(r.pending) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		chunk, ok := <-r.bc.chunks
		if !ok {
			if sendErr, ok := <-r.bc.done; ok {
				r.err = sendErr
			} else {
				r.err = io.EOF
			}
			continue
		}
		r.pending = chunk
	}
	n := copy(p, r.pending)
	r.pending = r.pending[n:]
	return n, nil
}

// Abandon tells the Sender side the Receiver is no longer being read (the
// HTTP client disconnected), unblocking any in-flight Write.
func (r *Receiver) Abandon() {
	if r.gone {
		return
	}
	r.gone = true
	close(r.bc.gone)
}
