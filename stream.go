package conduit

import (
	"context"
	"sync"
)

// Stream is a lazy, in-order sequence of byte chunks, the concurrency
// primitive behind both fetch's inbound response stream and a push
// provisioner's inbound chunk stream (spec §4.7). It is the channel-based
// analog of the teacher's per-topic delivery channels in broker.go,
// generalized from whole messages to chunk payloads.
type Stream struct {
	ch        chan []byte
	closeOnce sync.Once
	mu        sync.Mutex
	err       error
	done      bool
}

// NewStream creates an empty Stream a resource handler can produce chunks
// into via Push, to supply as a ready-made lazy data source (spec
// §4.7.1's "ready-made lazy stream" handler output).
func NewStream() *Stream {
	return &Stream{ch: make(chan []byte, 16)}
}

// Push delivers one non-empty chunk. Safe to call from any goroutine
// until the stream is closed.
func (s *Stream) Push(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	s.ch <- chunk
}

// Close ends the stream successfully; Next will report ok=false with a
// nil error after any buffered chunks are drained.
func (s *Stream) Close() {
	s.closeOnce.Do(func() { close(s.ch) })
}

// CloseWithError ends the stream with an error.
func (s *Stream) CloseWithError(err error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.ch)
	})
}

// Next blocks until the next chunk arrives, the stream ends, or ctx is
// canceled. ok is false once the stream has ended; call Err to
// distinguish a clean end from a failure.
func (s *Stream) Next(ctx context.Context) (chunk []byte, ok bool, err error) {
	select {
	case c, open := <-s.ch:
		if !open {
			return nil, false, s.Err()
		}
		return c, true, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// Err reports the error the stream was closed with, if any.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Buffer is a deferred full-content aggregation of a Stream, resolving
// once the stream ends (successfully or with an error). It drains its
// source Stream lazily, starting only on the first Wait call, so a Stream
// and its Buffer are mutually exclusive views over the same chunk
// sequence: reading one consumes chunks the other will never see. A
// caller must pick exactly one of a FetchResult/ResourceInfo's Stream or
// Buffer and use only that one.
type Buffer struct {
	stream    *Stream
	startOnce sync.Once
	done      chan struct{}
	data      []byte
	err       error
}

func newBuffer(s *Stream) *Buffer {
	return &Buffer{stream: s, done: make(chan struct{})}
}

// start launches the draining goroutine at most once, on the first Wait.
func (b *Buffer) start() {
	b.startOnce.Do(func() {
		go func() {
			var all []byte
			for {
				chunk, ok, err := b.stream.Next(context.Background())
				if !ok {
					b.data, b.err = all, err
					close(b.done)
					return
				}
				all = append(all, chunk...)
			}
		}()
	})
}

// Wait blocks until the buffer resolves or ctx is canceled.
func (b *Buffer) Wait(ctx context.Context) ([]byte, error) {
	b.start()
	select {
	case <-b.done:
		return b.data, b.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// MetaFuture resolves once, to the metadata map carried on a transfer's
// first chunk, or nil if the sender supplied none.
type MetaFuture struct {
	done  chan struct{}
	once  sync.Once
	value map[string]any
}

func newMetaFuture() *MetaFuture { return &MetaFuture{done: make(chan struct{})} }

func (m *MetaFuture) resolve(v map[string]any) {
	m.once.Do(func() {
		m.value = v
		close(m.done)
	})
}

// Wait blocks until the first chunk resolves the metadata, or ctx is
// canceled.
func (m *MetaFuture) Wait(ctx context.Context) (map[string]any, error) {
	select {
	case <-m.done:
		return m.value, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
