// Package framing reconstructs image frames from the raw image-channel
// byte stream.
//
// The backend writes encoded PNG images back to back with no length
// prefix. The only boundary information in the stream is the PNG IEND
// chunk trailer, so a frame ends immediately after each occurrence of
// Terminator.
package framing

import (
	"bytes"
	"errors"
	"iter"
)

// Terminator is the IEND chunk type plus its CRC, the last 8 bytes of
// every PNG image.
var Terminator = []byte{0x49, 0x45, 0x4E, 0x44, 0xAE, 0x42, 0x60, 0x82}

// ErrFrameTooLarge reports that the unterminated tail grew past the
// configured limit and was discarded.
var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// Frame is one complete encoded image, terminator included.
type Frame struct {
	// Seq numbers frames from 1 in the order their terminators were found.
	Seq  uint64
	Data []byte
}

// DropFunc is told how many bytes were thrown away and why.
type DropFunc func(err error, dropped int)

// Reassembler accumulates stream bytes and splits them into Frames. It
// holds no connection state and is not safe for concurrent use; the
// owning channel feeds it from a single reader.
type Reassembler struct {
	buf []byte
	// scanned is the offset below which no terminator can start.
	scanned int
	// discarding is set after an overflow; bytes are dropped up to and
	// including the next terminator so framing resynchronizes.
	discarding bool
	maxTail    int
	seq        uint64
	onDrop     DropFunc
}

// Option configures a Reassembler.
type Option func(*Reassembler)

// WithMaxTail bounds the number of unterminated bytes kept between
// calls. Zero means unbounded. A possible terminator prefix is always
// kept, so limits below len(Terminator) act as len(Terminator)-1.
func WithMaxTail(n int) Option {
	return func(r *Reassembler) { r.maxTail = n }
}

// WithDropFunc installs a hook called whenever buffered bytes are
// discarded by the size guard.
func WithDropFunc(f DropFunc) Option {
	return func(r *Reassembler) { r.onDrop = f }
}

// New creates an empty Reassembler.
func New(opts ...Option) *Reassembler {
	r := &Reassembler{}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Feed appends chunk to the buffer and returns the frames it completes.
// Frames are extracted lazily as the sequence is ranged over; frames not
// drained (because the loop broke early) are returned by the next Feed.
// An empty chunk is valid and may still yield previously undrained frames.
func (r *Reassembler) Feed(chunk []byte) iter.Seq[Frame] {
	r.buf = append(r.buf, chunk...)
	return func(yield func(Frame) bool) {
		for {
			frame, ok := r.next()
			if !ok {
				r.enforceLimit()
				return
			}
			if !yield(frame) {
				return
			}
		}
	}
}

// Pending returns the number of buffered bytes not yet part of a frame.
func (r *Reassembler) Pending() int {
	return len(r.buf)
}

// Reset discards the unterminated tail, for example when the stream it
// belonged to has closed. It returns the number of bytes discarded.
func (r *Reassembler) Reset() int {
	n := len(r.buf)
	r.buf = r.buf[:0]
	r.scanned = 0
	r.discarding = false
	return n
}

// next extracts the first complete frame from the buffer.
func (r *Reassembler) next() (Frame, bool) {
	for {
		i := bytes.Index(r.buf[r.scanned:], Terminator)
		if i < 0 {
			// A terminator split across chunks can begin in the last
			// len(Terminator)-1 bytes; rescan those next time.
			if keep := len(r.buf) - len(Terminator) + 1; keep > r.scanned {
				r.scanned = keep
			}
			if r.discarding {
				r.dropBefore(r.scanned)
			}
			return Frame{}, false
		}

		end := r.scanned + i + len(Terminator)
		if r.discarding {
			r.dropBefore(end)
			r.discarding = false
			continue
		}

		data := bytes.Clone(r.buf[:end])
		r.consume(end)
		r.seq++
		return Frame{Seq: r.seq, Data: data}, true
	}
}

// consume removes the first n bytes of the buffer.
func (r *Reassembler) consume(n int) {
	rest := copy(r.buf, r.buf[n:])
	r.buf = r.buf[:rest]
	r.scanned = 0
}

func (r *Reassembler) dropBefore(n int) {
	if n <= 0 {
		return
	}
	r.consume(n)
}

func (r *Reassembler) enforceLimit() {
	if r.maxTail <= 0 || r.discarding || len(r.buf) <= r.maxTail {
		return
	}
	// Keep a possible terminator prefix so the resync point is not missed.
	keep := len(Terminator) - 1
	if len(r.buf) <= keep {
		return
	}
	dropped := len(r.buf) - keep
	r.consume(dropped)
	r.discarding = true
	if r.onDrop != nil {
		r.onDrop(ErrFrameTooLarge, dropped)
	}
}
