package framing

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"
)

func frameOf(body string) []byte {
	return append([]byte(body), Terminator...)
}

func collect(r *Reassembler, chunk []byte) []Frame {
	var frames []Frame
	for f := range r.Feed(chunk) {
		frames = append(frames, f)
	}
	return frames
}

// feedChunked feeds stream using the given chunk sizes (cycled) and
// returns every frame produced.
func feedChunked(stream []byte, sizes []int) ([]Frame, *Reassembler) {
	r := New()
	var frames []Frame
	for i, off := 0, 0; off < len(stream); i++ {
		n := sizes[i%len(sizes)]
		if off+n > len(stream) {
			n = len(stream) - off
		}
		frames = append(frames, collect(r, stream[off:off+n])...)
		off += n
	}
	return frames, r
}

func TestFeed_SingleFrame(t *testing.T) {
	r := New()
	frames := collect(r, frameOf("hello"))
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	if !bytes.Equal(frames[0].Data, frameOf("hello")) {
		t.Errorf("unexpected frame data %q", frames[0].Data)
	}
	if frames[0].Seq != 1 {
		t.Errorf("expected seq 1, got %d", frames[0].Seq)
	}
	if r.Pending() != 0 {
		t.Errorf("expected empty buffer, got %d bytes", r.Pending())
	}
}

func TestFeed_TerminatorSplitAcrossChunks(t *testing.T) {
	r := New()
	first := append([]byte("AAA"), Terminator[:5]...)
	second := append(append([]byte{}, Terminator[5:]...), "BBB"...)

	if frames := collect(r, first); len(frames) != 0 {
		t.Fatalf("expected no frame from first chunk, got %d", len(frames))
	}
	frames := collect(r, second)
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	if !bytes.Equal(frames[0].Data, frameOf("AAA")) {
		t.Errorf("frame should end exactly at the terminator, got %q", frames[0].Data)
	}
	if r.Pending() != 3 {
		t.Errorf("expected tail BBB retained, got %d pending bytes", r.Pending())
	}
}

func TestFeed_MultipleFramesInOneChunk(t *testing.T) {
	r := New()
	stream := append(frameOf("one"), frameOf("two")...)
	stream = append(stream, "partial"...)

	frames := collect(r, stream)
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	if !bytes.Equal(frames[0].Data, frameOf("one")) || !bytes.Equal(frames[1].Data, frameOf("two")) {
		t.Errorf("frames out of order or wrong bounds: %q %q", frames[0].Data, frames[1].Data)
	}
	if frames[0].Seq != 1 || frames[1].Seq != 2 {
		t.Errorf("unexpected seqs %d %d", frames[0].Seq, frames[1].Seq)
	}
	if r.Pending() != len("partial") {
		t.Errorf("expected partial tail, got %d", r.Pending())
	}
}

func TestFeed_EmptyAndTerminatorOnlyChunks(t *testing.T) {
	r := New()
	if frames := collect(r, nil); len(frames) != 0 {
		t.Errorf("empty chunk produced %d frames", len(frames))
	}
	if frames := collect(r, []byte{}); len(frames) != 0 {
		t.Errorf("empty chunk produced %d frames", len(frames))
	}
	frames := collect(r, Terminator)
	if len(frames) != 1 || !bytes.Equal(frames[0].Data, Terminator) {
		t.Fatalf("terminator-only chunk should yield one terminator-only frame, got %v", frames)
	}
}

func TestFeed_ChunkSizeIndependence(t *testing.T) {
	var stream []byte
	bodies := []string{"first image", "", "IEN", "third\x49\x45\x4e", "last"}
	for _, b := range bodies {
		stream = append(stream, frameOf(b)...)
	}
	stream = append(stream, "tail-without-end"...)

	whole, _ := feedChunked(stream, []int{len(stream)})
	if len(whole) != len(bodies) {
		t.Fatalf("expected %d frames, got %d", len(bodies), len(whole))
	}

	var chunkings [][]int
	for n := 1; n <= 2*len(Terminator)+1; n++ {
		chunkings = append(chunkings, []int{n})
	}
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 50; i++ {
		sizes := make([]int, 1+rng.Intn(6))
		for j := range sizes {
			sizes[j] = 1 + rng.Intn(20)
		}
		chunkings = append(chunkings, sizes)
	}

	for _, sizes := range chunkings {
		got, r := feedChunked(stream, sizes)
		if len(got) != len(whole) {
			t.Fatalf("sizes %v: expected %d frames, got %d", sizes, len(whole), len(got))
		}
		for i := range got {
			if !bytes.Equal(got[i].Data, whole[i].Data) {
				t.Errorf("sizes %v: frame %d differs: %q vs %q", sizes, i, got[i].Data, whole[i].Data)
			}
			if !bytes.HasSuffix(got[i].Data, Terminator) {
				t.Errorf("sizes %v: frame %d does not end at a terminator", sizes, i)
			}
			if bytes.Contains(got[i].Data[:len(got[i].Data)-len(Terminator)], Terminator) {
				t.Errorf("sizes %v: frame %d contains an internal terminator", sizes, i)
			}
		}
		if r.Pending() != len("tail-without-end") {
			t.Errorf("sizes %v: expected tail retained, got %d", sizes, r.Pending())
		}
	}
}

func TestFeed_EarlyBreakKeepsFrames(t *testing.T) {
	r := New()
	stream := append(frameOf("a"), frameOf("b")...)
	for f := range r.Feed(stream) {
		if f.Seq != 1 {
			t.Fatalf("expected first frame, got seq %d", f.Seq)
		}
		break
	}

	frames := collect(r, nil)
	if len(frames) != 1 || !bytes.Equal(frames[0].Data, frameOf("b")) {
		t.Fatalf("expected undrained frame on next feed, got %v", frames)
	}
}

func TestFeed_MaxTailDiscardsAndResyncs(t *testing.T) {
	var dropErr error
	var dropped int
	r := New(WithMaxTail(16), WithDropFunc(func(err error, n int) {
		dropErr = err
		dropped += n
	}))

	if frames := collect(r, bytes.Repeat([]byte("x"), 40)); len(frames) != 0 {
		t.Fatalf("expected no frames, got %d", len(frames))
	}
	if !errors.Is(dropErr, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", dropErr)
	}
	if dropped != 40-(len(Terminator)-1) {
		t.Errorf("unexpected dropped count %d", dropped)
	}

	// The rest of the oversized frame is skipped up to its terminator.
	stream := append(frameOf("rest-of-big"), frameOf("good")...)
	frames := collect(r, stream)
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame after resync, got %d", len(frames))
	}
	if !bytes.Equal(frames[0].Data, frameOf("good")) {
		t.Errorf("unexpected frame after resync %q", frames[0].Data)
	}
}

func TestFeed_TinyMaxTailKeepsNextFrame(t *testing.T) {
	drops := 0
	r := New(WithMaxTail(3), WithDropFunc(func(err error, n int) {
		drops++
	}))

	// Five bytes fit in the kept terminator prefix, so nothing is dropped.
	collect(r, []byte("abcde"))
	if drops != 0 {
		t.Fatalf("expected no drop, got %d", drops)
	}

	frames := collect(r, Terminator)
	if len(frames) != 1 || !bytes.Equal(frames[0].Data, frameOf("abcde")) {
		t.Fatalf("expected the frame to survive, got %v", frames)
	}
	if more := collect(r, frameOf("next")); len(more) != 1 {
		t.Errorf("expected the following frame too, got %d", len(more))
	}
}

func TestReset(t *testing.T) {
	r := New()
	collect(r, []byte("dangling"))
	if n := r.Reset(); n != len("dangling") {
		t.Errorf("expected %d bytes discarded, got %d", len("dangling"), n)
	}
	if r.Pending() != 0 {
		t.Errorf("expected empty buffer after reset")
	}
	frames := collect(r, frameOf("fresh"))
	if len(frames) != 1 || !bytes.Equal(frames[0].Data, frameOf("fresh")) {
		t.Errorf("framing should restart after reset, got %v", frames)
	}
}
