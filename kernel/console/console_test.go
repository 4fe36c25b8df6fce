package console

import (
	"strings"
	"testing"
)

type stringSink struct {
	strings.Builder
}

func withSink(t *testing.T) (*stringSink, func()) {
	t.Helper()
	s := &stringSink{}
	SetSink(s)
	return s, func() {
		SetSink(nil)
		ringHead, ringFull = 0, false
	}
}

func TestPutsWritesThroughSink(t *testing.T) {
	s, cleanup := withSink(t)
	defer cleanup()

	Puts("hello")
	if got := s.String(); got != "hello" {
		t.Fatalf("Puts wrote %q, want %q", got, "hello")
	}
}

func TestPutiHandlesSignAndZero(t *testing.T) {
	cases := []struct {
		v    int32
		want string
	}{
		{0, "0"},
		{42, "42"},
		{-7, "-7"},
	}

	for _, c := range cases {
		s, cleanup := withSink(t)
		Puti(c.v)
		if got := s.String(); got != c.want {
			t.Errorf("Puti(%d) = %q, want %q", c.v, got, c.want)
		}
		cleanup()
	}
}

func TestPutui(t *testing.T) {
	s, cleanup := withSink(t)
	defer cleanup()

	Putui(4096)
	if got := s.String(); got != "4096" {
		t.Fatalf("Putui(4096) = %q, want %q", got, "4096")
	}
}

func TestRingBufferFlushesInOrderOnAttach(t *testing.T) {
	defer func() {
		SetSink(nil)
		ringHead, ringFull = 0, false
	}()

	Puts("buffered before a sink exists")

	s := &stringSink{}
	SetSink(s)

	if got := s.String(); got != "buffered before a sink exists" {
		t.Fatalf("flushed ring buffer = %q, want %q", got, "buffered before a sink exists")
	}
}

func TestRingBufferWrapsAroundWithoutLosingOrder(t *testing.T) {
	defer func() {
		SetSink(nil)
		ringHead, ringFull = 0, false
	}()

	// Write more than ringBufSize bytes so the buffer wraps; only the
	// trailing ringBufSize bytes should survive, in the right order.
	chunk := strings.Repeat("a", ringBufSize/2)
	Puts(chunk)
	Puts(chunk)
	Puts("tail")

	s := &stringSink{}
	SetSink(s)

	got := s.String()
	if !strings.HasSuffix(got, "tail") {
		tailStart := len(got) - 10
		if tailStart < 0 {
			tailStart = 0
		}
		t.Fatalf("expected flushed buffer to end with the most recent writes, got suffix %q", got[tailStart:])
	}
}
