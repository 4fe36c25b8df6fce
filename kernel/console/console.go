// Package console provides the non-blocking, allocation-free logging sink
// consumed by the rest of this module. The actual console driver (VGA text
// mode, serial port, ...) is out of scope for the memory-management core; it
// is named only by the Sink interface below, which mirrors the Puts/Puti/
// Putui contract described in the specification's External Interfaces.
//
// Before a Sink is attached, output accumulates in a small ring buffer so
// that diagnostics emitted while bootstrapping the frame pools and page
// table are not lost; attaching a Sink flushes the buffer to it.
package console

import "io"

// Sink receives console output. Console drivers such as a VGA text buffer or
// a serial port implement this interface and register themselves via
// SetSink.
type Sink interface {
	io.Writer
}

const ringBufSize = 4096

var (
	sink Sink

	ringBuf  [ringBufSize]byte
	ringHead int
	ringFull bool
)

// SetSink attaches the console driver that Puts/Puti/Putui write through and
// drains any output accumulated before the driver was available.
func SetSink(s Sink) {
	sink = s
	if sink == nil {
		return
	}
	if ringFull {
		sink.Write(ringBuf[ringHead:])
	}
	sink.Write(ringBuf[:ringHead])
	ringHead, ringFull = 0, false
}

func emit(b []byte) {
	if sink != nil {
		sink.Write(b)
		return
	}
	for _, c := range b {
		ringBuf[ringHead] = c
		ringHead++
		if ringHead == ringBufSize {
			ringHead = 0
			ringFull = true
		}
	}
}

// Puts writes s to the active console.
func Puts(s string) {
	emit([]byte(s))
}

// Puti writes the base-10, signed representation of v to the active console.
func Puti(v int32) {
	putSigned(int64(v))
}

// Putui writes the base-10, unsigned representation of v to the active
// console.
func Putui(v uint32) {
	putUnsigned(uint64(v))
}

func putSigned(v int64) {
	if v < 0 {
		emit([]byte{'-'})
		v = -v
	}
	putUnsigned(uint64(v))
}

func putUnsigned(v uint64) {
	var buf [20]byte
	i := len(buf)
	if v == 0 {
		emit([]byte{'0'})
		return
	}
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	emit(buf[i:])
}
