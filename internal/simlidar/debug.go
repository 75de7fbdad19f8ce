package simlidar

import (
	"io"
	"log"
	"sync/atomic"
)

// Stream selects one of the three logging streams.
type Stream int

const (
	// StreamOps carries lifecycle events, warnings and errors.
	StreamOps Stream = iota
	// StreamDiag carries one line per completed cycle.
	StreamDiag
	// StreamTrace carries per-stage scheduling telemetry.
	StreamTrace
	numStreams
)

// LogWriters holds the io.Writers for each logging stream. A nil writer
// disables its stream. Flags are passed to log.New; the zero value selects
// timestamps with microseconds, set NoTimestamps for writers that stamp
// records themselves.
type LogWriters struct {
	Ops   io.Writer
	Diag  io.Writer
	Trace io.Writer
	Flags int
}

// NoTimestamps is a LogWriters.Flags value that suppresses the log prefix
// timestamp.
const NoTimestamps = -1

var streams [numStreams]atomic.Pointer[log.Logger]

// SetLogWriters configures all three logging streams at once.
func SetLogWriters(w LogWriters) {
	flags := w.Flags
	switch flags {
	case 0:
		flags = log.LstdFlags | log.Lmicroseconds
	case NoTimestamps:
		flags = 0
	}
	for s, out := range [numStreams]io.Writer{w.Ops, w.Diag, w.Trace} {
		if out == nil {
			streams[s].Store(nil)
			continue
		}
		streams[s].Store(log.New(out, "[simlidar] ", flags))
	}
}

// Enabled reports whether s has a writer, so hot paths can skip building
// log arguments.
func Enabled(s Stream) bool {
	return streams[s].Load() != nil
}

func logf(s Stream, format string, args []interface{}) {
	if l := streams[s].Load(); l != nil {
		l.Printf(format, args...)
	}
}

// Opsf logs to the ops stream.
func Opsf(format string, args ...interface{}) { logf(StreamOps, format, args) }

// Diagf logs to the diag stream.
func Diagf(format string, args ...interface{}) { logf(StreamDiag, format, args) }

// Tracef logs to the trace stream.
func Tracef(format string, args ...interface{}) { logf(StreamTrace, format, args) }
