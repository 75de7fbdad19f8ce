package simlidar

import (
	"bytes"
	"strings"
	"testing"
)

func TestLogStreams(t *testing.T) {
	t.Cleanup(func() { SetLogWriters(LogWriters{}) })

	var ops, trace bytes.Buffer
	SetLogWriters(LogWriters{Ops: &ops, Trace: &trace, Flags: NoTimestamps})

	if !Enabled(StreamOps) || Enabled(StreamDiag) || !Enabled(StreamTrace) {
		t.Fatalf("Enabled = %v/%v/%v, want true/false/true",
			Enabled(StreamOps), Enabled(StreamDiag), Enabled(StreamTrace))
	}

	Opsf("engine %d closed", 7)
	Diagf("dropped")
	Tracef("cast dispatched")

	if got := ops.String(); got != "[simlidar] engine 7 closed\n" {
		t.Errorf("ops stream = %q", got)
	}
	if got := trace.String(); got != "[simlidar] cast dispatched\n" {
		t.Errorf("trace stream = %q", got)
	}

	var diag bytes.Buffer
	SetLogWriters(LogWriters{Diag: &diag})
	Opsf("silent")
	Diagf("cycle %d", 3)
	if ops.Len() != len("[simlidar] engine 7 closed\n") {
		t.Errorf("disabled ops stream still written: %q", ops.String())
	}
	if !strings.HasSuffix(diag.String(), " cycle 3\n") || !strings.HasPrefix(diag.String(), "[simlidar] ") {
		t.Errorf("diag stream = %q", diag.String())
	}
}
