package stream

import (
	"bytes"
	"context"
	"io"
	"log"
	"reflect"
	"strings"
	"testing"

	"edgectl/internal/fault"
)

type recordingObserver struct {
	messages []string
	states   []State
}

func (o *recordingObserver) Transition(prev, next State, message string) {
	o.messages = append(o.messages, message)
	o.states = append(o.states, next)
}

// chunkReader delivers its payload in fixed-size reads so records can land
// split across reads or several per read.
type chunkReader struct {
	data []byte
	size int
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	n := r.size
	if n > len(r.data) {
		n = len(r.data)
	}
	if n > len(p) {
		n = len(p)
	}
	copy(p, r.data[:n])
	r.data = r.data[n:]
	return n, nil
}

func countWarnings(buf *bytes.Buffer) int {
	count := 0
	for _, line := range strings.Split(buf.String(), "\n") {
		if strings.Contains(line, "WARN") {
			count++
		}
	}
	return count
}

func watch(t *testing.T, input string) (*recordingObserver, *bytes.Buffer, error) {
	t.Helper()
	observer := &recordingObserver{}
	var logBuf bytes.Buffer
	watcher := NewWatcher(observer, log.New(&logBuf, "", 0))
	err := watcher.Watch(context.Background(), strings.NewReader(input))
	return observer, &logBuf, err
}

func TestWatchSuccessWithMalformedRecord(t *testing.T) {
	input := strings.Join([]string{
		`data: {"status":"deploying","step":{"name":"processing","progress":75}}`,
		`data: {not valid json at all`,
		`data: {"status":"deploying","step":{"name":"finalizing","progress":99}}`,
		`data: {"status":"succeeded","step":{"name":"finalizing","progress":100}}`,
	}, "\n") + "\n"

	observer, logBuf, err := watch(t, input)
	if err != nil {
		t.Fatalf("Watch() error: %v", err)
	}

	want := []string{MsgFetching, MsgProcessing, MsgFinalizing, MsgCompleted}
	if !reflect.DeepEqual(observer.messages, want) {
		t.Fatalf("progress = %v, want %v", observer.messages, want)
	}
	if got := countWarnings(logBuf); got != 1 {
		t.Fatalf("logged %d parse warnings, want exactly 1:\n%s", got, logBuf.String())
	}
}

func TestWatchDeploymentFailure(t *testing.T) {
	input := strings.Join([]string{
		`data: {"status":"deploying","step":{"name":"processing","progress":40}}`,
		`data: {"status":"failed","step":{"name":"processing","progress":40},"error":{"code":30}}`,
		`data: {"status":"deploying","step":{"name":"finalizing","progress":99}}`,
	}, "\n") + "\n"

	observer, _, err := watch(t, input)
	if err == nil {
		t.Fatalf("Watch() should fail on error event")
	}
	if err.Error() != "Deployment failed with error code: 30" {
		t.Fatalf("Watch() error = %q, want %q", err, "Deployment failed with error code: 30")
	}
	if !fault.Is(err, fault.Deployment) {
		t.Fatalf("Watch() error kind = %v, want deployment", fault.KindOf(err))
	}

	// The failure takes priority over further events; no progress is
	// emitted beyond what was seen before the error.
	want := []string{MsgFetching, MsgProcessing}
	if !reflect.DeepEqual(observer.messages, want) {
		t.Fatalf("progress = %v, want %v", observer.messages, want)
	}
}

func TestWatchRepeatedStepNotReEmitted(t *testing.T) {
	input := strings.Join([]string{
		`data: {"status":"deploying","step":{"name":"processing","progress":10}}`,
		`data: {"status":"deploying","step":{"name":"processing","progress":10}}`,
		`data: {"status":"deploying","step":{"name":"processing","progress":80}}`,
		`data: {"status":"succeeded","step":{"name":"finalizing","progress":100}}`,
	}, "\n") + "\n"

	observer, _, err := watch(t, input)
	if err != nil {
		t.Fatalf("Watch() error: %v", err)
	}
	want := []string{MsgFetching, MsgProcessing, MsgCompleted}
	if !reflect.DeepEqual(observer.messages, want) {
		t.Fatalf("progress = %v, want %v", observer.messages, want)
	}
}

func TestWatchOutOfOrderDuplicateNotReEmitted(t *testing.T) {
	// A late duplicate of a step already passed must not regress the
	// ordered state machine or re-emit its message.
	input := strings.Join([]string{
		`data: {"status":"deploying","step":{"name":"processing","progress":75}}`,
		`data: {"status":"deploying","step":{"name":"finalizing","progress":99}}`,
		`data: {"status":"deploying","step":{"name":"processing","progress":80}}`,
		`data: {"status":"succeeded","step":{"name":"finalizing","progress":100}}`,
	}, "\n") + "\n"

	observer, _, err := watch(t, input)
	if err != nil {
		t.Fatalf("Watch() error: %v", err)
	}
	want := []string{MsgFetching, MsgProcessing, MsgFinalizing, MsgCompleted}
	if !reflect.DeepEqual(observer.messages, want) {
		t.Fatalf("progress = %v, want %v", observer.messages, want)
	}
}

func TestWatchOversizedRecordDiscarded(t *testing.T) {
	// A record past the buffer cap is one more discard-with-warning, not a
	// fatal stream error.
	input := strings.Join([]string{
		`data: {"status":"deploying","step":{"name":"processing","progress":50}}`,
		`data: {"pad":"` + strings.Repeat("x", maxRecordSize+16) + `"}`,
		`data: {"status":"succeeded","step":{"name":"finalizing","progress":100}}`,
	}, "\n") + "\n"

	observer, logBuf, err := watch(t, input)
	if err != nil {
		t.Fatalf("Watch() error: %v", err)
	}
	want := []string{MsgFetching, MsgProcessing, MsgCompleted}
	if !reflect.DeepEqual(observer.messages, want) {
		t.Fatalf("progress = %v, want %v", observer.messages, want)
	}
	if got := countWarnings(logBuf); got != 1 {
		t.Fatalf("logged %d warnings, want exactly 1", got)
	}
}

func TestWatchSkippedIntermediateStep(t *testing.T) {
	// Finalizing straight from fetching must not break the state machine.
	input := strings.Join([]string{
		`data: {"status":"deploying","step":{"name":"finalizing","progress":99}}`,
		`data: {"status":"succeeded","step":{"name":"finalizing","progress":100}}`,
	}, "\n") + "\n"

	observer, _, err := watch(t, input)
	if err != nil {
		t.Fatalf("Watch() error: %v", err)
	}
	want := []string{MsgFetching, MsgFinalizing, MsgCompleted}
	if !reflect.DeepEqual(observer.messages, want) {
		t.Fatalf("progress = %v, want %v", observer.messages, want)
	}
}

func TestWatchRecordSplitAcrossReads(t *testing.T) {
	input := strings.Join([]string{
		`data: {"status":"deploying","step":{"name":"processing","progress":75}}`,
		`data: {"status":"succeeded","step":{"name":"finalizing","progress":100}}`,
	}, "\n") + "\n"

	observer := &recordingObserver{}
	watcher := NewWatcher(observer, log.New(&bytes.Buffer{}, "", 0))
	if err := watcher.Watch(context.Background(), &chunkReader{data: []byte(input), size: 7}); err != nil {
		t.Fatalf("Watch() error: %v", err)
	}
	want := []string{MsgFetching, MsgProcessing, MsgCompleted}
	if !reflect.DeepEqual(observer.messages, want) {
		t.Fatalf("progress = %v, want %v", observer.messages, want)
	}
}

func TestWatchMarkerlessRecordDiscarded(t *testing.T) {
	input := strings.Join([]string{
		`{"status":"deploying","step":{"name":"processing","progress":75}}`,
		`data: {"status":"succeeded","step":{"name":"finalizing","progress":100}}`,
	}, "\n") + "\n"

	observer, logBuf, err := watch(t, input)
	if err != nil {
		t.Fatalf("Watch() error: %v", err)
	}
	// The markerless record is discarded whole, so processing never fires.
	want := []string{MsgFetching, MsgCompleted}
	if !reflect.DeepEqual(observer.messages, want) {
		t.Fatalf("progress = %v, want %v", observer.messages, want)
	}
	if got := countWarnings(logBuf); got != 1 {
		t.Fatalf("logged %d parse warnings, want exactly 1", got)
	}
}

func TestWatchStreamClosedBeforeTerminalEvent(t *testing.T) {
	input := `data: {"status":"deploying","step":{"name":"processing","progress":50}}` + "\n"

	_, _, err := watch(t, input)
	if !fault.Is(err, fault.Stream) {
		t.Fatalf("Watch() error = %v, want stream-kind fault", err)
	}
	if !strings.Contains(err.Error(), "closed before completion") {
		t.Fatalf("Watch() error = %q, want a closed-before-completion message", err)
	}
}
