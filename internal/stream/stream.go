// Package stream tracks a deployment to completion by consuming the
// platform's chunked event stream. Records arrive as newline-delimited
// lines carrying a fixed marker plus one JSON payload; chunking may split a
// record across reads or pack several into one, so framing buffers bytes
// and isolates one record per delimiter before decoding.
package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"edgectl/internal/api"
	"edgectl/internal/fault"
)

// recordMarker prefixes every well-formed record on the wire.
const recordMarker = "data: "

// maxRecordSize bounds how many bytes of a single record are buffered. A
// record past the cap is one more undecodable unit: discarded with a
// warning, not fatal to the stream.
const maxRecordSize = 1 << 20

// Step names carried by step-bearing events.
const (
	StepFetching   = "fetching"
	StepProcessing = "processing"
	StepFinalizing = "finalizing"
)

// Progress messages emitted through the observer.
const (
	MsgFetching   = "Fetching..."
	MsgProcessing = "Processing..."
	MsgFinalizing = "Finalizing..."
	MsgCompleted  = "Deployment completed successfully."
)

// Watcher runs the deployment progress state machine over an event stream.
type Watcher struct {
	observer ProgressObserver
	logger   *log.Logger
	state    State
}

// NewWatcher builds a Watcher reporting transitions to observer and parse
// warnings to logger. Both may be nil.
func NewWatcher(observer ProgressObserver, logger *log.Logger) *Watcher {
	if logger == nil {
		logger = log.New(os.Stderr, "edgectl: ", log.LstdFlags)
	}
	return &Watcher{observer: observer, logger: logger}
}

// Watch reads records from r until a terminal event is observed or the
// stream closes. It resolves exactly once: nil on a success event, a
// deployment-kind fault carrying the server's code on a failure event, or a
// stream-kind fault when the connection closes with neither. A record that
// fails to decode is logged, discarded whole, and never re-merged with
// later bytes; parse failure is never fatal.
func (w *Watcher) Watch(ctx context.Context, r io.Reader) error {
	w.advance(StateFetching, MsgFetching)

	reader := bufio.NewReaderSize(r, 64*1024)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		line, tooLong, err := readRecord(reader)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fault.Wrap(fault.Stream, err, "read deployment events")
		}
		if tooLong {
			w.logger.Printf("WARN: discarding oversized deployment event record (over %d bytes)", maxRecordSize)
			continue
		}

		record := strings.TrimSpace(string(line))
		if record == "" {
			continue
		}

		event, err := decodeRecord(record)
		if err != nil {
			w.logger.Printf("WARN: discarding malformed deployment event: %v", err)
			continue
		}

		if event.Error != nil {
			// No further progress is emitted for a server-reported
			// failure; the code is surfaced to the caller instead.
			w.state = StateFailed
			return &fault.Error{
				Kind:    fault.Deployment,
				Code:    event.Error.Code,
				Message: fmt.Sprintf("Deployment failed with error code: %d", event.Error.Code),
			}
		}

		if event.Status == api.DeploymentStatusSucceeded {
			w.advance(StateCompleted, MsgCompleted)
			return nil
		}

		switch event.Step.Name {
		case StepFetching:
			w.advance(StateFetching, MsgFetching)
		case StepProcessing:
			w.advance(StateProcessing, MsgProcessing)
		case StepFinalizing:
			w.advance(StateFinalizing, MsgFinalizing)
		}
	}

	return fault.New(fault.Stream, "deployment stream closed before completion")
}

// readRecord returns the next delimiter-isolated record. A line past
// maxRecordSize is consumed through its newline and reported oversized so
// the caller can discard it whole.
func readRecord(br *bufio.Reader) ([]byte, bool, error) {
	var buf []byte
	tooLong := false
	for {
		chunk, isPrefix, err := br.ReadLine()
		if err != nil {
			return nil, tooLong, err
		}
		if !tooLong {
			buf = append(buf, chunk...)
			if len(buf) > maxRecordSize {
				tooLong = true
				buf = nil
			}
		}
		if !isPrefix {
			return buf, tooLong, nil
		}
	}
}

// advance moves the state machine forward, notifying the observer on the
// first transition into a state only. Progress is monotonic: duplicate or
// out-of-order events for a step already passed are ignored, never
// re-emitted.
func (w *Watcher) advance(next State, message string) {
	if next <= w.state {
		return
	}
	prev := w.state
	w.state = next
	if w.observer != nil {
		w.observer.Transition(prev, next, message)
	}
}

// decodeRecord strips the record marker and decodes the JSON payload. The
// returned error describes why the record was unusable.
func decodeRecord(record string) (*api.DeploymentEvent, error) {
	payload, ok := strings.CutPrefix(record, recordMarker)
	if !ok {
		return nil, fmt.Errorf("record %q missing %q marker", truncate(record), recordMarker)
	}

	var event api.DeploymentEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		return nil, fmt.Errorf("decode record %q: %w", truncate(payload), err)
	}
	return &event, nil
}

func truncate(s string) string {
	const max = 120
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
