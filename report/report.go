// Package report renders beat tracking output for people and programs.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/RyanBlaney/sonido-tempo/beat"
)

// Text writes one line per beat and a closing summary line naming the input
type Text struct {
	w    io.Writer
	name string
}

// NewText creates a text report for the input called name
func NewText(w io.Writer, name string) *Text {
	return &Text{w: w, name: name}
}

func (t *Text) Beat(event beat.BeatEvent) error {
	_, err := fmt.Fprintf(t.w, "beat at %sms, %ss, frame %d, %sbpm with confidence %s\n",
		formatFloat(event.TimeMs),
		formatFloat(event.TimeSeconds),
		event.FrameIndex,
		formatFloat(event.BPM),
		formatFloat(event.Confidence),
	)
	return err
}

func (t *Text) Summary(summary beat.Summary) error {
	_, err := fmt.Fprintf(t.w, "read %ss, %d frames at %dHz (%d blocks) from %s\n",
		formatFloat(summary.DurationSeconds),
		summary.TotalFrames,
		summary.SampleRate,
		summary.HopCount,
		t.name,
	)
	return err
}

// formatFloat uses six significant digits and drops trailing zeros
func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', 6, 64)
}

// JSON writes one JSON object per line: {"beat": ...} for each event and
// {"summary": ...} at the end
type JSON struct {
	enc  *json.Encoder
	name string
}

// NewJSON creates a JSON lines report for the input called name
func NewJSON(w io.Writer, name string) *JSON {
	return &JSON{enc: json.NewEncoder(w), name: name}
}

type jsonSummary struct {
	beat.Summary
	FinalState string `json:"final_state"`
	Source     string `json:"source"`
}

func (j *JSON) Beat(event beat.BeatEvent) error {
	return j.enc.Encode(map[string]beat.BeatEvent{"beat": event})
}

func (j *JSON) Summary(summary beat.Summary) error {
	return j.enc.Encode(map[string]jsonSummary{"summary": {
		Summary:    summary,
		FinalState: summary.FinalState.String(),
		Source:     j.name,
	}})
}

// New returns the sink for a format name: "text" or "json"
func New(format string, w io.Writer, name string) (beat.Sink, error) {
	switch format {
	case "", "text":
		return NewText(w, name), nil
	case "json":
		return NewJSON(w, name), nil
	default:
		return nil, fmt.Errorf("unknown report format %q", format)
	}
}
