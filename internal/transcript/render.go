package transcript

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// Format is a downstream output format for a rendered transcript.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
	FormatSRT  Format = "srt"
	FormatVTT  Format = "vtt"
)

// ParseFormat normalizes a user-supplied format name. Empty defaults to JSON.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return FormatJSON, nil
	case FormatJSON:
		return FormatJSON, nil
	case FormatText:
		return FormatText, nil
	case FormatSRT:
		return FormatSRT, nil
	case FormatVTT:
		return FormatVTT, nil
	default:
		return "", fmt.Errorf("unsupported output format %q", s)
	}
}

// ContentType returns the HTTP content type for the format.
func (f Format) ContentType() string {
	switch f {
	case FormatText:
		return "text/plain; charset=utf-8"
	case FormatSRT:
		return "application/x-subrip"
	case FormatVTT:
		return "text/vtt"
	default:
		return "application/json"
	}
}

// Render serializes a transcript into the requested format. Rendering never
// fails for a well-formed transcript; an empty segment sequence renders to
// an empty body.
func Render(t Transcript, f Format) ([]byte, error) {
	switch f {
	case FormatJSON:
		return json.Marshal(t)
	case FormatText:
		return []byte(t.FullText), nil
	case FormatSRT:
		return renderSRT(t.Segments), nil
	case FormatVTT:
		return renderVTT(t.Segments), nil
	default:
		return nil, fmt.Errorf("unsupported output format %q", f)
	}
}

func renderSRT(segments []Segment) []byte {
	var buf bytes.Buffer
	for i, seg := range segments {
		fmt.Fprintf(&buf, "%d\n", i+1)
		fmt.Fprintf(&buf, "%s --> %s\n", formatTimestamp(seg.Start, ','), formatTimestamp(seg.End, ','))
		fmt.Fprintf(&buf, "%s\n\n", seg.Text)
	}
	return buf.Bytes()
}

func renderVTT(segments []Segment) []byte {
	if len(segments) == 0 {
		return nil
	}
	var buf bytes.Buffer
	buf.WriteString("WEBVTT\n\n")
	for _, seg := range segments {
		fmt.Fprintf(&buf, "%s --> %s\n", formatTimestamp(seg.Start, '.'), formatTimestamp(seg.End, '.'))
		fmt.Fprintf(&buf, "%s\n\n", seg.Text)
	}
	return buf.Bytes()
}

// formatTimestamp renders seconds as HH:MM:SS<sep>mmm. SRT separates
// milliseconds with a comma, VTT with a dot.
func formatTimestamp(seconds float64, sep byte) string {
	if seconds < 0 {
		seconds = 0
	}
	totalMillis := int64(math.Round(seconds * 1000))
	hours := totalMillis / 3_600_000
	minutes := (totalMillis / 60_000) % 60
	secs := (totalMillis / 1000) % 60
	millis := totalMillis % 1000
	return fmt.Sprintf("%02d:%02d:%02d%c%03d", hours, minutes, secs, sep, millis)
}
