package media

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/abadojack/whatlanggo"
	"github.com/openscribe/transcriber/internal/transcript"
)

// ParseCues reads WebVTT or SRT caption data into segments. Both formats
// share the "start --> end" cue shape; only the millisecond separator and
// the header differ.
func ParseCues(r io.Reader) ([]transcript.Segment, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	segments := make([]transcript.Segment, 0)
	var current *transcript.Segment
	lineNo := 0

	flush := func() {
		if current == nil {
			return
		}
		current.Text = strings.TrimSpace(current.Text)
		if current.Text != "" {
			segments = append(segments, *current)
		}
		current = nil
	}

	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())

		switch {
		case line == "":
			flush()
		case strings.Contains(line, "-->"):
			flush()
			start, end, err := parseCueTiming(line)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			current = &transcript.Segment{Start: start, End: end}
		case current != nil:
			text := stripCueMarkup(line)
			if current.Text == "" {
				current.Text = text
			} else {
				current.Text += " " + text
			}
		default:
			// header, cue number or NOTE block; skip
		}
	}
	flush()

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return segments, nil
}

// parseCueTiming parses "HH:MM:SS.mmm --> HH:MM:SS.mmm" (VTT) or the SRT
// comma variant. VTT cue settings after the end timestamp are ignored.
func parseCueTiming(line string) (float64, float64, error) {
	left, right, _ := strings.Cut(line, "-->")
	start, err := parseCueTimestamp(strings.TrimSpace(left))
	if err != nil {
		return 0, 0, err
	}
	endField := strings.Fields(strings.TrimSpace(right))
	if len(endField) == 0 {
		return 0, 0, fmt.Errorf("cue timing missing end timestamp: %q", line)
	}
	end, err := parseCueTimestamp(endField[0])
	if err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

func parseCueTimestamp(ts string) (float64, error) {
	ts = strings.ReplaceAll(ts, ",", ".")
	parts := strings.Split(ts, ":")
	if len(parts) == 2 {
		// VTT allows MM:SS.mmm
		parts = append([]string{"0"}, parts...)
	}
	if len(parts) != 3 {
		return 0, fmt.Errorf("malformed timestamp %q", ts)
	}

	hours, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("malformed timestamp %q", ts)
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("malformed timestamp %q", ts)
	}
	seconds, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return 0, fmt.Errorf("malformed timestamp %q", ts)
	}
	return float64(hours)*3600 + float64(minutes)*60 + seconds, nil
}

// stripCueMarkup removes inline VTT tags like <c> and timing tags.
func stripCueMarkup(line string) string {
	var b strings.Builder
	inTag := false
	for _, c := range line {
		switch {
		case c == '<':
			inTag = true
		case c == '>':
			inTag = false
		case !inTag:
			b.WriteRune(c)
		}
	}
	return strings.TrimSpace(b.String())
}

// SniffLanguage detects the ISO 639-1 code of segment text. Returns
// transcript.LanguageUnknown when detection is unreliable.
func SniffLanguage(segments []transcript.Segment) string {
	text := transcript.JoinText(segments)
	if strings.TrimSpace(text) == "" {
		return transcript.LanguageUnknown
	}
	info := whatlanggo.Detect(text)
	if !info.IsReliable() {
		return transcript.LanguageUnknown
	}
	code := info.Lang.Iso6391()
	if code == "" {
		return transcript.LanguageUnknown
	}
	return code
}
