package transcript

import (
	"bufio"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"transcript-rag/internal/domain"
)

// Format is a supported transcript file format.
type Format string

const (
	FormatJSON Format = "json"
	FormatSRT  Format = "srt"
	FormatVTT  Format = "vtt"
	FormatText Format = "txt"
)

var ErrUnknownFormat = errors.New("unknown transcript format")

// FormatFromPath infers the format from the file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".srt":
		return FormatSRT, nil
	case ".vtt":
		return FormatVTT, nil
	case ".txt":
		return FormatText, nil
	}
	return "", fmt.Errorf("%s: %w", path, ErrUnknownFormat)
}

// CorpusID derives a stable corpus identifier from a file path.
func CorpusID(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	h := sha1.Sum([]byte(path))
	return hex.EncodeToString(h[:8])
}

// LoadFile reads the transcript segments stored at path.
func LoadFile(path string) ([]domain.TimedSegment, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	segs, err := Load(f, format)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return segs, nil
}

// Load parses segments from r.
func Load(r io.Reader, format Format) ([]domain.TimedSegment, error) {
	switch format {
	case FormatJSON:
		return parseJSON(r)
	case FormatSRT, FormatVTT:
		return parseCues(r)
	case FormatText:
		return parseText(r)
	}
	return nil, fmt.Errorf("%q: %w", format, ErrUnknownFormat)
}

// jsonSegment accepts both the millisecond shape {text, offset, duration} and the
// seconds shape {text, start, duration} used by caption exporters.
type jsonSegment struct {
	Text     string   `json:"text"`
	Offset   *float64 `json:"offset"`
	Start    *float64 `json:"start"`
	Duration float64  `json:"duration"`
	Dur      *float64 `json:"dur"`
}

func parseJSON(r io.Reader) ([]domain.TimedSegment, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var raw []jsonSegment
	if err := json.Unmarshal(data, &raw); err != nil {
		var wrapped struct {
			Segments []jsonSegment `json:"segments"`
		}
		if err2 := json.Unmarshal(data, &wrapped); err2 != nil || wrapped.Segments == nil {
			return nil, fmt.Errorf("decode json transcript: %w", err)
		}
		raw = wrapped.Segments
	}
	out := make([]domain.TimedSegment, 0, len(raw))
	for i, s := range raw {
		scale := 1.0
		offset := 0.0
		switch {
		case s.Offset != nil:
			offset = *s.Offset
		case s.Start != nil:
			scale = 1000
			offset = *s.Start
		}
		duration := s.Duration
		if s.Dur != nil {
			duration = *s.Dur
		}
		if offset < 0 || duration < 0 {
			return nil, fmt.Errorf("segment %d: negative timing", i)
		}
		out = append(out, domain.TimedSegment{
			Text:       cleanText(s.Text),
			OffsetMs:   uint64(offset*scale + 0.5),
			DurationMs: uint64(duration*scale + 0.5),
		})
	}
	return out, nil
}

var (
	cueTimingRe = regexp.MustCompile(`^((?:\d+:)?\d{1,2}:\d{2}[.,]\d{1,3})\s*-->\s*((?:\d+:)?\d{1,2}:\d{2}[.,]\d{1,3})`)
	markupRe    = regexp.MustCompile(`<[^>]*>|\{\\[^}]*\}`)
)

// parseCues reads SubRip and WebVTT cue blocks. Numeric cue identifiers, the WEBVTT header and
// NOTE blocks are skipped.
func parseCues(r io.Reader) ([]domain.TimedSegment, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	var (
		out     []domain.TimedSegment
		cur     *domain.TimedSegment
		text    []string
		lineNum int
	)
	flush := func() {
		if cur != nil {
			cur.Text = cleanText(strings.Join(text, " "))
			if cur.Text != "" {
				out = append(out, *cur)
			}
		}
		cur, text = nil, nil
	}
	for sc.Scan() {
		lineNum++
		line := strings.TrimSpace(strings.TrimPrefix(sc.Text(), "\ufeff"))
		if line == "" {
			flush()
			continue
		}
		if m := cueTimingRe.FindStringSubmatch(line); m != nil {
			flush()
			start, err := parseTimestamp(m[1])
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNum, err)
			}
			end, err := parseTimestamp(m[2])
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNum, err)
			}
			if end < start {
				end = start
			}
			cur = &domain.TimedSegment{OffsetMs: start, DurationMs: end - start}
			continue
		}
		if cur == nil {
			// cue identifier, header or note
			continue
		}
		text = append(text, line)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	flush()
	return out, nil
}

// parseTimestamp converts [hh:]mm:ss,mmm or [hh:]mm:ss.mmm into milliseconds.
func parseTimestamp(ts string) (uint64, error) {
	ts = strings.Replace(ts, ",", ".", 1)
	parts := strings.Split(ts, ":")
	var total float64
	for _, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return 0, fmt.Errorf("bad timestamp %q", ts)
		}
		total = total*60 + v
	}
	return uint64(total*1000 + 0.5), nil
}

// parseText turns each non-empty line into an untimed segment.
func parseText(r io.Reader) ([]domain.TimedSegment, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	var out []domain.TimedSegment
	for sc.Scan() {
		if line := cleanText(sc.Text()); line != "" {
			out = append(out, domain.TimedSegment{Text: line})
		}
	}
	return out, sc.Err()
}

func cleanText(s string) string {
	s = markupRe.ReplaceAllString(s, "")
	return strings.Join(strings.Fields(s), " ")
}
