// Package transcript serves meeting transcripts stored as files in one
// directory. Supported formats:
//
//   - *.json: an array of segments, or an object with a "segments" array,
//     or an object with a "text" or "transcript" string. A segment is
//     {"speaker": "...", "start": 12.5, "text": "..."}.
//   - *.txt: one utterance per line, optionally prefixed with "Speaker:".
//
// Filenames given by the user or the model are resolved leniently: exact
// name first, then with a missing extension added, then by fuzzy match
// against the directory listing. Files outside the directory are never read.
package transcript

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/sahilm/fuzzy"
)

// maxFileBytes caps the size of a transcript file.
const maxFileBytes = 4 << 20

// ErrNotFound is returned when a filename does not resolve to a transcript.
var ErrNotFound = errors.New("transcript: not found")

// Segment is one utterance of a transcript.
type Segment struct {
	Speaker string  `json:"speaker,omitempty"`
	Start   float64 `json:"start,omitempty"`
	Text    string  `json:"text"`
}

// Transcript is a parsed transcript file.
type Transcript struct {
	Filename string    `json:"filename"`
	Segments []Segment `json:"segments"`
}

// Text joins the segments, one per line, with speaker prefixes.
func (t *Transcript) Text() string {
	var b strings.Builder
	for i, s := range t.Segments {
		if i > 0 {
			b.WriteByte('\n')
		}
		if s.Speaker != "" {
			b.WriteString(s.Speaker)
			b.WriteString(": ")
		}
		b.WriteString(s.Text)
	}
	return b.String()
}

// FileInfo describes one transcript in the listing.
type FileInfo struct {
	Filename string    `json:"filename"`
	Size     int64     `json:"size_bytes"`
	Modified time.Time `json:"modified"`
}

// Store reads transcripts from a directory.
type Store struct {
	dir     string
	matcher *Matcher
}

// Option configures a [Store].
type Option func(*Store)

// WithMatcher replaces the mention matcher.
func WithMatcher(m *Matcher) Option {
	return func(s *Store) { s.matcher = m }
}

// NewStore returns a store over dir.
func NewStore(dir string, opts ...Option) *Store {
	s := &Store{dir: dir, matcher: NewMatcher()}
	for _, o := range opts {
		o(s)
	}
	return s
}

func isTranscriptFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".json" || ext == ".txt"
}

// List returns the transcripts in the directory sorted by name.
func (s *Store) List(ctx context.Context) ([]FileInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("transcript: list %s: %w", s.dir, err)
	}
	files := make([]FileInfo, 0, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("transcript: list: %w", err)
		}
		if e.IsDir() || !isTranscriptFile(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, FileInfo{Filename: e.Name(), Size: info.Size(), Modified: info.ModTime().UTC()})
	}
	slices.SortFunc(files, func(a, b FileInfo) int { return strings.Compare(a.Filename, b.Filename) })
	return files, nil
}

// Resolve maps a user-supplied name onto a file in the listing.
func (s *Store) Resolve(ctx context.Context, name string) (string, error) {
	name = strings.TrimSpace(strings.Trim(name, `"'`))
	if name == "" {
		return "", errors.New("transcript: filename must not be empty")
	}
	files, err := s.List(ctx)
	if err != nil {
		return "", err
	}
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.Filename
	}

	base := filepath.Base(name)
	for _, candidate := range []string{base, base + ".json", base + ".txt"} {
		for _, n := range names {
			if strings.EqualFold(n, candidate) {
				return n, nil
			}
		}
	}
	if matches := fuzzy.Find(base, names); len(matches) > 0 {
		return matches[0].Str, nil
	}
	return "", fmt.Errorf("%w: %q", ErrNotFound, name)
}

// Load resolves name and parses the file.
func (s *Store) Load(ctx context.Context, name string) (*Transcript, error) {
	resolved, err := s.Resolve(ctx, name)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(s.dir, resolved)
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("transcript: %w", err)
	}
	if info.Size() > maxFileBytes {
		return nil, fmt.Errorf("transcript: %s is too large (%d bytes, max %d)", resolved, info.Size(), maxFileBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("transcript: read %s: %w", resolved, err)
	}

	var segs []Segment
	if strings.EqualFold(filepath.Ext(resolved), ".json") {
		segs, err = parseJSON(data)
		if err != nil {
			return nil, fmt.Errorf("transcript: parse %s: %w", resolved, err)
		}
	} else {
		segs = parseText(string(data))
	}
	return &Transcript{Filename: resolved, Segments: segs}, nil
}

// loadAll returns the named transcript, or every transcript when name is
// empty.
func (s *Store) loadAll(ctx context.Context, name string) ([]*Transcript, error) {
	if name != "" {
		t, err := s.Load(ctx, name)
		if err != nil {
			return nil, err
		}
		return []*Transcript{t}, nil
	}
	files, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Transcript, 0, len(files))
	for _, f := range files {
		t, err := s.Load(ctx, f.Filename)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

type jsonDoc struct {
	Segments   []Segment `json:"segments"`
	Text       string    `json:"text"`
	Transcript string    `json:"transcript"`
}

func parseJSON(data []byte) ([]Segment, error) {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var segs []Segment
		if err := json.Unmarshal(data, &segs); err != nil {
			return nil, err
		}
		return segs, nil
	}
	var doc jsonDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	switch {
	case len(doc.Segments) > 0:
		return doc.Segments, nil
	case doc.Text != "":
		return parseText(doc.Text), nil
	case doc.Transcript != "":
		return parseText(doc.Transcript), nil
	}
	return nil, nil
}

var speakerLine = regexp.MustCompile(`^([\p{Lu}][\p{L}\d .'-]{0,30}):\s+(.+)$`)

func parseText(text string) []Segment {
	var segs []Segment
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if m := speakerLine.FindStringSubmatch(line); m != nil {
			segs = append(segs, Segment{Speaker: strings.TrimSpace(m[1]), Text: m[2]})
			continue
		}
		segs = append(segs, Segment{Text: line})
	}
	return segs
}
