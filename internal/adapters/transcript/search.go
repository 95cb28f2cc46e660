package transcript

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"unicode"
)

const (
	maxMatches   = 50
	maxTextRunes = 12000
)

var sentencePattern = regexp.MustCompile(`[^.!?]+(?:[.!?]+|$)`)

// Match is one sentence containing the keyword.
type Match struct {
	Filename string  `json:"filename"`
	Speaker  string  `json:"speaker,omitempty"`
	Start    float64 `json:"start,omitempty"`
	Sentence string  `json:"sentence"`
	Matched  string  `json:"matched,omitempty"`
	Kind     Kind    `json:"match,omitempty"`
}

// SearchResult is the payload of search_transcript.
type SearchResult struct {
	Keyword   string  `json:"keyword"`
	Filename  string  `json:"filename,omitempty"`
	Count     int     `json:"count"`
	Truncated bool    `json:"truncated,omitempty"`
	Matches   []Match `json:"matches"`
}

// Summary lists the matching sentences.
func (r *SearchResult) Summary() string {
	return listMatches(r.Keyword, r.Filename, r.Matches, r.Count)
}

// MentionResult is the payload of summarize_mentions.
type MentionResult struct {
	Keyword   string         `json:"keyword"`
	Filename  string         `json:"filename,omitempty"`
	Count     int            `json:"count"`
	Truncated bool           `json:"truncated,omitempty"`
	Variants  []string       `json:"variants,omitempty"`
	Speakers  map[string]int `json:"speakers,omitempty"`
	Matches   []Match        `json:"matches"`
}

// Summary lists the mentions, noting spelling variants heard.
func (r *MentionResult) Summary() string {
	s := listMatches(r.Keyword, r.Filename, r.Matches, r.Count)
	if len(r.Variants) > 0 {
		s += fmt.Sprintf("\n(also heard as: %s)", strings.Join(r.Variants, ", "))
	}
	return s
}

func listMatches(keyword, filename string, matches []Match, count int) string {
	where := "the transcripts"
	if filename != "" {
		where = filename
	}
	if count == 0 {
		return fmt.Sprintf("No sentences mention %q in %s.", keyword, where)
	}
	var b strings.Builder
	noun := "sentences"
	if count == 1 {
		noun = "sentence"
	}
	fmt.Fprintf(&b, "Found %d %s mentioning %q in %s:", count, noun, keyword, where)
	for _, m := range matches {
		b.WriteString("\n- ")
		if m.Speaker != "" {
			b.WriteString(m.Speaker)
			b.WriteString(": ")
		}
		b.WriteString(m.Sentence)
	}
	if len(matches) < count {
		fmt.Fprintf(&b, "\n(%d more not shown)", count-len(matches))
	}
	return b.String()
}

// Document is the payload of get_transcript.
type Document struct {
	Filename  string   `json:"filename"`
	Segments  int      `json:"segments"`
	Speakers  []string `json:"speakers,omitempty"`
	Text      string   `json:"text"`
	Truncated bool     `json:"truncated,omitempty"`
}

// Summary returns the transcript text.
func (d *Document) Summary() string {
	return fmt.Sprintf("Transcript %s:\n%s", d.Filename, d.Text)
}

// Get loads a transcript as a [Document], truncating long text.
func (s *Store) Get(ctx context.Context, name string) (*Document, error) {
	t, err := s.Load(ctx, name)
	if err != nil {
		return nil, err
	}
	doc := &Document{Filename: t.Filename, Segments: len(t.Segments)}
	for _, seg := range t.Segments {
		if seg.Speaker != "" && !slices.Contains(doc.Speakers, seg.Speaker) {
			doc.Speakers = append(doc.Speakers, seg.Speaker)
		}
	}
	text := []rune(t.Text())
	if len(text) > maxTextRunes {
		text = text[:maxTextRunes]
		doc.Truncated = true
	}
	doc.Text = string(text)
	return doc, nil
}

// Search returns the sentences containing keyword as a whole word or
// phrase, ignoring case. An empty filename searches every transcript.
func (s *Store) Search(ctx context.Context, keyword, filename string) (*SearchResult, error) {
	matches, count, err := s.scan(ctx, keyword, filename, false)
	if err != nil {
		return nil, err
	}
	return &SearchResult{
		Keyword:   keyword,
		Filename:  resolvedName(matches, filename),
		Count:     count,
		Truncated: count > len(matches),
		Matches:   matches,
	}, nil
}

// Mentions is Search with phonetic and fuzzy matching, plus per-speaker
// counts and the spelling variants found.
func (s *Store) Mentions(ctx context.Context, keyword, filename string) (*MentionResult, error) {
	matches, count, err := s.scan(ctx, keyword, filename, true)
	if err != nil {
		return nil, err
	}
	res := &MentionResult{
		Keyword:   keyword,
		Filename:  resolvedName(matches, filename),
		Count:     count,
		Truncated: count > len(matches),
		Matches:   matches,
	}
	for _, m := range matches {
		if m.Speaker != "" {
			if res.Speakers == nil {
				res.Speakers = make(map[string]int)
			}
			res.Speakers[m.Speaker]++
		}
		if m.Kind != KindExact && !slices.Contains(res.Variants, m.Matched) {
			res.Variants = append(res.Variants, m.Matched)
		}
	}
	return res, nil
}

func resolvedName(matches []Match, requested string) string {
	if requested == "" {
		return ""
	}
	if len(matches) > 0 {
		return matches[0].Filename
	}
	return requested
}

func (s *Store) scan(ctx context.Context, keyword, filename string, lenient bool) ([]Match, int, error) {
	keyword = strings.TrimSpace(strings.Trim(keyword, `"'`))
	if keyword == "" {
		return nil, 0, errors.New("transcript: keyword must not be empty")
	}
	transcripts, err := s.loadAll(ctx, filename)
	if err != nil {
		return nil, 0, err
	}
	width := len(strings.Fields(keyword))

	matches := []Match{}
	count := 0
	for _, t := range transcripts {
		for _, seg := range t.Segments {
			for _, sentence := range sentencePattern.FindAllString(seg.Text, -1) {
				sentence = strings.TrimSpace(sentence)
				matched, kind, ok := s.find(sentence, keyword, width, lenient)
				if !ok {
					continue
				}
				count++
				if len(matches) < maxMatches {
					matches = append(matches, Match{
						Filename: t.Filename,
						Speaker:  seg.Speaker,
						Start:    seg.Start,
						Sentence: sentence,
						Matched:  matched,
						Kind:     kind,
					})
				}
			}
		}
	}
	return matches, count, nil
}

// find slides a window of width words over sentence and reports the first
// span that matches keyword. Exact matches win over lenient ones.
func (s *Store) find(sentence, keyword string, width int, lenient bool) (string, Kind, bool) {
	words := strings.FieldsFunc(sentence, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\'' && r != '-'
	})
	if len(words) < width {
		return "", "", false
	}
	var (
		best      string
		bestKind  Kind
		bestScore float64
	)
	for i := 0; i+width <= len(words); i++ {
		span := strings.Join(words[i:i+width], " ")
		if strings.EqualFold(span, keyword) {
			return span, KindExact, true
		}
		if !lenient {
			continue
		}
		if kind, score, ok := s.matcher.Match(span, keyword); ok && score > bestScore {
			best, bestKind, bestScore = span, kind, score
		}
	}
	return best, bestKind, best != ""
}
