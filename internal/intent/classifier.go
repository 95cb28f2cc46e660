package intent

import (
	"regexp"
	"strings"
)

// Utterance is the text under classification in both cases.
type Utterance struct {
	Original string
	Lower    string
}

// Rule sets Domain when Context (if any) and at least one of Patterns match
// the lowercased utterance. Extract, when set, fills extracted parameters
// and may veto the rule by returning false.
type Rule struct {
	Domain   Domain
	Context  *regexp.Regexp
	Patterns []*regexp.Regexp
	Extract  func(u Utterance, s *Signals) bool
}

func (r Rule) match(u Utterance, s *Signals) bool {
	if r.Context != nil && !r.Context.MatchString(u.Lower) {
		return false
	}
	hit := false
	for _, p := range r.Patterns {
		if p.MatchString(u.Lower) {
			hit = true
			break
		}
	}
	if !hit {
		return false
	}
	if r.Extract != nil {
		return r.Extract(u, s)
	}
	return true
}

// Classifier evaluates an ordered rule table.
type Classifier struct {
	rules []Rule
}

// New returns a classifier over rules.
func New(rules []Rule) *Classifier {
	return &Classifier{rules: rules}
}

// Classify evaluates every rule against utterance.
func (c *Classifier) Classify(utterance string) Signals {
	u := Utterance{Original: strings.TrimSpace(utterance)}
	u.Lower = strings.ToLower(u.Original)

	var s Signals
	for _, r := range c.rules {
		// Extraction runs on a scratch copy so a vetoed rule leaves no trace.
		scratch := s
		if r.match(u, &scratch) {
			s = scratch
			if f := s.flag(r.Domain); f != nil {
				*f = true
			}
		}
	}
	return s
}

var defaultClassifier = New(DefaultRules())

// Classify runs the default rule table.
func Classify(utterance string) Signals {
	return defaultClassifier.Classify(utterance)
}

func re(pattern string) *regexp.Regexp { return regexp.MustCompile(pattern) }

// transcriptContext gates the transcript domains: generic questions that
// merely share vocabulary ("what do you know about X") never reach the
// narrower sub-patterns.
var transcriptContext = re(`\b(transcripts?|recordings?|recorded|meetings?|call notes|stand-?ups?)\b|[\w-]\.(json|txt)\b`)

// DefaultRules returns the built-in rule table.
func DefaultRules() []Rule {
	return []Rule{
		{
			Domain: Weather,
			Patterns: []*regexp.Regexp{
				re(`\b(weather|forecast|temperatures?|rain(ing|y)?|snow(ing|y)?|sunny|humid(ity)?|windy|degrees outside)\b`),
				re(`\bhow (hot|cold|warm) is it\b`),
			},
			Extract: func(u Utterance, s *Signals) bool {
				s.City = ExtractCity(u.Original)
				return true
			},
		},
		{
			Domain: Calculator,
			Patterns: []*regexp.Regexp{
				re(`\b(calculate|compute|evaluate|solve|how much is|what is|what's|whats)\b`),
				re(`\d\s*[-+*/×÷x^%]\s*[\d(]`),
				re(`\b(plus|minus|times|divided by|multiplied by|to the power of|squared|cubed|square root|sqrt|modulo)\b`),
			},
			Extract: func(u Utterance, s *Signals) bool {
				s.Expression = ExtractExpression(u.Lower)
				return s.Expression != ""
			},
		},
		{
			Domain:  TranscriptList,
			Context: transcriptContext,
			Patterns: []*regexp.Regexp{
				re(`\b(list|which|what|available|all)\b[^.?!]*\b(transcripts|recordings|meetings)\b`),
				re(`\bhow many (transcripts|recordings|meetings)\b`),
			},
		},
		{
			Domain:  TranscriptFetch,
			Context: transcriptContext,
			Patterns: []*regexp.Regexp{
				re(`\b(get|show|open|read|fetch|display|print|give me|load)\b[^.?!]*\b(transcript|recording|[\w-]\.(json|txt))\b`),
				re(`\b(transcript|contents?|text) of\b`),
			},
			Extract: extractTranscriptParams,
		},
		{
			Domain:  TranscriptSearch,
			Context: transcriptContext,
			Patterns: []*regexp.Regexp{
				re(`\b(sentences?|lines?|passages?|quotes?|occurrences?)\b`),
				re(`\b(search|find|grep|look for|look up)\b`),
				re(`\bword\b.*\b(appears?|occurs?|shows? up|is used)\b`),
				re(`\bwhere\b.*\b(mentioned|appears?|comes up|is said|was said)\b`),
			},
			Extract: extractTranscriptParams,
		},
		{
			Domain:  TranscriptMention,
			Context: transcriptContext,
			Patterns: []*regexp.Regexp{
				re(`\bmention(s|ed|ing)?\b`),
				re(`\b(summari[sz]e|summary)\b`),
				re(`\b(talk(s|ed)?|said|say|says|speak|spoke|discussed|brought up)\b`),
			},
			Extract: extractTranscriptParams,
		},
		{
			Domain: Issues,
			Patterns: []*regexp.Regexp{
				re(`\b(issues?|tickets?|bugs?|bug reports?|jira|backlog)\b`),
				re(`\b(file|open|create|report|raise) an? (issue|bug|ticket)\b`),
			},
		},
		{
			Domain: Chat,
			Patterns: []*regexp.Regexp{
				re(`\b(slack|discord|chat|channels?|dms?)\b`),
				re(`\b(post|send|message|tell)\b[^.?!]*\b(team|channel|room)\b`),
			},
		},
		{
			Domain: SCM,
			Patterns: []*regexp.Regexp{
				re(`\b(commits?|committed|git|repos?|repository|repositories|branch(es)?|pull requests?|merge requests?|changelog|source control|perforce|changelists?)\b`),
			},
		},
		{
			Domain: Documents,
			Patterns: []*regexp.Regexp{
				re(`\b(documents?|docs|wiki|knowledge base|runbooks?|handbook|polic(y|ies)|documentation)\b`),
			},
		},
	}
}

func extractTranscriptParams(u Utterance, s *Signals) bool {
	kw, file := ExtractKeyword(u.Original)
	if file == "" {
		file = ExtractFilename(u.Original)
	}
	s.Keyword, s.Filename = kw, file
	return true
}
