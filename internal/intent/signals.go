// Package intent classifies user utterances into tool domains.
//
// Classification is a table of regular-expression rules evaluated
// independently against the utterance: any number of domains may fire. It
// is pure and deterministic, so every rule can be unit-tested in isolation
// and the outcome for a given utterance never changes between calls.
package intent

// Domain names one family of tools.
type Domain string

// Supported domains, in rule order.
const (
	Weather           Domain = "weather"
	Calculator        Domain = "calculator"
	TranscriptList    Domain = "transcript_list"
	TranscriptFetch   Domain = "transcript_fetch"
	TranscriptSearch  Domain = "transcript_search"
	TranscriptMention Domain = "transcript_mention"
	Issues            Domain = "issues"
	Chat              Domain = "chat"
	SCM               Domain = "scm"
	Documents         Domain = "documents"
)

// Signals is the per-utterance classification result: one flag per domain
// plus the parameters extracted along the way.
type Signals struct {
	Weather           bool
	Calculator        bool
	TranscriptList    bool
	TranscriptFetch   bool
	TranscriptSearch  bool
	TranscriptMention bool
	Issues            bool
	Chat              bool
	SCM               bool
	Documents         bool

	// City is the place a weather question refers to.
	City string
	// Expression is a normalized arithmetic expression such as "2+3*4".
	Expression string
	// Keyword is the word or name a transcript question looks for.
	Keyword string
	// Filename is the transcript file the utterance names.
	Filename string
}

func (s *Signals) flag(d Domain) *bool {
	switch d {
	case Weather:
		return &s.Weather
	case Calculator:
		return &s.Calculator
	case TranscriptList:
		return &s.TranscriptList
	case TranscriptFetch:
		return &s.TranscriptFetch
	case TranscriptSearch:
		return &s.TranscriptSearch
	case TranscriptMention:
		return &s.TranscriptMention
	case Issues:
		return &s.Issues
	case Chat:
		return &s.Chat
	case SCM:
		return &s.SCM
	case Documents:
		return &s.Documents
	}
	return nil
}

// Has reports whether domain d fired.
func (s Signals) Has(d Domain) bool {
	if f := s.flag(d); f != nil {
		return *f
	}
	return false
}

var allDomains = []Domain{
	Weather, Calculator, TranscriptList, TranscriptFetch, TranscriptSearch,
	TranscriptMention, Issues, Chat, SCM, Documents,
}

// Domains lists the domains that fired, in rule order.
func (s Signals) Domains() []Domain {
	var out []Domain
	for _, d := range allDomains {
		if s.Has(d) {
			out = append(out, d)
		}
	}
	return out
}

// Any reports whether at least one domain fired.
func (s Signals) Any() bool {
	for _, d := range allDomains {
		if s.Has(d) {
			return true
		}
	}
	return false
}
