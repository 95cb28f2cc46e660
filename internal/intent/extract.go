package intent

import (
	"regexp"
	"strings"
	"unicode"
)

// ---- arithmetic ----

var (
	wrapperPrefix = re(`^(please\s+)?(can you\s+|could you\s+)?(what\s+is|what's|whats|how\s+much\s+is|calculate|compute|evaluate|solve|tell me)\s+(the\s+(result|value|answer)\s+of\s+)?`)
	dateOrTime    = re(`\b\d{4}-\d{2}-\d{2}\b|\b\d{1,2}:\d{2}(:\d{2})?\b`)
	thousands     = re(`(\d),(\d{3})\b`)
	timesX        = re(`(\d)\s*x\s*(\d)`)
	sqrtBare      = re(`sqrt\s*(\d+(\.\d+)?)`)
	exprRun       = re(`(sqrt|abs|[-(\d.])(sqrt|abs|[\d\s.+\-*/%^()])*`)
	hasOperator   = re(`[\d)]\s*[-+*/%^]\s*[-(\d.sa]|sqrt|abs`)
)

// wordOps rewrites spoken operators, longest phrases first.
var wordOps = []struct {
	pattern *regexp.Regexp
	repl    string
}{
	{re(`\bsquare root of\b`), "sqrt"},
	{re(`\bdivided by\b`), "/"},
	{re(`\bmultiplied by\b`), "*"},
	{re(`\bto the power of\b`), "^"},
	{re(`\bsquared\b`), "^2"},
	{re(`\bcubed\b`), "^3"},
	{re(`\btimes\b`), "*"},
	{re(`\bplus\b`), "+"},
	{re(`\bminus\b`), "-"},
	{re(`\b(modulo|mod)\b`), "%"},
	{re(`×`), "*"},
	{re(`÷`), "/"},
	{re(`−`), "-"},
}

// ExtractExpression pulls an arithmetic expression out of a lowercased
// utterance, normalizing spoken and typographic operators: "what is 2 plus
// 3 × 4?" yields "2+3*4". Returns "" when the text holds no expression
// combining at least two operands or applying a function.
func ExtractExpression(lower string) string {
	s := strings.TrimSpace(lower)
	s = strings.TrimRight(s, "?!. ")
	s = wrapperPrefix.ReplaceAllString(s, "")
	s = dateOrTime.ReplaceAllString(s, " ")
	for _, op := range wordOps {
		s = op.pattern.ReplaceAllString(s, op.repl)
	}
	s = replaceUntilStable(thousands, s, "$1$2")
	s = replaceUntilStable(timesX, s, "$1*$2")
	s = sqrtBare.ReplaceAllString(s, "sqrt($1)")

	for _, run := range exprRun.FindAllString(s, -1) {
		expr := tidyExpression(run)
		if expr == "" || !strings.ContainsAny(expr, "0123456789") || !hasOperator.MatchString(expr) {
			continue
		}
		return expr
	}
	return ""
}

func replaceUntilStable(p *regexp.Regexp, s, repl string) string {
	for {
		next := p.ReplaceAllString(s, repl)
		if next == s {
			return s
		}
		s = next
	}
}

// tidyExpression removes whitespace, dangling operators and unbalanced
// outer parentheses from a candidate run.
func tidyExpression(run string) string {
	s := strings.Join(strings.Fields(run), "")
	for {
		before := s
		s = strings.TrimRight(s, "+-*/%^.(")
		s = strings.TrimLeft(s, "+*/%^)")
		opens, closes := strings.Count(s, "("), strings.Count(s, ")")
		if closes > opens && strings.HasSuffix(s, ")") {
			s = s[:len(s)-1]
		}
		if opens > closes && strings.HasPrefix(s, "(") {
			s = s[1:]
		}
		if s == before {
			return s
		}
	}
}

// ---- city ----

var (
	cityPreposition = re(`\b(?:in|for|at|of|near)\s+(\p{Lu}[\p{L}'-]*(?:\s+\p{Lu}[\p{L}'-]*)*)`)
	wordAfterIn     = re(`\bin\s+([\p{L}'-]+)`)
)

var notCities = map[string]bool{
	"i": true, "monday": true, "tuesday": true, "wednesday": true, "thursday": true,
	"friday": true, "saturday": true, "sunday": true, "january": true, "february": true,
	"march": true, "april": true, "may": true, "june": true, "july": true, "august": true,
	"september": true, "october": true, "november": true, "december": true,
	"celsius": true, "fahrenheit": true, "today": true, "tomorrow": true, "tonight": true,
	"the": true, "a": true, "an": true, "my": true, "our": true, "this": true, "that": true,
	"general": true, "here": true, "degrees": true, "total": true, "detail": true,
}

// ExtractCity finds the place a weather question is about: a capitalized
// prepositional phrase ("weather in New York") first, then any gazetteer
// city in the text, then the word following "in". Returns "" when none
// applies.
func ExtractCity(original string) string {
	for _, m := range cityPreposition.FindAllStringSubmatch(original, -1) {
		words := strings.Fields(m[1])
		for len(words) > 0 && notCities[strings.ToLower(words[len(words)-1])] {
			words = words[:len(words)-1]
		}
		if len(words) > 0 && !notCities[strings.ToLower(words[0])] {
			return strings.Join(words, " ")
		}
	}
	lower := strings.ToLower(original)
	if city := gazetteerLookup(lower); city != "" {
		return city
	}
	for _, m := range wordAfterIn.FindAllStringSubmatch(lower, -1) {
		if !notCities[m[1]] {
			return titleCase(m[1])
		}
	}
	return ""
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

// ---- transcript keyword and filename ----

const (
	quoteOpen  = `['"“‘]`
	quoteClose = `['"”’]`
	word       = `[\p{L}\d](?:[\p{L}\d'-]*[\p{L}\d])?`
	capWord    = `\p{Lu}(?:[\p{L}\d'-]*[\p{L}\d])?`
	// kwBare is one word of any case, or several capitalized words.
	kwBare = word + `(?:\s+` + capWord + `)*`
	file   = `[\w-]+(?:\.[\w-]+)*\.(?i:json|txt)`
	inFile = `\s+(?i:in|from|within)\s+(?:(?i:the)\s+)?(?:(?i:transcript|file|recording)\s+)?` + quoteOpen + `?(` + file + `)` + quoteClose + `?`
	kw     = quoteOpen + `?(` + kwBare + `)` + quoteClose + `?`
	kwCap  = `(?:` + quoteOpen + `([^'"“”‘’]+)` + quoteClose + `|(` + capWord + `(?:\s+` + capWord + `)*))`
	verbs  = `(?i:(?:is\s+|was\s+|gets\s+|got\s+)?(?:mentioned|appears?|occurs?|comes\s+up|came\s+up|is\s+said|was\s+said|shows?\s+up))`
)

// keywordPattern yields a keyword and possibly a filename. kwGroups and
// fileGroup index submatches; fileGroup 0 means no filename.
type keywordPattern struct {
	re        *regexp.Regexp
	kwGroups  []int
	fileGroup int
}

// keywordPatterns are tried in order; the first match wins. Patterns
// binding a keyword to an explicit filename come first so the filename is
// never mistaken for the keyword.
var keywordPatterns = []keywordPattern{
	// "the word Anna appears in f.json"
	{re(`(?i:\bword)\s+` + kw + `\s+` + verbs + inFile), []int{1}, 2},
	// "'Anna' is mentioned in the transcript 'f.json'"
	{re(quoteOpen + `([^'"“”‘’]+)` + quoteClose + `\s+` + verbs + inFile), []int{1}, 2},
	// "where Anna is mentioned in f.json"
	{re(`(?i:\bwhere)\s+(?:(?i:the)\s+)?` + kw + `\s+` + verbs + inFile), []int{1}, 2},
	// "search for Anna in f.json", "mentions of Anna in f.json"
	{re(`(?i:\b(?:for|of|about|mentioning))\s+(?:(?i:(?:the\s+)?(?:word|name|term))\s+)?` + kw + inFile), []int{1}, 2},
	// "search f.json for Anna"
	{re(quoteOpen + `?(` + file + `)` + quoteClose + `?\s+(?i:for|mentioning|about)\s+` + kw), []int{2}, 1},
	// "the word Anna appears"
	{re(`(?i:\bword)\s+` + kw + `\s+` + verbs), []int{1}, 0},
	// "where Anna is mentioned"
	{re(`(?i:\bwhere)\s+(?:(?i:the)\s+)?` + kw + `\s+` + verbs), []int{1}, 0},
	// "is Anna mentioned", "was the budget discussed"
	{re(`(?i:\b(?:is|was|were|has|have))\s+(?:(?i:the)\s+)?` + kw + `\s+(?i:(?:been\s+)?(?:mentioned|brought\s+up|discussed|talked\s+about|said))`), []int{1}, 0},
	// "mentions of Anna", "talked about Anna"
	{re(`(?i:\b(?:mentions?\s+of|mentioning|mention|about|regarding|concerning))\s+` + kwCap), []int{1, 2}, 0},
	// any quoted string
	{re(`(?:^|[\s(:])` + quoteOpen + `([^'"“”‘’]+)` + quoteClose), []int{1}, 0},
}

var notKeywords = map[string]bool{
	"it": true, "this": true, "that": true, "he": true, "she": true, "they": true,
	"there": true, "anything": true, "something": true, "anyone": true, "someone": true,
	"what": true, "who": true, "i": true, "we": true, "you": true,
}

var filenamePattern = re(`(?:^|[\s'"“‘(:])(` + file + `)\b`)

// ExtractKeyword finds the keyword of a transcript question, and the
// filename when the matching phrasing names one.
func ExtractKeyword(original string) (keyword, filename string) {
	for _, p := range keywordPatterns {
		for _, m := range p.re.FindAllStringSubmatch(original, -1) {
			k := ""
			for _, g := range p.kwGroups {
				if m[g] != "" {
					k = strings.TrimSpace(m[g])
					break
				}
			}
			if k == "" || isFilename(k) || notKeywords[strings.ToLower(k)] {
				continue
			}
			if p.fileGroup > 0 {
				return k, m[p.fileGroup]
			}
			return k, ""
		}
	}
	return "", ""
}

// ExtractFilename returns the first transcript filename (*.json, *.txt) in
// the text.
func ExtractFilename(original string) string {
	if m := filenamePattern.FindStringSubmatch(original); m != nil {
		return m[1]
	}
	return ""
}

func isFilename(s string) bool {
	l := strings.ToLower(s)
	return strings.HasSuffix(l, ".json") || strings.HasSuffix(l, ".txt")
}
