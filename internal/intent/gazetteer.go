package intent

import (
	"regexp"
	"slices"
	"strings"
)

// gazetteer is the static city list used when an utterance names a city
// without the capitalization the prepositional extractor relies on.
var gazetteer = []string{
	"Amsterdam", "Athens", "Atlanta", "Auckland", "Austin", "Bangkok", "Barcelona",
	"Beijing", "Berlin", "Bogota", "Boston", "Brussels", "Budapest", "Buenos Aires",
	"Cairo", "Cape Town", "Chicago", "Copenhagen", "Dallas", "Delhi", "Denver",
	"Dubai", "Dublin", "Edinburgh", "Frankfurt", "Geneva", "Hamburg", "Helsinki",
	"Hong Kong", "Houston", "Istanbul", "Jakarta", "Johannesburg", "Kyiv", "Lagos",
	"Las Vegas", "Lima", "Lisbon", "London", "Los Angeles", "Madrid", "Manchester",
	"Melbourne", "Mexico City", "Miami", "Milan", "Montreal", "Moscow", "Mumbai",
	"Munich", "Nairobi", "New Delhi", "New Orleans", "New York", "Osaka", "Oslo",
	"Paris", "Philadelphia", "Prague", "Reykjavik", "Rio de Janeiro", "Rome",
	"San Diego", "San Francisco", "Santiago", "Sao Paulo", "Seattle", "Seoul",
	"Shanghai", "Singapore", "Stockholm", "Sydney", "Taipei", "Tel Aviv", "The Hague",
	"Tokyo", "Toronto", "Vancouver", "Vienna", "Warsaw", "Washington", "Zurich",
}

type gazetteerEntry struct {
	name    string
	pattern *regexp.Regexp
}

// gazetteerIndex holds the entries longest name first, so "New York"
// wins over "York" and "New Delhi" over "Delhi".
var gazetteerIndex = func() []gazetteerEntry {
	names := slices.Clone(gazetteer)
	slices.SortStableFunc(names, func(a, b string) int { return len(b) - len(a) })
	out := make([]gazetteerEntry, len(names))
	for i, n := range names {
		out[i] = gazetteerEntry{name: n, pattern: regexp.MustCompile(`\b` + regexp.QuoteMeta(strings.ToLower(n)) + `\b`)}
	}
	return out
}()

func gazetteerLookup(lower string) string {
	for _, e := range gazetteerIndex {
		if e.pattern.MatchString(lower) {
			return e.name
		}
	}
	return ""
}
