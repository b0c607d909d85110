package orchestrator

import (
	"sort"
	"strings"
)

// stopwords removed when building the condensed query variant.
// Portuguese, English and Spanish are covered since session text mixes
// all three.
var stopwords = map[string]struct{}{}

func init() {
	for _, w := range []string{
		// pt
		"o", "a", "os", "as", "um", "uma", "de", "do", "da", "dos", "das",
		"em", "no", "na", "nos", "nas", "por", "para", "com", "sem", "que",
		"e", "ou", "mas", "se", "como", "qual", "quais", "sobre",
		// en
		"the", "a", "an", "of", "in", "on", "at", "to", "for", "with",
		"without", "and", "or", "but", "is", "are", "was", "were", "what",
		"which", "how", "about",
		// es
		"el", "la", "los", "las", "un", "una", "del", "en", "por", "para",
		"con", "sin", "y", "o", "pero", "como", "cual", "sobre", "que",
	} {
		stopwords[w] = struct{}{}
	}
}

// synonyms maps query words to substitute words tried as variants.
var synonyms = map[string][]string{
	"pesquisa":  {"estudo", "investigação"},
	"resultado": {"achado", "descoberta"},
	"acadêmico": {"científico", "universitário"},
	"research":  {"study", "investigation"},
	"result":    {"finding", "discovery"},
	"academic":  {"scientific", "scholarly"},
}

// ExpandQuery produces search variants of query: the original, a
// stopword-stripped form, and synonym substitutions, deduplicated and
// sorted.
func ExpandQuery(query string) []string {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}

	variants := map[string]struct{}{query: {}}

	fields := strings.Fields(query)
	var kept []string
	for _, f := range fields {
		if _, stop := stopwords[strings.ToLower(f)]; !stop {
			kept = append(kept, f)
		}
	}
	if len(kept) > 0 && len(kept) < len(fields) {
		variants[strings.Join(kept, " ")] = struct{}{}
	}

	for i, f := range fields {
		subs, ok := synonyms[strings.ToLower(f)]
		if !ok {
			continue
		}
		for _, sub := range subs {
			replaced := make([]string, len(fields))
			copy(replaced, fields)
			replaced[i] = sub
			variants[strings.Join(replaced, " ")] = struct{}{}
		}
	}

	out := make([]string, 0, len(variants))
	for v := range variants {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
