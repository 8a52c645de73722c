// Package normalize canonicalizes raw query strings into deterministic
// search keys: case folding, diacritic stripping, whitespace collapsing,
// synonym expansion and prefix-marker handling.
package normalize

import (
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// PrefixMarker ends a term that should match as a prefix ("eco*").
const PrefixMarker = "*"

// Term is one normalized query term with its expansion. Synonyms are OR-ed
// with the original term, never substituted for it.
type Term struct {
	Text     string
	Prefix   bool
	Synonyms []string
}

// Filter is a single name=value constraint. Filters are kept sorted by name
// so equal filter sets always serialize identically.
type Filter struct {
	Name  string
	Value string
}

// Query is the canonical form of a search. Immutable once constructed; two
// raw queries that normalize identically produce equal Keys.
type Query struct {
	Text    string
	Terms   []Term
	Filters []Filter
}

// Empty reports whether normalization left no searchable terms. An empty
// query is a valid key and matches the whole section.
func (q Query) Empty() bool {
	return len(q.Terms) == 0
}

// Key returns the deterministic cache-key component for this query.
func (q Query) Key() string {
	var b strings.Builder
	b.WriteString(q.Text)
	for _, f := range q.Filters {
		b.WriteByte('|')
		b.WriteString(f.Name)
		b.WriteByte('=')
		b.WriteString(f.Value)
	}
	return b.String()
}

// MatchExpr renders the query as an FTS5 MATCH expression: synonym groups are
// OR-ed, groups are AND-ed (FTS5 default), prefix terms get a trailing star.
// Returns "" for an empty query.
func (q Query) MatchExpr() string {
	return q.MatchExprWith(nil)
}

// MatchExprWith renders the query like MatchExpr, additionally OR-ing the
// given per-term alternatives into their term's group. The ranking engine
// uses this to fold trigram-nominated spelling candidates into the same
// scored expression.
func (q Query) MatchExprWith(alternatives map[string][]string) string {
	groups := make([]string, 0, len(q.Terms))
	for _, t := range q.Terms {
		alts := make([]string, 0, 1+len(t.Synonyms))
		alts = append(alts, renderTerm(t.Text, t.Prefix))
		for _, syn := range t.Synonyms {
			alts = append(alts, renderTerm(syn, t.Prefix))
		}
		for _, alt := range alternatives[t.Text] {
			alts = append(alts, renderTerm(alt, false))
		}
		if len(alts) == 1 {
			groups = append(groups, alts[0])
		} else {
			groups = append(groups, "("+strings.Join(alts, " OR ")+")")
		}
	}
	return strings.Join(groups, " ")
}

func renderTerm(term string, prefix bool) string {
	quoted := `"` + strings.ReplaceAll(term, `"`, `""`) + `"`
	if prefix {
		return quoted + " *"
	}
	return quoted
}

// Normalizer applies the normalization pipeline with a versioned synonym
// table. The table is read-only after construction.
type Normalizer struct {
	version  int
	synonyms map[string][]string
}

// New builds a Normalizer. Synonym keys and values are themselves folded
// through the same pipeline so table entries with accents still match.
func New(version int, synonyms map[string][]string) *Normalizer {
	folded := make(map[string][]string, len(synonyms))
	for term, syns := range synonyms {
		key := Fold(term)
		if key == "" {
			continue
		}
		seen := map[string]bool{key: true}
		var out []string
		for _, s := range syns {
			fs := Fold(s)
			if fs == "" || seen[fs] {
				continue
			}
			seen[fs] = true
			out = append(out, fs)
		}
		sort.Strings(out)
		folded[key] = out
	}
	return &Normalizer{version: version, synonyms: folded}
}

// Version returns the synonym-table version the Normalizer was built with.
func (n *Normalizer) Version() int {
	return n.version
}

// Normalize canonicalizes a raw query string and filter set.
func (n *Normalizer) Normalize(raw string, filters map[string]string) Query {
	folded := Fold(raw)

	var terms []Term
	var canonical []string
	for _, tok := range strings.Fields(folded) {
		prefix := strings.HasSuffix(tok, PrefixMarker)
		text := strings.TrimRight(tok, PrefixMarker)
		if text == "" {
			continue
		}
		terms = append(terms, Term{
			Text:     text,
			Prefix:   prefix,
			Synonyms: n.synonyms[text],
		})
		if prefix {
			canonical = append(canonical, text+PrefixMarker)
		} else {
			canonical = append(canonical, text)
		}
	}

	fs := make([]Filter, 0, len(filters))
	for name, value := range filters {
		if value == "" {
			continue
		}
		fs = append(fs, Filter{Name: name, Value: value})
	}
	sort.Slice(fs, func(i, j int) bool { return fs[i].Name < fs[j].Name })

	return Query{
		Text:    strings.Join(canonical, " "),
		Terms:   terms,
		Filters: fs,
	}
}

var foldChain = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Fold lowercases, strips diacritics and collapses internal whitespace.
func Fold(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if out, _, err := transform.String(foldChain, s); err == nil {
		s = out
	}
	return strings.Join(strings.Fields(s), " ")
}
