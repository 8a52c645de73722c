package normalize

import (
	"testing"
)

func TestFold(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercase", "Transition", "transition"},
		{"diacritics stripped", "École Élémentaire", "ecole elementaire"},
		{"whitespace collapsed", "  deux   mots \t", "deux mots"},
		{"cedilla and ligature accents", "façade coûté", "facade coute"},
		{"empty", "   ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Fold(tt.in); got != tt.want {
				t.Errorf("Fold(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeDeterministicKey(t *testing.T) {
	n := New(1, nil)

	a := n.Normalize("École  Transition", map[string]string{"form_id": "3"})
	b := n.Normalize("ecole transition", map[string]string{"form_id": "3"})

	if a.Key() != b.Key() {
		t.Errorf("keys differ: %q vs %q", a.Key(), b.Key())
	}
	if a.Key() != "ecole transition|form_id=3" {
		t.Errorf("unexpected key %q", a.Key())
	}
}

func TestNormalizeFilterOrder(t *testing.T) {
	n := New(1, nil)

	q := n.Normalize("velo", map[string]string{"b": "2", "a": "1"})
	if q.Key() != "velo|a=1|b=2" {
		t.Errorf("filters not sorted in key: %q", q.Key())
	}
}

func TestNormalizeEmpty(t *testing.T) {
	n := New(1, nil)

	q := n.Normalize("   ", nil)
	if !q.Empty() {
		t.Error("expected empty query")
	}
	if q.MatchExpr() != "" {
		t.Errorf("empty query should render empty expr, got %q", q.MatchExpr())
	}
	// Empty is still a valid, stable key.
	if q.Key() != "" {
		t.Errorf("unexpected key %q", q.Key())
	}
}

func TestNormalizeSynonyms(t *testing.T) {
	n := New(1, map[string][]string{
		"école": {"scolaire", "éducation"},
	})

	q := n.Normalize("ECOLE", nil)
	if len(q.Terms) != 1 {
		t.Fatalf("expected 1 term, got %d", len(q.Terms))
	}
	syns := q.Terms[0].Synonyms
	if len(syns) != 2 || syns[0] != "education" || syns[1] != "scolaire" {
		t.Errorf("unexpected synonyms %v", syns)
	}

	expr := q.MatchExpr()
	want := `("ecole" OR "education" OR "scolaire")`
	if expr != want {
		t.Errorf("MatchExpr() = %q, want %q", expr, want)
	}
}

func TestNormalizePrefixMarker(t *testing.T) {
	n := New(1, nil)

	q := n.Normalize("transp* velo", nil)
	if !q.Terms[0].Prefix {
		t.Error("expected first term to be prefix")
	}
	if q.Terms[1].Prefix {
		t.Error("second term must not be prefix")
	}
	if q.Text != "transp* velo" {
		t.Errorf("canonical text %q", q.Text)
	}

	expr := q.MatchExpr()
	want := `"transp" * "velo"`
	if expr != want {
		t.Errorf("MatchExpr() = %q, want %q", expr, want)
	}
}

func TestMatchExprWithAlternatives(t *testing.T) {
	n := New(1, nil)
	q := n.Normalize("velio", nil)

	expr := q.MatchExprWith(map[string][]string{"velio": {"velo"}})
	want := `("velio" OR "velo")`
	if expr != want {
		t.Errorf("MatchExprWith() = %q, want %q", expr, want)
	}
}

func TestMatchExprQuotesEmbeddedQuotes(t *testing.T) {
	n := New(1, nil)
	q := n.Normalize(`l"eau`, nil)

	expr := q.MatchExpr()
	want := `"l""eau"`
	if expr != want {
		t.Errorf("MatchExpr() = %q, want %q", expr, want)
	}
}
