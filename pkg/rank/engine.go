// Package rank executes ranked full-text search against the corpus FTS5
// indexes. The primary pass scores exact/prefix/synonym matches with bm25;
// when it yields too few matches a trigram pass nominates similarly spelled
// vocabulary terms, which are folded back into the same bm25-scored query so
// trigram similarity never decides the final order.
package rank

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/civisearch/civisearch/pkg/core"
	"github.com/civisearch/civisearch/pkg/cursor"
	"github.com/civisearch/civisearch/pkg/log"
	"github.com/civisearch/civisearch/pkg/normalize"
)

// Options bound the fallback pass. Zero values fall back to the defaults
// used in config.
type Options struct {
	// MinResults is the number of primary-pass matches below which the
	// trigram fallback runs.
	MinResults int

	// TrigramThreshold is the minimum Jaccard similarity for a vocabulary
	// term to be nominated.
	TrigramThreshold float64

	// TrigramCandidateCap bounds nominated terms per query term.
	TrigramCandidateCap int

	// TrigramScanBudget bounds vocabulary rows examined per ranking pass.
	TrigramScanBudget int
}

func (o *Options) applyDefaults() {
	if o.MinResults == 0 {
		o.MinResults = 5
	}
	if o.TrigramThreshold == 0 {
		o.TrigramThreshold = 0.4
	}
	if o.TrigramCandidateCap == 0 {
		o.TrigramCandidateCap = 8
	}
	if o.TrigramScanBudget == 0 {
		o.TrigramScanBudget = 50000
	}
}

// Result is one ranking pass over a section. Each call is a fresh pass;
// resuming means re-querying with a cursor position, not reusing a Result.
type Result struct {
	Hits    []core.RankedHit
	HasMore bool
	Mode    cursor.Mode

	// Truncated reports that the trigram fallback ran out of scan budget
	// and the candidate set (and therefore the page) may be incomplete.
	Truncated bool
}

// Engine runs ranking passes against one database.
type Engine struct {
	db     *sql.DB
	opts   Options
	logger *log.Logger
}

func NewEngine(db *sql.DB, opts Options) *Engine {
	opts.applyDefaults()
	return &Engine{
		db:     db,
		opts:   opts,
		logger: log.ForService("rank"),
	}
}

// sectionSpec carries the per-section SQL shapes.
type sectionSpec struct {
	fts    string
	vocab  string
	ranked string // CTE query; fragments appended for filters and cursor
	recent string
	count  string
}

var sections = map[core.Section]sectionSpec{
	core.SectionForms: {
		fts:   "form_fts",
		vocab: "form_fts_vocab",
		ranked: `
			WITH ranked AS (
				SELECT form_fts.rowid AS id,
				       ROUND(-bm25(form_fts), 6) AS score,
				       snippet(form_fts, 0, '<mark>', '</mark>', '…', 12) AS snip
				FROM form_fts
				WHERE form_fts MATCH ?
			)
			SELECT r.id, f.name, f.created_at, r.score, r.snip
			FROM ranked r
			JOIN forms f ON f.id = r.id
			WHERE 1=1`,
		count: `
			SELECT COUNT(*)
			FROM form_fts
			JOIN forms f ON f.id = form_fts.rowid
			WHERE form_fts MATCH ?`,
		recent: `
			SELECT f.id, f.name, f.created_at, 0.0, NULL
			FROM forms f
			WHERE 1=1`,
	},
	core.SectionQuestions: {
		fts:   "question_fts",
		vocab: "question_fts_vocab",
		ranked: `
			WITH ranked AS (
				SELECT question_fts.rowid AS id,
				       ROUND(-bm25(question_fts), 6) AS score,
				       snippet(question_fts, 0, '<mark>', '</mark>', '…', 12) AS snip
				FROM question_fts
				WHERE question_fts MATCH ?
			)
			SELECT r.id, q.prompt, q.created_at, r.score, r.snip
			FROM ranked r
			JOIN questions q ON q.id = r.id
			WHERE 1=1`,
		count: `
			SELECT COUNT(*)
			FROM question_fts
			JOIN questions q ON q.id = question_fts.rowid
			WHERE question_fts MATCH ?`,
		recent: `
			SELECT q.id, q.prompt, q.created_at, 0.0, NULL
			FROM questions q
			WHERE 1=1`,
	},
	core.SectionAnswers: {
		fts:   "answer_fts",
		vocab: "answer_fts_vocab",
		ranked: `
			WITH ranked AS (
				SELECT answer_fts.rowid AS id,
				       ROUND(-bm25(answer_fts), 6) AS score,
				       snippet(answer_fts, 0, '<mark>', '</mark>', '…', 12) AS snip
				FROM answer_fts
				WHERE answer_fts MATCH ?
			)
			SELECT r.id, q.prompt, a.submitted_at, r.score, r.snip
			FROM ranked r
			JOIN answers a ON a.id = r.id
			JOIN questions q ON q.id = a.question_id
			WHERE q.qtype NOT IN ('single_choice', 'multi_choice')`,
		count: `
			SELECT COUNT(*)
			FROM answer_fts
			JOIN answers a ON a.id = answer_fts.rowid
			JOIN questions q ON q.id = a.question_id
			WHERE q.qtype NOT IN ('single_choice', 'multi_choice')
			  AND answer_fts MATCH ?`,
		recent: `
			SELECT a.id, q.prompt, a.submitted_at, 0.0, NULL
			FROM answers a
			JOIN questions q ON q.id = a.question_id
			WHERE q.qtype NOT IN ('single_choice', 'multi_choice')
			  AND length(trim(a.body)) >= 40`,
	},
}

// Rank runs a fresh ranking pass: normalized query against section, at most
// pageSize hits, resuming after pos when non-nil.
func (e *Engine) Rank(ctx context.Context, q normalize.Query, section core.Section, pageSize int, pos *cursor.Position) (*Result, error) {
	spec, ok := sections[section]
	if !ok {
		return nil, fmt.Errorf("unknown section %q", section)
	}
	if pageSize <= 0 {
		pageSize = 20
	}

	if q.Empty() {
		return e.recent(ctx, spec, section, q, pageSize, pos)
	}
	return e.ranked(ctx, spec, section, q, pageSize, pos)
}

func (e *Engine) ranked(ctx context.Context, spec sectionSpec, section core.Section, q normalize.Query, pageSize int, pos *cursor.Position) (*Result, error) {
	expr := q.MatchExpr()

	matches, err := e.countMatches(ctx, spec, q, expr)
	if err != nil {
		return nil, err
	}

	truncated := false
	if matches < e.opts.MinResults {
		corrections, trunc, err := e.nominate(ctx, spec, q)
		if err != nil {
			return nil, err
		}
		truncated = trunc
		if len(corrections) > 0 {
			expr = q.MatchExprWith(corrections)
			e.logger.Debugf("fallback expr for %q: %s", q.Text, expr)
		}
	}

	sqlQuery := spec.ranked
	args := []interface{}{expr}

	sqlQuery, args = appendFilters(sqlQuery, args, section, q.Filters)

	if pos != nil {
		sqlQuery += " AND (r.score < ? OR (r.score = ? AND r.id > ?))"
		args = append(args, pos.Score, pos.Score, pos.ID)
	}

	sqlQuery += " ORDER BY r.score DESC, r.id ASC LIMIT ?"
	args = append(args, pageSize+1)

	hits, err := e.scanHits(ctx, section, sqlQuery, args)
	if err != nil {
		return nil, err
	}

	hasMore := len(hits) > pageSize
	if hasMore {
		hits = hits[:pageSize]
	}

	return &Result{Hits: hits, HasMore: hasMore, Mode: cursor.ModeRank, Truncated: truncated}, nil
}

// recent serves the empty-query timeline: relevance is undefined, so pages
// are ordered by id descending (newest first) with an id keyset.
func (e *Engine) recent(ctx context.Context, spec sectionSpec, section core.Section, q normalize.Query, pageSize int, pos *cursor.Position) (*Result, error) {
	sqlQuery := spec.recent
	var args []interface{}

	sqlQuery, args = appendFilters(sqlQuery, args, section, q.Filters)

	if pos != nil {
		switch section {
		case core.SectionForms:
			sqlQuery += " AND f.id < ?"
		case core.SectionQuestions:
			sqlQuery += " AND q.id < ?"
		case core.SectionAnswers:
			sqlQuery += " AND a.id < ?"
		}
		args = append(args, pos.ID)
	}

	switch section {
	case core.SectionForms:
		sqlQuery += " ORDER BY f.id DESC LIMIT ?"
	case core.SectionQuestions:
		sqlQuery += " ORDER BY q.id DESC LIMIT ?"
	case core.SectionAnswers:
		sqlQuery += " ORDER BY a.id DESC LIMIT ?"
	}
	args = append(args, pageSize+1)

	hits, err := e.scanHits(ctx, section, sqlQuery, args)
	if err != nil {
		return nil, err
	}

	hasMore := len(hits) > pageSize
	if hasMore {
		hits = hits[:pageSize]
	}

	return &Result{Hits: hits, HasMore: hasMore, Mode: cursor.ModeRecent}, nil
}

func (e *Engine) countMatches(ctx context.Context, spec sectionSpec, q normalize.Query, expr string) (int, error) {
	sqlQuery := spec.count
	args := []interface{}{expr}

	for _, f := range q.Filters {
		if f.Name != "form_id" {
			continue
		}
		switch spec.fts {
		case "form_fts":
			sqlQuery += " AND f.id = ?"
		case "question_fts":
			sqlQuery += " AND q.form_id = ?"
		case "answer_fts":
			sqlQuery += " AND q.form_id = ?"
		}
		args = append(args, f.Value)
	}

	var n int
	if err := e.db.QueryRowContext(ctx, sqlQuery, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting matches: %w", err)
	}
	return n, nil
}

// nominate scans the section vocabulary for terms similar to each query
// term. The scan is bounded: exhausting the budget truncates the candidate
// set instead of failing the request.
func (e *Engine) nominate(ctx context.Context, spec sectionSpec, q normalize.Query) (map[string][]string, bool, error) {
	budget := e.opts.TrigramScanBudget
	truncated := false
	corrections := make(map[string][]string)

	for _, term := range q.Terms {
		if len([]rune(term.Text)) < 3 || budget <= 0 {
			if budget <= 0 {
				truncated = true
			}
			continue
		}

		known := map[string]bool{term.Text: true}
		for _, syn := range term.Synonyms {
			known[syn] = true
		}

		want := trigramSet(term.Text)
		termLen := len([]rune(term.Text))

		rows, err := e.db.QueryContext(ctx, fmt.Sprintf(`
			SELECT term FROM %s
			WHERE length(term) BETWEEN ? AND ?
			ORDER BY term
			LIMIT ?
		`, spec.vocab), termLen-2, termLen+2, budget+1)
		if err != nil {
			return nil, false, fmt.Errorf("scanning vocabulary: %w", err)
		}

		var cands []candidate
		scanned := 0
		for rows.Next() {
			if scanned >= budget {
				truncated = true
				break
			}
			scanned++

			var vocabTerm string
			if err := rows.Scan(&vocabTerm); err != nil {
				_ = rows.Close()
				return nil, false, fmt.Errorf("scanning vocabulary row: %w", err)
			}
			if known[vocabTerm] {
				continue
			}
			if sim := trigramSimilarity(want, trigramSet(vocabTerm)); sim >= e.opts.TrigramThreshold {
				cands = append(cands, candidate{term: vocabTerm, similarity: sim})
			}
		}
		rowsErr := rows.Err()
		if err := rows.Close(); err != nil {
			e.logger.Warnf("failed to close vocabulary rows: %v", err)
		}
		if rowsErr != nil {
			return nil, false, fmt.Errorf("scanning vocabulary: %w", rowsErr)
		}

		budget -= scanned
		if top := topCandidates(cands, e.opts.TrigramCandidateCap); len(top) > 0 {
			corrections[term.Text] = top
		}
	}

	return corrections, truncated, nil
}

func appendFilters(sqlQuery string, args []interface{}, section core.Section, filters []normalize.Filter) (string, []interface{}) {
	for _, f := range filters {
		if f.Name != "form_id" {
			continue
		}
		switch section {
		case core.SectionForms:
			sqlQuery += " AND f.id = ?"
		case core.SectionQuestions:
			sqlQuery += " AND q.form_id = ?"
		case core.SectionAnswers:
			sqlQuery += " AND q.form_id = ?"
		}
		args = append(args, f.Value)
	}
	return sqlQuery, args
}

func (e *Engine) scanHits(ctx context.Context, section core.Section, sqlQuery string, args []interface{}) ([]core.RankedHit, error) {
	rows, err := e.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", section, err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			e.logger.Warnf("failed to close rows: %v", err)
		}
	}()

	var hits []core.RankedHit
	for rows.Next() {
		var id int64
		var title, timestamp string
		var score float64
		var snip sql.NullString

		if err := rows.Scan(&id, &title, &timestamp, &score, &snip); err != nil {
			return nil, fmt.Errorf("scanning hit: %w", err)
		}

		hit := core.RankedHit{
			ID:      id,
			Section: section,
			Score:   score,
			Title:   title,
		}
		if snip.Valid {
			hit.Snippet = snip.String
		}
		if ts, err := time.Parse(time.RFC3339, timestamp); err == nil {
			hit.SubmittedAt = ts.UTC()
		}
		hits = append(hits, hit)
	}

	return hits, rows.Err()
}
