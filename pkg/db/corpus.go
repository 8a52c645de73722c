package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/civisearch/civisearch/pkg/core"
)

// Corpus writes and reads the indexed documents. Every write keeps the main
// table and its FTS index in step inside a single transaction.
type Corpus struct {
	db *sql.DB
}

func NewCorpus(db *sql.DB) *Corpus {
	return &Corpus{db: db}
}

func (c *Corpus) DB() *sql.DB {
	return c.db
}

func ts(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// StoreForms inserts forms and their FTS rows in one transaction.
func (c *Corpus) StoreForms(forms []core.Form) error {
	if len(forms) == 0 {
		return nil
	}
	return c.inTx(func(tx *sql.Tx) error {
		stmt, err := tx.Prepare("INSERT OR REPLACE INTO forms (id, name, created_at) VALUES (?, ?, ?)")
		if err != nil {
			return fmt.Errorf("preparing statement: %w", err)
		}
		defer closeStmt(stmt)

		ftsStmt, err := tx.Prepare("INSERT OR REPLACE INTO form_fts (rowid, name) VALUES (?, ?)")
		if err != nil {
			return fmt.Errorf("preparing FTS statement: %w", err)
		}
		defer closeStmt(ftsStmt)

		for _, f := range forms {
			if _, err := stmt.Exec(f.ID, f.Name, ts(f.CreatedAt)); err != nil {
				return fmt.Errorf("inserting form %d: %w", f.ID, err)
			}
			if _, err := ftsStmt.Exec(f.ID, f.Name); err != nil {
				return fmt.Errorf("inserting form %d into FTS: %w", f.ID, err)
			}
		}
		return nil
	})
}

// StoreQuestions inserts questions and their FTS rows in one transaction.
func (c *Corpus) StoreQuestions(questions []core.Question) error {
	if len(questions) == 0 {
		return nil
	}
	return c.inTx(func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT OR REPLACE INTO questions (id, form_id, question_code, prompt, qtype, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("preparing statement: %w", err)
		}
		defer closeStmt(stmt)

		ftsStmt, err := tx.Prepare("INSERT OR REPLACE INTO question_fts (rowid, prompt) VALUES (?, ?)")
		if err != nil {
			return fmt.Errorf("preparing FTS statement: %w", err)
		}
		defer closeStmt(ftsStmt)

		for _, q := range questions {
			qtype := q.Type
			if qtype == "" {
				qtype = "free_text"
			}
			if _, err := stmt.Exec(q.ID, q.FormID, q.QuestionCode, q.Prompt, qtype, ts(q.CreatedAt)); err != nil {
				return fmt.Errorf("inserting question %d: %w", q.ID, err)
			}
			if _, err := ftsStmt.Exec(q.ID, q.Prompt); err != nil {
				return fmt.Errorf("inserting question %d into FTS: %w", q.ID, err)
			}
		}
		return nil
	})
}

// StoreAnswers inserts answers and their FTS rows in one transaction.
func (c *Corpus) StoreAnswers(answers []core.Answer) error {
	if len(answers) == 0 {
		return nil
	}
	return c.inTx(func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`
			INSERT OR REPLACE INTO answers (id, question_id, body, submitted_at)
			VALUES (?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("preparing statement: %w", err)
		}
		defer closeStmt(stmt)

		ftsStmt, err := tx.Prepare("INSERT OR REPLACE INTO answer_fts (rowid, body) VALUES (?, ?)")
		if err != nil {
			return fmt.Errorf("preparing FTS statement: %w", err)
		}
		defer closeStmt(ftsStmt)

		for _, a := range answers {
			if _, err := stmt.Exec(a.ID, a.QuestionID, a.Body, ts(a.SubmittedAt)); err != nil {
				return fmt.Errorf("inserting answer %d: %w", a.ID, err)
			}
			if _, err := ftsStmt.Exec(a.ID, a.Body); err != nil {
				return fmt.Errorf("inserting answer %d into FTS: %w", a.ID, err)
			}
		}
		return nil
	})
}

// SectionCount returns the number of documents in a section.
func (c *Corpus) SectionCount(section core.Section) (int, error) {
	var table string
	switch section {
	case core.SectionForms:
		table = "forms"
	case core.SectionQuestions:
		table = "questions"
	case core.SectionAnswers:
		table = "answers"
	default:
		return 0, fmt.Errorf("unknown section %q", section)
	}

	var n int
	if err := c.db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting %s: %w", table, err)
	}
	return n, nil
}

func (c *Corpus) inTx(fn func(*sql.Tx) error) error {
	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			if err := tx.Rollback(); err != nil {
				logger.Warnf("failed to rollback transaction: %v", err)
			}
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

func closeStmt(stmt *sql.Stmt) {
	if err := stmt.Close(); err != nil {
		logger.Warnf("failed to close statement: %v", err)
	}
}
