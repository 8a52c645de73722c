package db

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/civisearch/civisearch/pkg/core"
)

func newTestDB(t *testing.T) *Corpus {
	t.Helper()

	conn, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
	})

	if err := InitializeDatabase(conn); err != nil {
		t.Fatalf("applying migrations: %v", err)
	}

	return NewCorpus(conn)
}

func TestMigrationsApplyCleanly(t *testing.T) {
	corpus := newTestDB(t)

	manager := NewMigrationManager(corpus.DB())
	status, err := manager.GetMigrationStatus()
	if err != nil {
		t.Fatalf("GetMigrationStatus: %v", err)
	}
	if len(status.Pending) != 0 {
		t.Errorf("pending migrations after initialize: %d", len(status.Pending))
	}
	if len(status.Applied) != len(status.Available) {
		t.Errorf("applied %d of %d migrations", len(status.Applied), len(status.Available))
	}

	// Applying again must be a no-op.
	if err := manager.ApplyPendingMigrations(); err != nil {
		t.Fatalf("re-applying migrations: %v", err)
	}
}

func TestEmbeddedMigrationsOrdered(t *testing.T) {
	migrations, err := GetEmbeddedMigrations()
	if err != nil {
		t.Fatalf("GetEmbeddedMigrations: %v", err)
	}
	if len(migrations) < 2 {
		t.Fatalf("expected at least 2 migrations, got %d", len(migrations))
	}
	for i := 1; i < len(migrations); i++ {
		if migrations[i].Version <= migrations[i-1].Version {
			t.Errorf("migrations out of order at %d", i)
		}
	}
}

func TestCorpusStoreAndCount(t *testing.T) {
	corpus := newTestDB(t)
	now := time.Now().UTC()

	if err := corpus.StoreForms([]core.Form{{ID: 1, Name: "Budget participatif", CreatedAt: now}}); err != nil {
		t.Fatalf("StoreForms: %v", err)
	}
	if err := corpus.StoreQuestions([]core.Question{
		{ID: 1, FormID: 1, QuestionCode: "Q1", Prompt: "Quelle priorité ?", CreatedAt: now},
	}); err != nil {
		t.Fatalf("StoreQuestions: %v", err)
	}
	if err := corpus.StoreAnswers([]core.Answer{
		{ID: 1, QuestionID: 1, Body: "Rénover les écoles du quartier", SubmittedAt: now},
	}); err != nil {
		t.Fatalf("StoreAnswers: %v", err)
	}

	for section, want := range map[core.Section]int{
		core.SectionForms:     1,
		core.SectionQuestions: 1,
		core.SectionAnswers:   1,
	} {
		got, err := corpus.SectionCount(section)
		if err != nil {
			t.Fatalf("SectionCount(%s): %v", section, err)
		}
		if got != want {
			t.Errorf("SectionCount(%s) = %d, want %d", section, got, want)
		}
	}
}

func TestCorpusFTSDiacriticFolding(t *testing.T) {
	corpus := newTestDB(t)
	now := time.Now().UTC()

	if err := corpus.StoreForms([]core.Form{{ID: 1, Name: "Éducation", CreatedAt: now}}); err != nil {
		t.Fatalf("StoreForms: %v", err)
	}
	if err := corpus.StoreQuestions([]core.Question{
		{ID: 1, FormID: 1, QuestionCode: "Q1", Prompt: "Que pensez-vous de l'école élémentaire ?", CreatedAt: now},
	}); err != nil {
		t.Fatalf("StoreQuestions: %v", err)
	}

	var n int
	err := corpus.DB().QueryRow(`SELECT COUNT(*) FROM question_fts WHERE question_fts MATCH 'ecole'`).Scan(&n)
	if err != nil {
		t.Fatalf("querying FTS: %v", err)
	}
	if n != 1 {
		t.Errorf("accent-stripped query matched %d rows, want 1", n)
	}
}

func TestCorpusStoreReplaces(t *testing.T) {
	corpus := newTestDB(t)
	now := time.Now().UTC()

	for _, name := range []string{"Premier nom", "Nom corrigé"} {
		if err := corpus.StoreForms([]core.Form{{ID: 1, Name: name, CreatedAt: now}}); err != nil {
			t.Fatalf("StoreForms(%s): %v", name, err)
		}
	}

	n, err := corpus.SectionCount(core.SectionForms)
	if err != nil {
		t.Fatalf("SectionCount: %v", err)
	}
	if n != 1 {
		t.Errorf("count = %d, want 1 (upsert)", n)
	}

	var name string
	if err := corpus.DB().QueryRow("SELECT name FROM forms WHERE id = 1").Scan(&name); err != nil {
		t.Fatal(err)
	}
	if name != "Nom corrigé" {
		t.Errorf("name = %q", name)
	}
}
