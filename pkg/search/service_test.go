package search

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/civisearch/civisearch/pkg/cache"
	"github.com/civisearch/civisearch/pkg/config"
	"github.com/civisearch/civisearch/pkg/core"
	"github.com/civisearch/civisearch/pkg/cursor"
	"github.com/civisearch/civisearch/pkg/db"
	"github.com/civisearch/civisearch/pkg/normalize"
	"github.com/civisearch/civisearch/pkg/popularity"
	"github.com/civisearch/civisearch/pkg/rank"
	"github.com/civisearch/civisearch/pkg/realtime"
	"github.com/civisearch/civisearch/pkg/version"
)

type testEnv struct {
	service *Service
	tracker *popularity.SQLTracker
	store   *cache.MemStore
	hub     *realtime.FirehoseHub
}

func newTestService(t *testing.T) *testEnv {
	t.Helper()

	conn, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
	})

	if err := db.InitializeDatabase(conn); err != nil {
		t.Fatalf("applying migrations: %v", err)
	}

	corpus := db.NewCorpus(conn)
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := corpus.StoreForms([]core.Form{
		{ID: 1, Name: "Transition écologique", CreatedAt: base},
	}); err != nil {
		t.Fatalf("storing forms: %v", err)
	}
	if err := corpus.StoreQuestions([]core.Question{
		{ID: 1, FormID: 1, QuestionCode: "Q1", Prompt: "Comment développer le vélo ?", Type: "free_text", CreatedAt: base},
	}); err != nil {
		t.Fatalf("storing questions: %v", err)
	}
	if err := corpus.StoreAnswers([]core.Answer{
		{ID: 1, QuestionID: 1, Body: "Il faut plus de pistes cyclables pour le vélo partout dans la ville", SubmittedAt: base.Add(time.Minute)},
		{ID: 2, QuestionID: 1, Body: "Le vélo est le meilleur moyen de transport pour la transition", SubmittedAt: base.Add(2 * time.Minute)},
		{ID: 3, QuestionID: 1, Body: "Les transports en commun doivent rester gratuits pour les jeunes", SubmittedAt: base.Add(3 * time.Minute)},
		{ID: 4, QuestionID: 1, Body: "Installer des parkings à vélo sécurisés près de chaque gare", SubmittedAt: base.Add(4 * time.Minute)},
	}); err != nil {
		t.Fatalf("storing answers: %v", err)
	}

	tracker := popularity.NewSQLTracker(conn)
	store := cache.NewMemStore()
	policy, err := cache.NewPolicy(config.DefaultTiers())
	if err != nil {
		t.Fatalf("NewPolicy: %v", err)
	}
	hub := realtime.NewFirehoseHub(8)

	service := NewService(ServiceOptions{
		Normalizer:      normalize.New(1, nil),
		Tracker:         tracker,
		Policy:          policy,
		Cache:           cache.New(store, time.Second),
		Engine:          rank.NewEngine(conn, rank.Options{MinResults: 1}),
		Codec:           cursor.NewCodec(version.RankingVersion),
		Hub:             hub,
		DefaultPageSize: 20,
		MaxPageSize:     100,
	})

	return &testEnv{service: service, tracker: tracker, store: store, hub: hub}
}

func TestSearchUnpopularQueryNotCached(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()
	req := Request{Query: "velo", Section: "answers"}

	// Below the first caching tier every request recomputes.
	for i := 0; i < 3; i++ {
		page, err := env.service.Search(ctx, req)
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		if page.Cached {
			t.Errorf("request %d served from cache below the popularity tier", i)
		}
	}

	if n, _ := env.store.Count(ctx); n != 0 {
		t.Errorf("cache holds %d entries, want 0", n)
	}
}

func TestSearchPopularQueryCached(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()
	req := Request{Query: "velo", Section: "answers"}

	// Requests 1-4 stay below the tier; request 5 reaches hit count 5 and
	// caches its page; request 6 is served from the cache.
	var pages []*Page
	for i := 0; i < 6; i++ {
		page, err := env.service.Search(ctx, req)
		if err != nil {
			t.Fatalf("request %d: %v", i, err)
		}
		pages = append(pages, page)
	}

	for i := 0; i < 5; i++ {
		if pages[i].Cached {
			t.Errorf("request %d should not be a cache hit", i)
		}
	}
	if !pages[5].Cached {
		t.Error("request 6 should be served from cache")
	}

	// Cached and computed renditions must be byte-for-byte equivalent.
	fresh, cached := pages[4], pages[5]
	if len(fresh.Hits) != len(cached.Hits) {
		t.Fatalf("hit counts differ: %d vs %d", len(fresh.Hits), len(cached.Hits))
	}
	for i := range fresh.Hits {
		if fresh.Hits[i] != cached.Hits[i] {
			t.Errorf("hit %d differs: %+v vs %+v", i, fresh.Hits[i], cached.Hits[i])
		}
	}
	if fresh.NextCursor != cached.NextCursor {
		t.Errorf("cursors differ: %q vs %q", fresh.NextCursor, cached.NextCursor)
	}
}

func TestSearchPaginationRoundTrip(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()

	first, err := env.service.Search(ctx, Request{Query: "velo", Section: "answers", PageSize: 2})
	if err != nil {
		t.Fatalf("first page: %v", err)
	}
	if len(first.Hits) != 2 {
		t.Fatalf("first page hits = %d, want 2", len(first.Hits))
	}
	if first.NextCursor == "" {
		t.Fatal("expected a continuation cursor")
	}

	second, err := env.service.Search(ctx, Request{Query: "velo", Section: "answers", PageSize: 2, Cursor: first.NextCursor})
	if err != nil {
		t.Fatalf("second page: %v", err)
	}

	seen := make(map[int64]bool)
	for _, h := range first.Hits {
		seen[h.ID] = true
	}
	for _, h := range second.Hits {
		if seen[h.ID] {
			t.Errorf("id %d appeared on both pages", h.ID)
		}
	}
}

func TestSearchEmptyQueryTimeline(t *testing.T) {
	env := newTestService(t)

	page, err := env.service.Search(context.Background(), Request{Section: "answers", PageSize: 2})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(page.Hits) != 2 {
		t.Fatalf("hits = %d, want 2", len(page.Hits))
	}
	// Timeline pages are newest first.
	if page.Hits[0].ID <= page.Hits[1].ID {
		t.Errorf("timeline not ordered by id descending: %d, %d", page.Hits[0].ID, page.Hits[1].ID)
	}
	if page.NextCursor == "" {
		t.Error("expected a continuation cursor")
	}
}

func TestSearchInvalidInputs(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  Request
	}{
		{"unknown section", Request{Query: "velo", Section: "users"}},
		{"missing section", Request{Query: "velo"}},
		{"negative page size", Request{Query: "velo", Section: "answers", PageSize: -1}},
		{"page size above max", Request{Query: "velo", Section: "answers", PageSize: 1000}},
		{"non-numeric form filter", Request{Query: "velo", Section: "questions", FormID: "abc"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.service.Search(ctx, tt.req)
			if !errors.Is(err, ErrInvalidQuery) {
				t.Errorf("expected ErrInvalidQuery, got %v", err)
			}
		})
	}
}

func TestSearchMalformedCursor(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()

	first, err := env.service.Search(ctx, Request{Query: "velo", Section: "answers", PageSize: 2})
	if err != nil {
		t.Fatalf("first page: %v", err)
	}

	tests := []struct {
		name string
		req  Request
	}{
		{"garbage token", Request{Query: "velo", Section: "answers", Cursor: "!!!!"}},
		{"tampered token", Request{Query: "velo", Section: "answers", Cursor: first.NextCursor + "x"}},
		{"wrong section", Request{Query: "velo", Section: "questions", Cursor: first.NextCursor}},
		{"ranked cursor on timeline query", Request{Section: "answers", Cursor: first.NextCursor}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.service.Search(ctx, tt.req)
			if !errors.Is(err, cursor.ErrMalformed) {
				t.Errorf("expected ErrMalformed, got %v", err)
			}
		})
	}
}

func TestSearchRecordsPopularity(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()

	// The same query in different spellings shares one popularity counter.
	if _, err := env.service.Search(ctx, Request{Query: "Vélo", Section: "answers"}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.service.Search(ctx, Request{Query: "velo", Section: "answers"}); err != nil {
		t.Fatal(err)
	}

	count, err := env.tracker.Count(ctx, "velo")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 2 {
		t.Errorf("popularity = %d, want 2", count)
	}
}

// flakyTracker fails its first n RecordAndCount calls before delegating.
type flakyTracker struct {
	inner    popularity.Tracker
	failures int
	calls    int
}

func (f *flakyTracker) RecordAndCount(ctx context.Context, key, text string) (int, error) {
	f.calls++
	if f.calls <= f.failures {
		return 0, errors.New("database is locked")
	}
	return f.inner.RecordAndCount(ctx, key, text)
}

func (f *flakyTracker) Count(ctx context.Context, key string) (int, error) {
	return f.inner.Count(ctx, key)
}

func TestSearchPopularityFailureRetriesThenDegrades(t *testing.T) {
	env := newTestService(t)
	ctx := context.Background()

	flaky := &flakyTracker{inner: env.tracker, failures: 1}
	env.service.tracker = flaky

	// A transient failure is absorbed by the backed-off retry.
	start := time.Now()
	if _, err := env.service.Search(ctx, Request{Query: "velo", Section: "answers"}); err != nil {
		t.Fatalf("Search: %v", err)
	}
	if elapsed := time.Since(start); elapsed < popularityBackoff {
		t.Errorf("retry fired after %v, want at least %v between attempts", elapsed, popularityBackoff)
	}
	if count, err := env.tracker.Count(ctx, "velo"); err != nil || count != 1 {
		t.Errorf("popularity = %d (err %v), want 1 recorded by the retry", count, err)
	}

	// A persistent outage exhausts the attempts and degrades to serving
	// uncached; it never fails the request.
	flaky.failures = 1 << 30
	flaky.calls = 0
	page, err := env.service.Search(ctx, Request{Query: "velo", Section: "answers"})
	if err != nil {
		t.Fatalf("popularity outage must not fail the search: %v", err)
	}
	if page.Cached {
		t.Error("page served from cache with popularity unavailable")
	}
	if flaky.calls != popularityAttempts {
		t.Errorf("attempts = %d, want %d", flaky.calls, popularityAttempts)
	}
}

func TestSearchBroadcastsEvents(t *testing.T) {
	env := newTestService(t)

	id, events := env.hub.Register()
	defer env.hub.Unregister(id)

	if _, err := env.service.Search(context.Background(), Request{Query: "velo", Section: "answers"}); err != nil {
		t.Fatal(err)
	}

	select {
	case ev := <-events:
		if ev.Type != "search" {
			t.Errorf("event type = %q", ev.Type)
		}
		if ev.Search.Query != "velo" || ev.Search.Section != "answers" {
			t.Errorf("unexpected event %+v", ev.Search)
		}
		if ev.Search.Hits == 0 {
			t.Error("event should carry the hit count")
		}
	case <-time.After(time.Second):
		t.Fatal("no event broadcast")
	}
}
