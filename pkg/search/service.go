package search

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/civisearch/civisearch/pkg/cache"
	"github.com/civisearch/civisearch/pkg/core"
	"github.com/civisearch/civisearch/pkg/cursor"
	"github.com/civisearch/civisearch/pkg/log"
	"github.com/civisearch/civisearch/pkg/normalize"
	"github.com/civisearch/civisearch/pkg/popularity"
	"github.com/civisearch/civisearch/pkg/rank"
	"github.com/civisearch/civisearch/pkg/realtime"
	"github.com/civisearch/civisearch/pkg/version"
)

// ErrInvalidQuery marks caller errors: unknown sections, unparseable
// filters, out-of-range page sizes.
var ErrInvalidQuery = errors.New("invalid query")

// popularityAttempts bounds retries of the popularity write before the
// request degrades to uncached computation; popularityBackoff spaces the
// attempts so a briefly locked store gets a chance to recover.
const (
	popularityAttempts = 2
	popularityBackoff  = 100 * time.Millisecond
)

// Request is one search as received from the API or CLI, before validation.
type Request struct {
	Query    string
	Section  string
	Cursor   string
	PageSize int
	FormID   string
}

// Page is one served result page.
type Page struct {
	Query      string           `json:"query"`
	Section    core.Section     `json:"section"`
	Hits       []core.RankedHit `json:"hits"`
	NextCursor string           `json:"next_cursor,omitempty"`
	Cached     bool             `json:"cached"`
	Truncated  bool             `json:"truncated,omitempty"`
}

// pagePayload is the cached wire form of a computed page. The cursor for
// the next page is re-derived from the last hit on every read, so a payload
// never embeds tokens.
type pagePayload struct {
	Hits      []core.RankedHit `json:"hits"`
	HasMore   bool             `json:"has_more"`
	Mode      cursor.Mode      `json:"mode"`
	Truncated bool             `json:"truncated,omitempty"`
}

// ServiceOptions wires a Service. Hub is optional; everything else is
// required.
type ServiceOptions struct {
	Normalizer *normalize.Normalizer
	Tracker    popularity.Tracker
	Policy     *cache.Policy
	Cache      *cache.Cache
	Engine     *rank.Engine
	Codec      *cursor.Codec
	Hub        *realtime.FirehoseHub

	DefaultPageSize int
	MaxPageSize     int
}

// Service is the query coordinator.
type Service struct {
	mu         sync.RWMutex
	normalizer *normalize.Normalizer
	policy     *cache.Policy

	tracker popularity.Tracker
	cache   *cache.Cache
	engine  *rank.Engine
	codec   *cursor.Codec
	hub     *realtime.FirehoseHub

	defaultPageSize int
	maxPageSize     int

	logger *log.Logger
}

func NewService(opts ServiceOptions) *Service {
	if opts.DefaultPageSize <= 0 {
		opts.DefaultPageSize = 20
	}
	if opts.MaxPageSize <= 0 {
		opts.MaxPageSize = 100
	}
	return &Service{
		normalizer:      opts.Normalizer,
		policy:          opts.Policy,
		tracker:         opts.Tracker,
		cache:           opts.Cache,
		engine:          opts.Engine,
		codec:           opts.Codec,
		hub:             opts.Hub,
		defaultPageSize: opts.DefaultPageSize,
		maxPageSize:     opts.MaxPageSize,
		logger:          log.ForService("search"),
	}
}

// Reload swaps the synonym table and TTL tiers. In-flight requests keep the
// components they already captured.
func (s *Service) Reload(n *normalize.Normalizer, p *cache.Policy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n != nil {
		s.normalizer = n
	}
	if p != nil {
		s.policy = p
	}
}

func (s *Service) components() (*normalize.Normalizer, *cache.Policy) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.normalizer, s.policy
}

// Search runs one request end to end and returns the page to serve.
func (s *Service) Search(ctx context.Context, req Request) (*Page, error) {
	section, err := core.ParseSection(req.Section)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}

	pageSize := req.PageSize
	if pageSize == 0 {
		pageSize = s.defaultPageSize
	}
	if pageSize < 0 || pageSize > s.maxPageSize {
		return nil, fmt.Errorf("%w: page_size must be between 1 and %d", ErrInvalidQuery, s.maxPageSize)
	}

	filters, err := buildFilters(req)
	if err != nil {
		return nil, err
	}

	normalizer, policy := s.components()
	q := normalizer.Normalize(req.Query, filters)

	pos, err := s.decodeCursor(req.Cursor, section, q)
	if err != nil {
		return nil, err
	}

	// The popularity write must survive the caller going away: a count that
	// only sticks when the response is delivered would undercount exactly
	// the hot, slow queries the tiers exist for.
	ttl := time.Duration(0)
	count, perr := s.recordPopularity(ctx, q.Key(), q.Text)
	if perr != nil {
		s.logger.Warnf("popularity for %q unavailable, serving uncached: %v", q.Text, perr)
	} else {
		ttl = policy.TTL(count)
	}

	key := cacheKey(section, q, pageSize, pos)

	raw, cached, err := s.cache.GetOrCompute(ctx, key, ttl, func(cctx context.Context) ([]byte, error) {
		return s.computePage(cctx, q, section, pageSize, pos)
	})
	if err != nil {
		return nil, err
	}

	var payload pagePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("decoding result page: %w", err)
	}

	page := &Page{
		Query:     q.Text,
		Section:   section,
		Hits:      payload.Hits,
		Cached:    cached,
		Truncated: payload.Truncated,
	}
	if payload.HasMore && len(payload.Hits) > 0 {
		last := payload.Hits[len(payload.Hits)-1]
		page.NextCursor = s.codec.Encode(cursor.Position{
			Section: section,
			Mode:    payload.Mode,
			Score:   last.Score,
			ID:      last.ID,
		})
	}

	if s.hub != nil {
		s.hub.Broadcast(realtime.SearchEvent{
			Query:     q.Text,
			Section:   string(section),
			Hits:      len(page.Hits),
			Cached:    page.Cached,
			Truncated: page.Truncated,
			At:        time.Now().UTC(),
		})
	}

	return page, nil
}

func buildFilters(req Request) (map[string]string, error) {
	if req.FormID == "" {
		return nil, nil
	}
	if _, err := strconv.ParseInt(req.FormID, 10, 64); err != nil {
		return nil, fmt.Errorf("%w: form_id must be an integer", ErrInvalidQuery)
	}
	return map[string]string{"form_id": req.FormID}, nil
}

// decodeCursor validates the token against the request it arrived with: the
// token's mode must match what this query would produce, otherwise a cursor
// from a ranked search could silently page a recency timeline.
func (s *Service) decodeCursor(token string, section core.Section, q normalize.Query) (*cursor.Position, error) {
	if token == "" {
		return nil, nil
	}

	pos, err := s.codec.Decode(token, section)
	if err != nil {
		return nil, err
	}

	wantMode := cursor.ModeRank
	if q.Empty() {
		wantMode = cursor.ModeRecent
	}
	if pos.Mode != wantMode {
		return nil, fmt.Errorf("%w: %s cursor used with %s query", cursor.ErrMalformed, pos.Mode, wantMode)
	}

	return &pos, nil
}

func (s *Service) recordPopularity(ctx context.Context, key, text string) (int, error) {
	detached := context.WithoutCancel(ctx)

	var lastErr error
	for attempt := 0; attempt < popularityAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(popularityBackoff)
		}
		count, err := s.tracker.RecordAndCount(detached, key, text)
		if err == nil {
			return count, nil
		}
		lastErr = err
	}
	return 0, lastErr
}

func (s *Service) computePage(ctx context.Context, q normalize.Query, section core.Section, pageSize int, pos *cursor.Position) ([]byte, error) {
	res, err := s.engine.Rank(ctx, q, section, pageSize, pos)
	if err != nil {
		return nil, fmt.Errorf("ranking %s: %w", section, err)
	}

	payload := pagePayload{
		Hits:      res.Hits,
		HasMore:   res.HasMore,
		Mode:      res.Mode,
		Truncated: res.Truncated,
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding result page: %w", err)
	}
	return raw, nil
}

// cacheKey hashes everything that changes the bytes of a page: the ranking
// version, the section, the normalized query key, the page size and the
// resume position. Identical inputs always hash identically, which is what
// makes cached pages shareable across callers.
func cacheKey(section core.Section, q normalize.Query, pageSize int, pos *cursor.Position) string {
	h := sha256.New()
	fmt.Fprintf(h, "v%d\x00%s\x00%s\x00%d\x00", version.RankingVersion, section, q.Key(), pageSize)
	if pos != nil {
		fmt.Fprintf(h, "%s\x00%s\x00%d", pos.Mode, strconv.FormatFloat(pos.Score, 'g', -1, 64), pos.ID)
	}
	return hex.EncodeToString(h.Sum(nil))
}
