// Package cursor encodes and decodes the opaque pagination tokens handed to
// callers. A token embeds the ranking-algorithm version, the section it was
// issued for and the keyset position (score, tie-break id); anything that
// does not round-trip exactly is rejected as malformed.
package cursor

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/civisearch/civisearch/pkg/core"
)

// ErrMalformed is returned for tokens that are corrupt, from a foreign
// origin, for the wrong section, or issued by a different ranking version.
// Callers should treat it as "reset to the first page".
var ErrMalformed = errors.New("malformed cursor")

// Mode distinguishes relevance-ordered pages from recency-ordered ones.
type Mode string

const (
	ModeRank   Mode = "rank"
	ModeRecent Mode = "recent"
)

// Position is the resume point a token decodes to.
type Position struct {
	Section core.Section
	Mode    Mode
	Score   float64
	ID      int64
}

type wire struct {
	Version int     `json:"v"`
	Section string  `json:"s"`
	Mode    string  `json:"m"`
	Score   float64 `json:"score"`
	ID      int64   `json:"id"`
}

// Codec issues and validates tokens for one ranking-algorithm version.
type Codec struct {
	version int
}

func NewCodec(version int) *Codec {
	return &Codec{version: version}
}

// Encode serializes a position as a URL-safe opaque token.
func (c *Codec) Encode(pos Position) string {
	raw, err := json.Marshal(wire{
		Version: c.version,
		Section: string(pos.Section),
		Mode:    string(pos.Mode),
		Score:   pos.Score,
		ID:      pos.ID,
	})
	if err != nil {
		// wire has no unmarshalable fields; this cannot happen.
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(raw)
}

// Decode parses a token and checks it against the expected section and the
// running ranking version. A stale or foreign token errors, it never decodes
// to a silently wrong position.
func (c *Codec) Decode(token string, section core.Section) (Position, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return Position{}, fmt.Errorf("%w: invalid encoding", ErrMalformed)
	}

	var w wire
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&w); err != nil {
		return Position{}, fmt.Errorf("%w: invalid payload", ErrMalformed)
	}
	// Decode stops at the end of the first JSON value; anything after it
	// means the token was tampered with.
	if _, err := dec.Token(); err != io.EOF {
		return Position{}, fmt.Errorf("%w: trailing data", ErrMalformed)
	}

	if w.Version != c.version {
		return Position{}, fmt.Errorf("%w: ranking version %d, expected %d", ErrMalformed, w.Version, c.version)
	}

	tokSection, err := core.ParseSection(w.Section)
	if err != nil {
		return Position{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if tokSection != section {
		return Position{}, fmt.Errorf("%w: cursor for section %q used on %q", ErrMalformed, tokSection, section)
	}

	mode := Mode(w.Mode)
	if mode != ModeRank && mode != ModeRecent {
		return Position{}, fmt.Errorf("%w: unknown mode %q", ErrMalformed, w.Mode)
	}

	if w.ID <= 0 {
		return Position{}, fmt.Errorf("%w: non-positive tie-break id", ErrMalformed)
	}

	return Position{
		Section: tokSection,
		Mode:    mode,
		Score:   w.Score,
		ID:      w.ID,
	}, nil
}
