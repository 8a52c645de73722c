// Package search coordinates a single search request across the other
// civisearch components.
//
// # Overview
//
// Service is the one entry point callers use. For each request it:
//
//   - normalizes the raw query (case, diacritics, synonyms, prefix markers)
//   - decodes and validates the pagination cursor, if any
//   - records query popularity, detached from the caller's cancellation
//   - derives the cache TTL from the popularity tiers
//   - serves the page from the result cache, or computes it with the
//     ranking engine and caches it
//   - issues the next-page cursor from the last hit of the page
//
// # Failure policy
//
// Ranking failures fail the request. Popularity and cache storage failures
// do not: they degrade the request to compute-without-caching and are
// logged. Malformed cursors and invalid parameters are caller errors and
// are reported as cursor.ErrMalformed and ErrInvalidQuery respectively.
package search
