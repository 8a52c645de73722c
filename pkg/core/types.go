// Package core defines the domain types shared across civisearch: corpus
// sections, documents, and ranked search hits.
package core

import (
	"fmt"
	"time"
)

// Section identifies which part of the corpus a search targets.
type Section string

const (
	SectionForms     Section = "forms"
	SectionQuestions Section = "questions"
	SectionAnswers   Section = "answers"
)

// ParseSection validates a raw section string.
func ParseSection(s string) (Section, error) {
	switch Section(s) {
	case SectionForms, SectionQuestions, SectionAnswers:
		return Section(s), nil
	}
	return "", fmt.Errorf("unknown section %q", s)
}

// RankedHit is a single search result. Within one page hits are ordered by
// (Score descending, ID ascending); recency pages use ID descending with
// Score fixed at zero.
type RankedHit struct {
	ID          int64     `json:"id"`
	Section     Section   `json:"section"`
	Score       float64   `json:"score"`
	Title       string    `json:"title"`
	Snippet     string    `json:"snippet,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Form is a citizen-consultation form (a named questionnaire).
type Form struct {
	ID        int64
	Name      string
	CreatedAt time.Time
}

// Question belongs to a form and carries the searchable prompt text.
type Question struct {
	ID           int64
	FormID       int64
	QuestionCode string
	Prompt       string
	Type         string
	CreatedAt    time.Time
}

// Answer is a free-text citizen answer to a question.
type Answer struct {
	ID          int64
	QuestionID  int64
	Body        string
	SubmittedAt time.Time
}
