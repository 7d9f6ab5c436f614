// Package models defines the domain types shared by the marginalia core.
package models

import (
	"strconv"
	"time"
)

// Direction tells which margin an annotation is anchored to.
type Direction string

const (
	Outbound Direction = "outbound" // %%> ... %%
	Inbound  Direction = "inbound"  // %%< ... %%
)

// Annotation is one parsed margin note. It is produced fresh by every scan
// of its document and never mutated afterwards.
type Annotation struct {
	Document      string    `json:"document"`
	Line          int       `json:"line"`   // zero-based line index in Document
	Offset        int       `json:"offset"` // byte offset of the annotation content within the line
	Direction     Direction `json:"direction"`
	CleanText     string    `json:"clean_text"`
	RawText       string    `json:"raw_text"`
	Color         string    `json:"color"`
	Identity      string    `json:"identity,omitempty"`
	OutgoingLinks []string  `json:"outgoing_links,omitempty"`
	Images        []string  `json:"images,omitempty"`
	IsFlashcard   bool      `json:"is_flashcard"`
}

// HasIdentity reports whether the source line already carries a block ID.
func (a Annotation) HasIdentity() bool { return a.Identity != "" }

// Key is the stable node key used by the graph and the timeline: the block ID
// when one exists, else a document-line composite.
func (a Annotation) Key() string {
	if a.Identity != "" {
		return a.Identity
	}
	return LineKey(a.Document, a.Line)
}

// SameLine reports whether a and b were parsed from the same physical line.
func (a Annotation) SameLine(b Annotation) bool {
	return a.Document == b.Document && a.Line == b.Line
}

// LineKey builds the composite key for an annotation without an identity.
func LineKey(document string, line int) string {
	return document + "-" + strconv.Itoa(line)
}

// ColorRule maps a leading text prefix to a display colour.
type ColorRule struct {
	Prefix string `json:"prefix" yaml:"prefix"`
	Color  string `json:"color" yaml:"color"`
}

// DocumentMeta is what the document store reports about one document
// without reading its content.
type DocumentMeta struct {
	Path      string    `json:"path"`
	Stamp     int64     `json:"stamp"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CacheEntry is the memoized parse result of one document.
type CacheEntry struct {
	Stamp       int64        `json:"stamp"`
	Created     time.Time    `json:"created"`
	Annotations []Annotation `json:"annotations"`
}

// ReviewState is the spaced-repetition state of one identity.
// A zero LastReviewed means the identity has never been graded.
type ReviewState struct {
	LastReviewed time.Time `json:"last_reviewed"`
	Interval     float64   `json:"interval"` // days
	Ease         float64   `json:"ease"`
}

// DefaultEase is the ease factor of an identity that was never graded.
const DefaultEase = 2.5

// NewReviewState returns the default state {0, 0, 2.5}.
func NewReviewState() ReviewState {
	return ReviewState{Ease: DefaultEase}
}

// Stats holds the capture counters shown on the user profile.
type Stats struct {
	MarginaliasCreated int `json:"marginalias_created"`
	XP                 int `json:"xp"`
	Level              int `json:"level"`
}

// XPPerMarginalia is awarded for every captured annotation.
const XPPerMarginalia = 10

// NewStats returns the counters of a user who has captured nothing yet.
func NewStats() Stats {
	return Stats{Level: 1}
}

// Award records one captured annotation and reports whether it levelled up.
// A level is gained once XP reaches level×100.
func (s *Stats) Award() bool {
	if s.Level < 1 {
		s.Level = 1
	}
	s.MarginaliasCreated++
	s.XP += XPPerMarginalia
	if s.XP >= s.Level*100 {
		s.Level++
		return true
	}
	return false
}
