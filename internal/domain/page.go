package domain

import (
	"math"
	"time"
)

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
	// MaxPage bounds how deep a listing can page; deeper requests are
	// clamped here so offsets stay small.
	MaxPage = 10000

	// timeKeyLayout is fixed width so that keys sort lexically in time order.
	timeKeyLayout = "2006-01-02T15:04:05.000000000Z"
)

// Page is a 1-based page request.
type Page struct {
	Page  int
	Limit int
}

// Normalize fills defaults, caps the limit at max and the page at MaxPage.
func (p Page) Normalize(def, max int) Page {
	if def <= 0 {
		def = DefaultPageLimit
	}
	if max <= 0 {
		max = MaxPageLimit
	}
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Page > MaxPage {
		p.Page = MaxPage
	}
	if p.Limit <= 0 {
		p.Limit = def
	}
	if p.Limit > max {
		p.Limit = max
	}
	return p
}

// Offset is the number of items before the page. It saturates at
// math.MaxInt instead of overflowing.
func (p Page) Offset() int {
	if p.Page < 1 || p.Limit <= 0 {
		return 0
	}
	if p.Page-1 > math.MaxInt/p.Limit {
		return math.MaxInt
	}
	return (p.Page - 1) * p.Limit
}

// ConversationQuery selects conversations for a participant.
type ConversationQuery struct {
	Page            Page
	IncludeInactive bool
}

// MessageQuery selects messages within a conversation.
type MessageQuery struct {
	Page           Page
	IncludeDeleted bool
	Descending     bool
}

// FormatTimeKey renders t in UTC with a sortable fixed-width layout.
func FormatTimeKey(t time.Time) string {
	return t.UTC().Format(timeKeyLayout)
}

// ParseTimeKey is the inverse of FormatTimeKey.
func ParseTimeKey(s string) (time.Time, error) {
	return time.Parse(timeKeyLayout, s)
}
