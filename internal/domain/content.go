package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Variant identifies which corpus a piece of content belongs to.
type Variant string

// Variant constants. These are the only two corpora the service knows about.
const (
	VariantCourse Variant = "course"
	VariantForum  Variant = "forum"
)

// ParseVariant converts a stored or user-supplied tag into a Variant.
// The legacy tag "discourse" is accepted as VariantForum.
func ParseVariant(s string) (Variant, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(VariantCourse):
		return VariantCourse, nil
	case string(VariantForum), "discourse":
		return VariantForum, nil
	default:
		return "", fmt.Errorf("unknown content variant %q", s)
	}
}

// UnmarshalJSON normalises tags through ParseVariant. Unknown tags are kept
// verbatim so that Validate rejects the item rather than the whole payload.
func (v *Variant) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("content variant: %w", err)
	}
	if parsed, err := ParseVariant(s); err == nil {
		*v = parsed
		return nil
	}
	*v = Variant(s)
	return nil
}

// Label is the upper-case tag used when rendering evidence into prompts.
func (v Variant) Label() string {
	switch v {
	case VariantCourse:
		return "COURSE"
	case VariantForum:
		return "FORUM"
	default:
		return strings.ToUpper(string(v))
	}
}

// ContentItem is a single course page or forum post.
//
// Identity is URL for course items and ExternalID (the forum post id) for
// forum posts. Re-ingesting the same identity updates the existing row.
type ContentItem struct {
	ID         int64          `json:"id"          db:"id"`
	Variant    Variant        `json:"variant"     db:"variant"`
	ExternalID int64          `json:"external_id" db:"external_id"` // forum post id, 0 for course items
	Title      string         `json:"title"       db:"title"`
	Body       string         `json:"body"        db:"body"`
	URL        string         `json:"url"         db:"url"`
	Category   string         `json:"category"    db:"category"` // lecture, assignment, resource, forum category id
	Author     string         `json:"author,omitempty"      db:"author"`
	TopicID    int64          `json:"topic_id,omitempty"    db:"topic_id"`
	PostNumber int            `json:"post_number,omitempty" db:"post_number"`
	Metadata   map[string]any `json:"metadata,omitempty"    db:"metadata"`
	CreatedAt  time.Time      `json:"created_at"  db:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"  db:"updated_at"`
}

// IdentityKey returns the natural identity of the item within its variant.
func (c *ContentItem) IdentityKey() string {
	switch c.Variant {
	case VariantCourse:
		return "course:" + c.URL
	case VariantForum:
		return fmt.Sprintf("forum:%d", c.ExternalID)
	default:
		return string(c.Variant) + ":" + c.URL
	}
}

// Validate checks that the item carries its identity and the fields the
// retrieval pipeline relies on.
func (c *ContentItem) Validate() error {
	switch c.Variant {
	case VariantCourse:
		if c.URL == "" {
			return fmt.Errorf("course item requires url")
		}
	case VariantForum:
		if c.ExternalID == 0 {
			return fmt.Errorf("forum item requires external_id")
		}
		if c.URL == "" {
			return fmt.Errorf("forum item requires url")
		}
	default:
		return fmt.Errorf("unknown content variant %q", c.Variant)
	}
	if c.Title == "" {
		return fmt.Errorf("item %s requires title", c.IdentityKey())
	}
	return nil
}

// EvidenceEntry is a retrieved piece of content offered to the answer
// generator. URL is its identity for deduplication.
type EvidenceEntry struct {
	Text    string  `json:"text"`
	URL     string  `json:"url"`
	Title   string  `json:"title"`
	Variant Variant `json:"variant"`
}

// EvidenceFromContent builds an EvidenceEntry from a stored item.
func EvidenceFromContent(c ContentItem) EvidenceEntry {
	return EvidenceEntry{Text: c.Body, URL: c.URL, Title: c.Title, Variant: c.Variant}
}

// IngestResult summarises an ingestion batch.
type IngestResult struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Embedded int `json:"embedded"`
	Failed   int `json:"failed"`
}

// CorpusStatus describes one corpus on the data-sources dashboard.
type CorpusStatus struct {
	Count       int        `json:"count"`
	LastUpdated *time.Time `json:"lastUpdated"`
}
