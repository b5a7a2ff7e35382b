package models

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Article is a crawled document deposited by an external crawler.
// (source_id, content_hash) is unique so ingestion is idempotent.
type Article struct {
	ID              string    `json:"id"`
	SourceID        string    `json:"source_id"`
	URL             string    `json:"url"`
	Title           string    `json:"title"`
	Content         string    `json:"content"` // may be empty; fall back to Summary
	Summary         string    `json:"summary"`
	FirstSeenAt     time.Time `json:"first_seen_at"`
	ContentHash     string    `json:"content_hash"`
	FingerprintHash string    `json:"fingerprint_hash"`
	KeyPhrases      []string  `json:"key_phrases"`
	IsTest          bool      `json:"is_test"`
}

// Body returns the article content, falling back to the summary.
func (a *Article) Body() string {
	if a.Content != "" {
		return a.Content
	}
	return a.Summary
}

// ContentHash derives the dedup hash for article text.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Signal is a target-scoped observation extracted from an article.
// Signals are append-only.
type Signal struct {
	ID         string          `json:"id"`
	TargetID   string          `json:"target_id"`
	SourceID   string          `json:"source_id"`
	URL        string          `json:"url"`
	Content    string          `json:"content"`
	Direction  SignalDirection `json:"direction"`
	DetectedAt time.Time       `json:"detected_at"`
	Metadata   map[string]any  `json:"metadata,omitempty"` // headline, key_phrases, content_hash, ...
	IsTest     bool            `json:"is_test"`
}

// SourceSubscription links a source feed to one or more targets and carries
// the ingestion watermark (last_processed_at advances monotonically).
type SourceSubscription struct {
	ID              string     `json:"id"`
	SourceID        string     `json:"source_id"`
	TargetIDs       []string   `json:"target_ids"`
	KeywordsInclude []string   `json:"keywords_include,omitempty"`
	KeywordsExclude []string   `json:"keywords_exclude,omitempty"`
	IsActive        bool       `json:"is_active"`
	LastProcessedAt *time.Time `json:"last_processed_at,omitempty"`
}
