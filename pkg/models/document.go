// Package models contains domain models for newsify.
package models

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

// Unassigned is the cluster reference of a document that has not joined a cluster yet.
const Unassigned = ""

// BlockKind is the discriminator of a ContentBlock.
type BlockKind string

const (
	BlockParagraph BlockKind = "paragraph"
	BlockImage     BlockKind = "image"
	BlockIframe    BlockKind = "iframe"
	BlockVideo     BlockKind = "video"
)

// ErrUnknownBlockKind is returned when a content block carries an unsupported kind.
var ErrUnknownBlockKind = errors.New("unknown content block kind")

// ContentBlock is one element of a document body.
// Payload holds the paragraph text for paragraphs and the media URL for everything else.
type ContentBlock struct {
	Kind    BlockKind `json:"type"`
	Payload string    `json:"content"`
	Caption string    `json:"caption,omitempty"`
}

// Validate checks that the block kind is known.
func (b ContentBlock) Validate() error {
	switch b.Kind {
	case BlockParagraph, BlockImage, BlockIframe, BlockVideo:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBlockKind, b.Kind)
	}
}

// ContentBlocks is the ordered body of a document, stored as a JSON column.
type ContentBlocks []ContentBlock

// Scan implements sql.Scanner for ContentBlocks.
func (c *ContentBlocks) Scan(src interface{}) error {
	if src == nil {
		*c = nil
		return nil
	}

	var data []byte
	switch v := src.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("ContentBlocks: unsupported type %T", src)
	}

	if len(data) == 0 {
		*c = nil
		return nil
	}

	return json.Unmarshal(data, c)
}

// Value implements driver.Valuer for ContentBlocks.
func (c ContentBlocks) Value() (driver.Value, error) {
	if c == nil {
		return "[]", nil
	}
	data, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// DocumentRef identifies a document inside its source.
type DocumentRef struct {
	SourceID   string `json:"source_id"`
	DocumentID string `json:"document_id"`
}

func (r DocumentRef) String() string {
	return r.SourceID + "/" + r.DocumentID
}

// Document is a short news item as stored by the document store.
type Document struct {
	PublishedAt time.Time     `json:"published_at"`
	ID          string        `json:"id"`
	SourceID    string        `json:"source_id"`
	Title       string        `json:"title"`
	Summary     string        `json:"summary,omitempty"`
	ClusterRef  string        `json:"cluster_ref"`
	Category    string        `json:"category,omitempty"`
	Content     ContentBlocks `json:"content"`
	Embedding   []float32     `json:"embedding,omitempty"`
}

// Ref returns the document reference.
func (d Document) Ref() DocumentRef {
	return DocumentRef{SourceID: d.SourceID, DocumentID: d.ID}
}

// IsAssigned reports whether the document already belongs to a cluster.
func (d Document) IsAssigned() bool {
	return d.ClusterRef != Unassigned
}

// HasEmbedding reports whether the document carries an embedding.
func (d Document) HasEmbedding() bool {
	return len(d.Embedding) > 0
}

// Validate checks the fields required for ingestion.
func (d Document) Validate() error {
	if d.ID == "" {
		return errors.New("document id is required")
	}
	if d.SourceID == "" {
		return errors.New("document source id is required")
	}
	if strings.TrimSpace(d.Title) == "" {
		return errors.New("document title is required")
	}
	if d.PublishedAt.IsZero() {
		return errors.New("document published_at is required")
	}
	for i, block := range d.Content {
		if err := block.Validate(); err != nil {
			return fmt.Errorf("content block %d: %w", i, err)
		}
	}
	return nil
}

// BodyText returns the text contributed by the document body.
// Paragraphs are joined by a single space. Media blocks only contribute
// their captions, and only when the document has no paragraph text.
func (d Document) BodyText() string {
	var paragraphs, captions []string
	for _, block := range d.Content {
		switch block.Kind {
		case BlockParagraph:
			if text := strings.TrimSpace(block.Payload); text != "" {
				paragraphs = append(paragraphs, text)
			}
		case BlockImage, BlockIframe, BlockVideo:
			if caption := strings.TrimSpace(block.Caption); caption != "" {
				captions = append(captions, caption)
			}
		}
	}
	if len(paragraphs) > 0 {
		return strings.Join(paragraphs, " ")
	}
	return strings.Join(captions, " ")
}

// CanonicalText is the text used for embedding and cluster synthesis:
// the title followed by the summary, or the body when there is no summary.
func (d Document) CanonicalText() string {
	body := strings.TrimSpace(d.Summary)
	if body == "" {
		body = d.BodyText()
	}
	return strings.TrimSpace(strings.TrimSpace(d.Title) + " " + body)
}
