package catalog

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	liberrors "github.com/adalundhe/shelf/core/errors"
)

// ResourceType enumerates the kinds of artifact a catalog entry can describe.
type ResourceType int

const (
	// TypeUnspecified is only meaningful in a Registration: new entries
	// default to TypePage, existing entries keep their type.
	TypeUnspecified ResourceType = iota
	TypePage
	TypePaper
	TypeRepository
	TypeBook
	TypeVideo
	TypeDataset
	TypeImage
)

var resourceTypeNames = []string{
	TypeUnspecified: "",
	TypePage:        "page",
	TypePaper:       "paper",
	TypeRepository:  "repository",
	TypeBook:        "book",
	TypeVideo:       "video",
	TypeDataset:     "dataset",
	TypeImage:       "image",
}

func (t ResourceType) String() string {
	if t < 0 || int(t) >= len(resourceTypeNames) {
		return fmt.Sprintf("ResourceType(%d)", int(t))
	}
	return resourceTypeNames[t]
}

// Valid reports whether t names a concrete resource type.
func (t ResourceType) Valid() bool {
	return t > TypeUnspecified && int(t) < len(resourceTypeNames)
}

// ParseResourceType is the inverse of String. The empty string parses to
// TypeUnspecified.
func ParseResourceType(s string) (ResourceType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range resourceTypeNames {
		if name == s {
			return ResourceType(i), nil
		}
	}
	return TypeUnspecified, liberrors.Newf(liberrors.KindInvalidInput, "catalog.ParseResourceType", "unknown resource type %q", s)
}

func (t ResourceType) MarshalText() ([]byte, error) {
	if t != TypeUnspecified && !t.Valid() {
		return nil, fmt.Errorf("invalid resource type %d", int(t))
	}
	return []byte(t.String()), nil
}

func (t *ResourceType) UnmarshalText(text []byte) error {
	parsed, err := ParseResourceType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// TextFields are the indexed text of an entry.
type TextFields struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
	Body    string `json:"body"`
}

// Entry is one logical resource. CanonicalURL is unique across the catalog;
// ContentHash, when set, names an object present in the content store.
type Entry struct {
	ID           int64           `json:"id"`
	CanonicalURL string          `json:"canonical_url"`
	Type         ResourceType    `json:"resource_type"`
	Fields       TextFields      `json:"text_fields"`
	ContentHash  string          `json:"content_hash,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	LastSeenAt   time.Time       `json:"last_seen_at"`
	AccessCount  int64           `json:"access_count"`
	Importance   float64         `json:"importance"`
	Archived     bool            `json:"archived"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
}

// Registration is the input of Register.
type Registration struct {
	URL    string       `json:"url"`
	Type   ResourceType `json:"resource_type"`
	Fields TextFields   `json:"text_fields"`

	// Content is stored in the content store when non-nil. An empty,
	// non-nil slice is valid content.
	Content   []byte `json:"-"`
	MediaType string `json:"media_type,omitempty"`

	// Metadata is an opaque extractor blob, replaced when non-empty.
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// Result reports the outcome of Register.
type Result struct {
	ID          int64  `json:"id"`
	IsNew       bool   `json:"is_new"`
	ContentHash string `json:"content_hash,omitempty"`
}
