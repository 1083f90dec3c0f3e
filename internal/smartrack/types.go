package smartrack

import (
	"strings"
	"time"
)

type ContentType string

const (
	ContentTypeWebpage  ContentType = "webpage"
	ContentTypePDF      ContentType = "pdf"
	ContentTypeArticle  ContentType = "article"
	ContentTypeVideo    ContentType = "video"
	ContentTypeImage    ContentType = "image"
	ContentTypeDocument ContentType = "document"
	ContentTypeOther    ContentType = "other"
)

// ParseContentType maps server-sent values onto the known set. Values the
// client does not know yet degrade to ContentTypeOther instead of failing.
func ParseContentType(raw string) ContentType {
	switch ContentType(strings.ToLower(strings.TrimSpace(raw))) {
	case ContentTypeWebpage:
		return ContentTypeWebpage
	case ContentTypePDF:
		return ContentTypePDF
	case ContentTypeArticle:
		return ContentTypeArticle
	case ContentTypeVideo:
		return ContentTypeVideo
	case ContentTypeImage:
		return ContentTypeImage
	case ContentTypeDocument:
		return ContentTypeDocument
	default:
		return ContentTypeOther
	}
}

func (c ContentType) Valid() bool {
	switch c {
	case ContentTypeWebpage, ContentTypePDF, ContentTypeArticle, ContentTypeVideo,
		ContentTypeImage, ContentTypeDocument, ContentTypeOther:
		return true
	default:
		return false
	}
}

// Link is the client-visible projection of a server-owned record.
// CollectionID distinguishes null (no collection) from a set value; the
// "field absent" case only exists on the patch type, never on Link itself.
type Link struct {
	ID           string      `json:"id"`
	URL          string      `json:"url"`
	Title        string      `json:"title"`
	Description  string      `json:"description,omitempty"`
	Category     string      `json:"category,omitempty"`
	Tags         []string    `json:"tags,omitempty"`
	ContentType  ContentType `json:"contentType"`
	IsFavorite   bool        `json:"isFavorite"`
	IsArchived   bool        `json:"isArchived"`
	CollectionID *string     `json:"collectionId"`
	ClickCount   int         `json:"clickCount"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
}

// Collection's LinkCount is server-derived. The client never increments it
// locally; it is re-fetched after any operation that could change membership.
type Collection struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	LinkCount int    `json:"linkCount"`
}

type Stats struct {
	TotalLinks       int   `json:"totalLinks"`
	TotalCollections int   `json:"totalCollections"`
	StorageUsedBytes int64 `json:"storageUsedBytes"`
	TotalClicks      int   `json:"totalClicks"`
}

type SavePayload struct {
	URL         string      `json:"url"`
	Title       string      `json:"title,omitempty"`
	Description string      `json:"description,omitempty"`
	Category    string      `json:"category,omitempty"`
	Tags        []string    `json:"tags,omitempty"`
	ContentType ContentType `json:"contentType,omitempty"`
	Thumbnail   string      `json:"thumbnail,omitempty"`
	Source      string      `json:"source,omitempty"`
}

// PendingSave is one buffered capture waiting for connectivity and a
// credential. It survives restarts and is destroyed only by a successful
// attempt against the backend.
type PendingSave struct {
	Payload    SavePayload `json:"payload"`
	EnqueuedAt time.Time   `json:"enqueuedAt"`
}

// CachedSnapshot is a paint-immediately hint, never a source of truth.
type CachedSnapshot struct {
	Links       []Link       `json:"links"`
	Collections []Collection `json:"collections"`
	FetchedAt   time.Time    `json:"fetchedAt"`
}
