package smartrack

import "encoding/json"

// Field carries three states for a patch value: absent (zero value),
// present-and-null, and present-and-set. Key presence on the wire follows
// the field state, so "clear the collection" and "leave it unchanged" have
// distinct representations.
type Field[T any] struct {
	present bool
	value   *T
}

func Set[T any](v T) Field[T] {
	return Field[T]{present: true, value: &v}
}

func Null[T any]() Field[T] {
	return Field[T]{present: true}
}

func (f Field[T]) Present() bool {
	return f.present
}

func (f Field[T]) IsNull() bool {
	return f.present && f.value == nil
}

func (f Field[T]) Get() (T, bool) {
	if f.value == nil {
		var zero T
		return zero, false
	}
	return *f.value, true
}

// LinkPatch is an explicit partial update. Nil pointer fields are omitted
// from the PUT body entirely; CollectionID additionally supports an explicit
// null, which the backend treats as "remove from collection".
type LinkPatch struct {
	URL          *string
	Title        *string
	Description  *string
	Category     *string
	Tags         *[]string
	ContentType  *ContentType
	IsFavorite   *bool
	IsArchived   *bool
	CollectionID Field[string]
}

func (p LinkPatch) IsZero() bool {
	return p.URL == nil && p.Title == nil && p.Description == nil &&
		p.Category == nil && p.Tags == nil && p.ContentType == nil &&
		p.IsFavorite == nil && p.IsArchived == nil && !p.CollectionID.Present()
}

func (p LinkPatch) MarshalJSON() ([]byte, error) {
	body := map[string]any{}
	if p.URL != nil {
		body["url"] = *p.URL
	}
	if p.Title != nil {
		body["title"] = *p.Title
	}
	if p.Description != nil {
		body["description"] = *p.Description
	}
	if p.Category != nil {
		body["category"] = *p.Category
	}
	if p.Tags != nil {
		body["tags"] = *p.Tags
	}
	if p.ContentType != nil {
		body["contentType"] = *p.ContentType
	}
	if p.IsFavorite != nil {
		body["isFavorite"] = *p.IsFavorite
	}
	if p.IsArchived != nil {
		body["isArchived"] = *p.IsArchived
	}
	if p.CollectionID.Present() {
		if v, ok := p.CollectionID.Get(); ok {
			body["collectionId"] = v
		} else {
			body["collectionId"] = nil
		}
	}
	return json.Marshal(body)
}

// ApplyTo mirrors the patch onto an in-memory link, for optimistic local
// application before the network round-trip settles.
func (p LinkPatch) ApplyTo(link *Link) {
	if link == nil {
		return
	}
	if p.URL != nil {
		link.URL = *p.URL
	}
	if p.Title != nil {
		link.Title = *p.Title
	}
	if p.Description != nil {
		link.Description = *p.Description
	}
	if p.Category != nil {
		link.Category = *p.Category
	}
	if p.Tags != nil {
		link.Tags = append([]string(nil), (*p.Tags)...)
	}
	if p.ContentType != nil {
		link.ContentType = *p.ContentType
	}
	if p.IsFavorite != nil {
		link.IsFavorite = *p.IsFavorite
	}
	if p.IsArchived != nil {
		link.IsArchived = *p.IsArchived
	}
	if p.CollectionID.Present() {
		if v, ok := p.CollectionID.Get(); ok {
			link.CollectionID = &v
		} else {
			link.CollectionID = nil
		}
	}
}
