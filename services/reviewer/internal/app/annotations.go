package app

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strings"

	"examreviewer/pkg/domain"
	"examreviewer/pkg/store"
)

var colorPattern = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6}|[0-9a-fA-F]{8})$`)

// AnnotationInput describes a new highlight or note.
type AnnotationInput struct {
	DocumentID  int64
	PageNumber  int
	Kind        domain.AnnotationKind
	TextContent *string
	Coordinates json.RawMessage
	Color       string
	NoteText    *string
}

// CreateAnnotation stores an annotation on an existing document.
func (a *App) CreateAnnotation(ctx context.Context, in AnnotationInput) (domain.Annotation, error) {
	if in.PageNumber < 1 {
		return domain.Annotation{}, invalid("page_number", "must be positive")
	}
	if !in.Kind.Valid() {
		return domain.Annotation{}, invalid("type", "must be highlight or note")
	}
	coords, err := normalizeCoordinates(in.Coordinates)
	if err != nil {
		return domain.Annotation{}, err
	}
	if coords == nil {
		return domain.Annotation{}, invalid("coordinates", "required")
	}
	color := strings.TrimSpace(in.Color)
	if color == "" {
		color = domain.DefaultAnnotationColor
	}
	if !colorPattern.MatchString(color) {
		return domain.Annotation{}, invalid("color", "must be a hex color")
	}
	if _, err := a.requireDocument(in.DocumentID); err != nil {
		return domain.Annotation{}, err
	}
	now := a.now()
	ann, err := a.store.CreateAnnotation(domain.Annotation{
		DocumentID:  in.DocumentID,
		PageNumber:  in.PageNumber,
		Kind:        in.Kind,
		TextContent: in.TextContent,
		Coordinates: coords,
		Color:       color,
		NoteText:    in.NoteText,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		if errors.Is(err, store.ErrDocumentNotFound) {
			return domain.Annotation{}, notFound("document", in.DocumentID)
		}
		return domain.Annotation{}, storageErr("create annotation", err)
	}
	return ann, nil
}

// ListAnnotations returns a document's annotations ordered by page.
func (a *App) ListAnnotations(ctx context.Context, documentID int64) ([]domain.Annotation, error) {
	if _, err := a.requireDocument(documentID); err != nil {
		return nil, err
	}
	items, err := a.store.ListAnnotations(documentID)
	if err != nil {
		return nil, storageErr("list annotations", err)
	}
	return items, nil
}

// UpdateAnnotation changes only the fields set in patch.
func (a *App) UpdateAnnotation(ctx context.Context, id int64, patch domain.AnnotationPatch) (domain.Annotation, error) {
	if patch.PageNumber != nil && *patch.PageNumber < 1 {
		return domain.Annotation{}, invalid("page_number", "must be positive")
	}
	if patch.Kind != nil && !patch.Kind.Valid() {
		return domain.Annotation{}, invalid("type", "must be highlight or note")
	}
	if patch.Color != nil && !colorPattern.MatchString(*patch.Color) {
		return domain.Annotation{}, invalid("color", "must be a hex color")
	}
	coords, err := normalizeCoordinates(patch.Coordinates)
	if err != nil {
		return domain.Annotation{}, err
	}
	patch.Coordinates = coords
	if patch.Empty() {
		return domain.Annotation{}, invalid("body", "no fields to update")
	}

	ann, ok, err := a.store.UpdateAnnotation(id, patch)
	if err != nil {
		return domain.Annotation{}, storageErr("update annotation", err)
	}
	if !ok {
		return domain.Annotation{}, notFound("annotation", id)
	}
	return ann, nil
}

// DeleteAnnotation removes an annotation.
func (a *App) DeleteAnnotation(ctx context.Context, id int64) error {
	deleted, err := a.store.DeleteAnnotation(id)
	if err != nil {
		return storageErr("delete annotation", err)
	}
	if !deleted {
		return notFound("annotation", id)
	}
	return nil
}
