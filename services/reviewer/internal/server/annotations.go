package server

import (
	"net/http"

	"examreviewer/pkg/domain"
	"examreviewer/services/reviewer/internal/app"
)

func (s *Server) handleAnnotations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req annotationRequest
	if msg, ok := decodeJSON(w, r, &req); !ok {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	ann, err := s.app.CreateAnnotation(r.Context(), app.AnnotationInput{
		DocumentID:  req.PDFID,
		PageNumber:  req.PageNumber,
		Kind:        domain.AnnotationKind(req.Type),
		TextContent: req.TextContent,
		Coordinates: req.Coordinates,
		Color:       req.Color,
		NoteText:    req.NoteText,
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ann)
}

// GET /api/annotations/{pdf_id}; PUT, PATCH or DELETE /api/annotations/{annotation_id}
func (s *Server) handleAnnotationByID(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/api/annotations/" {
		s.handleAnnotations(w, r)
		return
	}
	rawID, sub := pathParts(r, "/api/annotations/")
	id, ok := parseID(rawID)
	if !ok || sub != "" {
		notFound(w, "not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		items, err := s.app.ListAnnotations(r.Context(), id)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items": items,
			"count": len(items),
		})
	case http.MethodPut, http.MethodPatch:
		var req annotationUpdateRequest
		if msg, ok := decodeJSON(w, r, &req); !ok {
			writeError(w, http.StatusBadRequest, msg)
			return
		}
		ann, err := s.app.UpdateAnnotation(r.Context(), id, req.patch())
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, ann)
	case http.MethodDelete:
		if err := s.app.DeleteAnnotation(r.Context(), id); err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w)
	}
}
