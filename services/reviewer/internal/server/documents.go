package server

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"

	"examreviewer/internal/util"
)

func (s *Server) handlePDFs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	docs, err := s.app.ListDocuments(r.Context())
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": docs,
		"count": len(docs),
	})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	// multipart framing needs a little room above the file limit
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes+1<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required (field: file)")
		return
	}
	defer file.Close()
	doc, err := s.app.UploadDocument(r.Context(), header.Filename, file, header.Size)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

// /api/pdfs/{id}, /api/pdfs/{id}/file or /api/pdfs/{id}/summary
func (s *Server) handlePDFByID(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/api/pdfs/" {
		s.handlePDFs(w, r)
		return
	}
	rawID, sub := pathParts(r, "/api/pdfs/")
	id, ok := parseID(rawID)
	if !ok {
		notFound(w, "not found")
		return
	}
	switch sub {
	case "":
		switch r.Method {
		case http.MethodGet:
			doc, err := s.app.GetDocument(r.Context(), id)
			if err != nil {
				writeAppError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, doc)
		case http.MethodDelete:
			if err := s.app.DeleteDocument(r.Context(), id); err != nil {
				writeAppError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
		default:
			methodNotAllowed(w)
		}
	case "file":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		s.handleDocumentFile(w, r, id)
	case "summary":
		switch r.Method {
		case http.MethodGet:
			sum, err := s.app.GetSummary(r.Context(), id)
			if err != nil {
				writeAppError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, sum)
		case http.MethodPost:
			s.limited(func(w http.ResponseWriter, r *http.Request) {
				sum, err := s.app.GenerateSummary(r.Context(), id)
				if err != nil {
					writeAppError(w, r, err)
					return
				}
				writeJSON(w, http.StatusOK, sum)
			}).ServeHTTP(w, r)
		default:
			methodNotAllowed(w)
		}
	default:
		notFound(w, "not found")
	}
}

func (s *Server) handleDocumentFile(w http.ResponseWriter, r *http.Request, id int64) {
	rc, doc, err := s.app.OpenDocumentFile(r.Context(), id)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	defer rc.Close()
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": doc.OriginalFilename}))
	if doc.SizeBytes > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(doc.SizeBytes, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		util.LoggerFromContext(r.Context()).Warn("stream document failed", "document_id", id, "err", err)
	}
}
