package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"examreviewer/internal/ratelimit"
	"examreviewer/internal/util"
	"examreviewer/services/reviewer/internal/app"
)

const (
	serviceName    = "reviewer"
	serviceVersion = "1.0.0"
)

// RateLimiter is satisfied by *ratelimit.FixedWindowLimiter.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (ratelimit.Decision, error)
}

// Config wires required dependencies for the HTTP server.
type Config struct {
	App                *app.App
	Limiter            RateLimiter
	TrustedProxies     *util.TrustedProxies
	CORSAllowedOrigins []string
	MaxUploadBytes     int64
}

// Server exposes HTTP endpoints for the reviewer service.
type Server struct {
	app            *app.App
	limiter        RateLimiter
	trusted        *util.TrustedProxies
	cors           *util.CORS
	frameOrigins   []string
	mux            *http.ServeMux
	maxUploadBytes int64
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app required")
	}
	maxUploadBytes := cfg.MaxUploadBytes
	if maxUploadBytes <= 0 {
		maxUploadBytes = cfg.App.MaxUploadBytes()
	}
	s := &Server{
		app:            cfg.App,
		limiter:        cfg.Limiter,
		trusted:        cfg.TrustedProxies,
		cors:           util.NewCORS(cfg.CORSAllowedOrigins),
		frameOrigins:   cfg.CORSAllowedOrigins,
		mux:            http.NewServeMux(),
		maxUploadBytes: maxUploadBytes,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(
		util.WithRequestLog(serviceName, s.trusted,
			util.SecurityHeaders(s.frameOrigins)(
				s.cors.Wrap(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/", s.handleRoot)
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// documents
	s.mux.HandleFunc("/api/pdfs", s.handlePDFs)
	s.mux.HandleFunc("/api/pdfs/upload", s.handleUpload)
	s.mux.HandleFunc("/api/pdfs/", s.handlePDFByID)

	// chat and selection assists
	s.mux.Handle("/api/chat/send", s.limited(s.handleChatSend))
	s.mux.Handle("/api/chat/explain", s.limited(s.handleExplain))
	s.mux.Handle("/api/chat/translate", s.limited(s.handleTranslate))
	s.mux.Handle("/api/chat/summarize", s.limited(s.handleSummarize))
	s.mux.Handle("/api/chat/explain-formula", s.limited(s.handleExplainFormula))
	s.mux.Handle("/api/formula/explain", s.limited(s.handleExplainFormula))
	s.mux.HandleFunc("/api/chat/", s.handleChatByID)
	s.mux.HandleFunc("/api/conversations/", s.handleConversationByID)

	// annotations
	s.mux.HandleFunc("/api/annotations", s.handleAnnotations)
	s.mux.HandleFunc("/api/annotations/", s.handleAnnotationByID)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		notFound(w, "not found")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Final Exam Reviewer API",
		"version": serviceVersion,
		"status":  "running",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// parseID parses a positive integer path segment.
func parseID(raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// pathParts splits the path after prefix into at most two segments.
func pathParts(r *http.Request, prefix string) (string, string) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], parts[1]
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusNotFound, msg)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

// generationErrorResponse names the unanswered chat turn, when there is one.
type generationErrorResponse struct {
	errorResponse
	ConversationID int64 `json:"conversation_id,omitempty"`
	UserMessageID  int64 `json:"user_message_id,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, newErrorResponse(w, status, msg))
}

func newErrorResponse(w http.ResponseWriter, status int, msg string) errorResponse {
	return errorResponse{
		Error:     msg,
		Code:      errorCodeForReviewer(status, msg),
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	}
}

// writeAppError maps façade errors onto status codes.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validation *app.ValidationError
		missing    *app.NotFoundError
		generation *app.GenerationError
		maxBytes   *http.MaxBytesError
	)
	switch {
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, validation.Error())
	case errors.As(err, &maxBytes):
		writeError(w, http.StatusRequestEntityTooLarge, "file too large")
	case errors.As(err, &missing):
		if missing.Kind == "summary" {
			notFound(w, "summary not generated yet")
			return
		}
		notFound(w, missing.Kind+" not found")
	case errors.As(err, &generation):
		util.LoggerFromContext(r.Context()).Error("generation failed", "err", generation.Err)
		writeJSON(w, http.StatusBadGateway, generationErrorResponse{
			errorResponse:  newErrorResponse(w, http.StatusBadGateway, "generation failed"),
			ConversationID: generation.ConversationID,
			UserMessageID:  generation.UserMessageID,
		})
	default:
		util.LoggerFromContext(r.Context()).Error("request failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func errorCodeForReviewer(status int, msg string) string {
	message := strings.ToLower(strings.TrimSpace(msg))
	switch {
	case message == "document not found":
		return "DOCUMENT_NOT_FOUND"
	case message == "conversation not found":
		return "CONVERSATION_NOT_FOUND"
	case message == "annotation not found":
		return "ANNOTATION_NOT_FOUND"
	case message == "summary not generated yet":
		return "SUMMARY_NOT_FOUND"
	case message == "file too large", strings.Contains(message, "file too large"):
		return "DOCUMENT_FILE_TOO_LARGE"
	case strings.Contains(message, "file is required"):
		return "DOCUMENT_FILE_REQUIRED"
	case strings.Contains(message, "only pdf files"):
		return "DOCUMENT_UNSUPPORTED_FILE_TYPE"
	case message == "invalid form data":
		return "DOCUMENT_INVALID_UPLOAD_FORM"
	case message == "generation failed":
		return "GENERATION_FAILED"
	case message == "rate limit exceeded":
		return "SYSTEM_RATE_LIMITED"
	case message == "method not allowed":
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case message == "not found":
		return "SYSTEM_NOT_FOUND"
	}

	switch status {
	case http.StatusBadRequest:
		return "REQUEST_INVALID"
	case http.StatusNotFound:
		return "SYSTEM_NOT_FOUND"
	case http.StatusMethodNotAllowed:
		return "SYSTEM_METHOD_NOT_ALLOWED"
	case http.StatusRequestEntityTooLarge:
		return "DOCUMENT_FILE_TOO_LARGE"
	case http.StatusTooManyRequests:
		return "SYSTEM_RATE_LIMITED"
	case http.StatusBadGateway:
		return "GENERATION_FAILED"
	default:
		if status >= http.StatusInternalServerError {
			return "SYSTEM_INTERNAL_ERROR"
		}
		return "REQUEST_ERROR"
	}
}
