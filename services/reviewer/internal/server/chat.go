package server

import (
	"net/http"

	"examreviewer/services/reviewer/internal/app"
)

func (s *Server) handleChatSend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req chatRequest
	if msg, ok := decodeJSON(w, r, &req); !ok {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	reply, err := s.app.SendMessage(r.Context(), app.ChatInput{
		DocumentID:   req.PDFID,
		Message:      req.Message,
		SelectedText: req.SelectedText,
		PageNumber:   req.PageNumber,
		Coordinates:  req.Coordinates,
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) handleExplain(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req explainRequest
	if msg, ok := decodeJSON(w, r, &req); !ok {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	text, err := s.app.Explain(r.Context(), app.ExplainInput{
		DocumentID:   req.PDFID,
		SelectedText: req.SelectedText,
		PageNumber:   req.PageNumber,
		CustomPrompt: req.CustomPrompt,
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"explanation": text})
}

func (s *Server) handleTranslate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req translateRequest
	if msg, ok := decodeJSON(w, r, &req); !ok {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	text, err := s.app.Translate(r.Context(), req.PDFID, req.SelectedText, req.TargetLanguage)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"translation": text})
}

func (s *Server) handleSummarize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req summarizeRequest
	if msg, ok := decodeJSON(w, r, &req); !ok {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	text, err := s.app.SummarizeSelection(r.Context(), req.PDFID, req.SelectedText)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"summary": text})
}

func (s *Server) handleExplainFormula(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req formulaRequest
	if msg, ok := decodeJSON(w, r, &req); !ok {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	text, err := s.app.ExplainFormula(r.Context(), app.FormulaInput{
		DocumentID:   req.PDFID,
		SelectedText: req.SelectedText,
		ImageBase64:  req.ImageBase64,
		PageNumber:   req.PageNumber,
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"explanation": text})
}

// /api/chat/{pdf_id}/conversations or /api/chat/{conversation_id}
func (s *Server) handleChatByID(w http.ResponseWriter, r *http.Request) {
	rawID, sub := pathParts(r, "/api/chat/")
	id, ok := parseID(rawID)
	if !ok {
		notFound(w, "not found")
		return
	}
	switch sub {
	case "conversations":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		convs, err := s.app.ListConversations(r.Context(), id)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items": convs,
			"count": len(convs),
		})
	case "":
		if r.Method != http.MethodDelete {
			methodNotAllowed(w)
			return
		}
		if err := s.app.DeleteConversation(r.Context(), id); err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		notFound(w, "not found")
	}
}

// /api/conversations/{id}/messages
func (s *Server) handleConversationByID(w http.ResponseWriter, r *http.Request) {
	rawID, sub := pathParts(r, "/api/conversations/")
	id, ok := parseID(rawID)
	if !ok || sub != "messages" {
		notFound(w, "not found")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	history, err := s.app.FullHistory(r.Context(), id)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}
