package app

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"examreviewer/pkg/ai"
	"examreviewer/pkg/domain"
)

// ChatInput is one user turn about a document.
type ChatInput struct {
	DocumentID   int64
	Message      string
	SelectedText *string
	PageNumber   *int
	Coordinates  json.RawMessage
}

// ChatReply identifies both stored turns and carries the model's answer.
type ChatReply struct {
	ConversationID int64  `json:"conversation_id"`
	MessageID      int64  `json:"message_id"`
	UserMessageID  int64  `json:"user_message_id"`
	Response       string `json:"response"`
}

// SendMessage answers a question in the document's active conversation.
// The user turn is stored before the model is called; if generation fails it
// stays stored without a reply and the returned GenerationError names it.
func (a *App) SendMessage(ctx context.Context, in ChatInput) (ChatReply, error) {
	message := strings.TrimSpace(in.Message)
	if message == "" {
		return ChatReply{}, invalid("message", "required")
	}
	if in.PageNumber != nil && *in.PageNumber < 1 {
		return ChatReply{}, invalid("page_number", "must be positive")
	}
	coords, err := normalizeCoordinates(in.Coordinates)
	if err != nil {
		return ChatReply{}, err
	}
	doc, err := a.requireDocument(in.DocumentID)
	if err != nil {
		return ChatReply{}, err
	}
	conv, err := a.activeConversation(ctx, doc)
	if err != nil {
		return ChatReply{}, err
	}
	history, err := a.RecentHistory(ctx, conv.ID, a.historyLimit)
	if err != nil {
		return ChatReply{}, err
	}
	pdf, err := a.documentAttachment(ctx, doc)
	if err != nil {
		return ChatReply{}, err
	}

	chat := domain.ActionChat
	userMsg, err := a.AppendMessage(ctx, MessageInput{
		ConversationID: conv.ID,
		Role:           domain.RoleUser,
		Content:        message,
		SelectedText:   in.SelectedText,
		PageNumber:     in.PageNumber,
		Coordinates:    coords,
		ActionType:     &chat,
	})
	if err != nil {
		return ChatReply{}, err
	}

	selected := ""
	if in.SelectedText != nil {
		selected = *in.SelectedText
	}
	answer, err := a.generator.Generate(ctx, ai.Request{
		Prompt:      chatPrompt(message, history, selected),
		Attachments: []ai.Attachment{pdf},
		MaxTokens:   a.maxTokens,
	})
	if err != nil {
		a.logger(ctx).Warn("chat generation failed", "document_id", doc.ID, "conversation_id", conv.ID, "user_message_id", userMsg.ID, "err", err)
		return ChatReply{}, &GenerationError{ConversationID: conv.ID, UserMessageID: userMsg.ID, Err: err}
	}

	assistantMsg, err := a.AppendMessage(ctx, MessageInput{
		ConversationID: conv.ID,
		Role:           domain.RoleAssistant,
		Content:        answer,
		ActionType:     &chat,
	})
	if err != nil {
		return ChatReply{}, err
	}
	return ChatReply{
		ConversationID: conv.ID,
		MessageID:      assistantMsg.ID,
		UserMessageID:  userMsg.ID,
		Response:       answer,
	}, nil
}

// ExplainInput asks for an explanation of a selection.
type ExplainInput struct {
	DocumentID   int64
	SelectedText string
	PageNumber   int
	CustomPrompt string
}

// Explain is not persisted.
func (a *App) Explain(ctx context.Context, in ExplainInput) (string, error) {
	selected, err := requireSelection(in.SelectedText)
	if err != nil {
		return "", err
	}
	if in.PageNumber < 1 {
		return "", invalid("page_number", "must be positive")
	}
	return a.assist(ctx, in.DocumentID, explainPrompt(selected, in.PageNumber, in.CustomPrompt), nil)
}

// Translate renders the selection in targetLanguage, or the configured
// default language when empty.
func (a *App) Translate(ctx context.Context, documentID int64, selectedText, targetLanguage string) (string, error) {
	selected, err := requireSelection(selectedText)
	if err != nil {
		return "", err
	}
	language := strings.TrimSpace(targetLanguage)
	if language == "" {
		language = a.targetLanguage
	}
	return a.assist(ctx, documentID, translatePrompt(selected, language), nil)
}

// SummarizeSelection lists the key points of the selection.
func (a *App) SummarizeSelection(ctx context.Context, documentID int64, selectedText string) (string, error) {
	selected, err := requireSelection(selectedText)
	if err != nil {
		return "", err
	}
	return a.assist(ctx, documentID, summarizeSelectionPrompt(selected), nil)
}

// FormulaInput carries a formula as text, as a screenshot, or both.
type FormulaInput struct {
	DocumentID   int64
	SelectedText string
	// ImageBase64 is raw base64 or a data URI.
	ImageBase64 string
	PageNumber  int
}

// ExplainFormula requires selected text or an image.
func (a *App) ExplainFormula(ctx context.Context, in FormulaInput) (string, error) {
	selected := strings.TrimSpace(in.SelectedText)
	var image *ai.Attachment
	if strings.TrimSpace(in.ImageBase64) != "" {
		img, err := decodeImage(in.ImageBase64)
		if err != nil {
			return "", err
		}
		image = &img
	}
	if selected == "" && image == nil {
		return "", invalid("selected_text", "selected text or image required")
	}
	var extra []ai.Attachment
	if image != nil {
		extra = append(extra, *image)
	}
	return a.assist(ctx, in.DocumentID, formulaPrompt(selected, in.PageNumber, image != nil), extra)
}

func (a *App) assist(ctx context.Context, documentID int64, prompt string, extra []ai.Attachment) (string, error) {
	doc, err := a.requireDocument(documentID)
	if err != nil {
		return "", err
	}
	pdf, err := a.documentAttachment(ctx, doc)
	if err != nil {
		return "", err
	}
	text, err := a.generator.Generate(ctx, ai.Request{
		Prompt:      prompt,
		Attachments: append([]ai.Attachment{pdf}, extra...),
		MaxTokens:   a.maxTokens,
	})
	if err != nil {
		return "", &GenerationError{Err: err}
	}
	return text, nil
}

// generateWithDocument sends prompt with the stored PDF attached. Storage
// failures come back as StorageError, model failures as the raw error.
func (a *App) generateWithDocument(ctx context.Context, doc domain.Document, prompt string, maxTokens int) (string, error) {
	pdf, err := a.documentAttachment(ctx, doc)
	if err != nil {
		return "", err
	}
	return a.generator.Generate(ctx, ai.Request{
		Prompt:      prompt,
		Attachments: []ai.Attachment{pdf},
		MaxTokens:   maxTokens,
	})
}

func (a *App) documentAttachment(ctx context.Context, doc domain.Document) (ai.Attachment, error) {
	rc, err := a.objects.Get(ctx, doc.StoragePath)
	if err != nil {
		return ai.Attachment{}, storageErr("read file", err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return ai.Attachment{}, storageErr("read file", err)
	}
	return ai.Attachment{MIMEType: pdfContentType, Data: data}, nil
}

func requireSelection(text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", invalid("selected_text", "required")
	}
	return text, nil
}

func decodeImage(value string) (ai.Attachment, error) {
	value = strings.TrimSpace(value)
	if strings.HasPrefix(value, "data:") {
		comma := strings.IndexByte(value, ',')
		if comma < 0 {
			return ai.Attachment{}, invalid("image_base64", "malformed data URI")
		}
		value = value[comma+1:]
	}
	data, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return ai.Attachment{}, invalid("image_base64", fmt.Sprintf("invalid base64: %v", err))
	}
	mimeType := http.DetectContentType(data)
	if !strings.HasPrefix(mimeType, "image/") {
		return ai.Attachment{}, invalid("image_base64", "not an image")
	}
	return ai.Attachment{MIMEType: mimeType, Data: data}, nil
}
