package app

import (
	"context"
	"encoding/json"
	"errors"

	"examreviewer/pkg/domain"
	"examreviewer/pkg/store"
)

// MessageInput is a message to append to a conversation.
type MessageInput struct {
	ConversationID int64
	Role           domain.Role
	Content        string
	SelectedText   *string
	PageNumber     *int
	Coordinates    json.RawMessage
	ActionType     *domain.ActionType
}

func conversationTitle(doc domain.Document) string {
	return "Conversation with " + doc.OriginalFilename
}

// GetOrCreateActiveConversation returns the document's most recently updated
// conversation, creating one when none exists.
func (a *App) GetOrCreateActiveConversation(ctx context.Context, documentID int64) (domain.Conversation, error) {
	doc, err := a.requireDocument(documentID)
	if err != nil {
		return domain.Conversation{}, err
	}
	return a.activeConversation(ctx, doc)
}

func (a *App) activeConversation(ctx context.Context, doc domain.Document) (domain.Conversation, error) {
	conv, created, err := a.store.GetOrCreateActiveConversation(doc.ID, conversationTitle(doc))
	if err != nil {
		if errors.Is(err, store.ErrDocumentNotFound) {
			return domain.Conversation{}, notFound("document", doc.ID)
		}
		return domain.Conversation{}, storageErr("get or create conversation", err)
	}
	if created {
		a.logger(ctx).Info("conversation started", "document_id", doc.ID, "conversation_id", conv.ID)
	}
	return conv, nil
}

// AppendMessage stores one message and bumps the conversation's updated_at
// in the same transaction.
func (a *App) AppendMessage(ctx context.Context, in MessageInput) (domain.Message, error) {
	if !in.Role.Valid() {
		return domain.Message{}, invalid("role", "must be user or assistant")
	}
	if in.Content == "" {
		return domain.Message{}, invalid("content", "required")
	}
	coords, err := normalizeCoordinates(in.Coordinates)
	if err != nil {
		return domain.Message{}, err
	}
	msg, err := a.store.AppendMessage(domain.Message{
		ConversationID: in.ConversationID,
		Role:           in.Role,
		Content:        in.Content,
		SelectedText:   in.SelectedText,
		PageNumber:     in.PageNumber,
		Coordinates:    coords,
		ActionType:     in.ActionType,
		CreatedAt:      a.now(),
	})
	if err != nil {
		if errors.Is(err, store.ErrConversationNotFound) {
			return domain.Message{}, notFound("conversation", in.ConversationID)
		}
		return domain.Message{}, storageErr("append message", err)
	}
	return msg, nil
}

// RecentHistory returns up to limit messages, oldest first. A non-positive
// limit uses the configured history window.
func (a *App) RecentHistory(ctx context.Context, conversationID int64, limit int) ([]domain.Message, error) {
	if _, err := a.requireConversation(conversationID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = a.historyLimit
	}
	msgs, err := a.store.RecentMessages(conversationID, limit)
	if err != nil {
		return nil, storageErr("recent messages", err)
	}
	return msgs, nil
}

// FullHistory returns the conversation and all of its messages, oldest first.
func (a *App) FullHistory(ctx context.Context, conversationID int64) (domain.ConversationHistory, error) {
	conv, err := a.requireConversation(conversationID)
	if err != nil {
		return domain.ConversationHistory{}, err
	}
	msgs, err := a.store.ListMessages(conversationID)
	if err != nil {
		return domain.ConversationHistory{}, storageErr("list messages", err)
	}
	return domain.ConversationHistory{Conversation: conv, Messages: nonNil(msgs)}, nil
}

// ListConversations returns every conversation of a document with its messages.
func (a *App) ListConversations(ctx context.Context, documentID int64) ([]domain.ConversationHistory, error) {
	if _, err := a.requireDocument(documentID); err != nil {
		return nil, err
	}
	convs, err := a.store.ListConversations(documentID)
	if err != nil {
		return nil, storageErr("list conversations", err)
	}
	out := make([]domain.ConversationHistory, 0, len(convs))
	for _, conv := range convs {
		msgs, err := a.store.ListMessages(conv.ID)
		if err != nil {
			return nil, storageErr("list messages", err)
		}
		out = append(out, domain.ConversationHistory{Conversation: conv, Messages: nonNil(msgs)})
	}
	return out, nil
}

// DeleteConversation removes a conversation and its messages.
func (a *App) DeleteConversation(ctx context.Context, conversationID int64) error {
	deleted, err := a.store.DeleteConversation(conversationID)
	if err != nil {
		return storageErr("delete conversation", err)
	}
	if !deleted {
		return notFound("conversation", conversationID)
	}
	return nil
}

func (a *App) requireConversation(id int64) (domain.Conversation, error) {
	conv, ok, err := a.store.GetConversation(id)
	if err != nil {
		return domain.Conversation{}, storageErr("get conversation", err)
	}
	if !ok {
		return domain.Conversation{}, notFound("conversation", id)
	}
	return conv, nil
}

func nonNil(msgs []domain.Message) []domain.Message {
	if msgs == nil {
		return []domain.Message{}
	}
	return msgs
}

// normalizeCoordinates drops a JSON null and rejects anything that is not
// a JSON object.
func normalizeCoordinates(raw json.RawMessage) (json.RawMessage, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, invalid("coordinates", "must be a JSON object")
	}
	return raw, nil
}
