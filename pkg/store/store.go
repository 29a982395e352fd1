package store

import (
	"errors"
	"time"

	"examreviewer/pkg/domain"
)

var (
	// ErrDocumentNotFound is returned when a write references a missing document.
	ErrDocumentNotFound = errors.New("document not found")
	// ErrConversationNotFound is returned when a write references a missing conversation.
	ErrConversationNotFound = errors.New("conversation not found")
)

// DefaultHistoryLimit is the number of messages handed to the model as context.
const DefaultHistoryLimit = 5

// Store defines persistence operations for documents and their children.
type Store interface {
	// documents
	CreateDocument(domain.Document) (domain.Document, error)
	GetDocument(id int64) (domain.Document, bool, error)
	ListDocuments() ([]domain.Document, error)
	TouchDocument(id int64, at time.Time) error
	DeleteDocument(id int64) (bool, error)

	// conversations
	GetOrCreateActiveConversation(documentID int64, defaultTitle string) (domain.Conversation, bool, error)
	GetConversation(id int64) (domain.Conversation, bool, error)
	ListConversations(documentID int64) ([]domain.Conversation, error)
	DeleteConversation(id int64) (bool, error)

	// messages
	AppendMessage(domain.Message) (domain.Message, error)
	RecentMessages(conversationID int64, limit int) ([]domain.Message, error)
	ListMessages(conversationID int64) ([]domain.Message, error)

	// annotations
	CreateAnnotation(domain.Annotation) (domain.Annotation, error)
	ListAnnotations(documentID int64) ([]domain.Annotation, error)
	UpdateAnnotation(id int64, patch domain.AnnotationPatch) (domain.Annotation, bool, error)
	DeleteAnnotation(id int64) (bool, error)

	// summaries
	GetSummary(documentID int64) (domain.Summary, bool, error)
	SaveSummaryIfAbsent(domain.Summary) (domain.Summary, error)
}
