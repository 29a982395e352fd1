package domain

import (
	"encoding/json"
	"time"
)

// Role is the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is a known message role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// AnnotationKind distinguishes highlights from notes.
type AnnotationKind string

const (
	KindHighlight AnnotationKind = "highlight"
	KindNote      AnnotationKind = "note"
)

// Valid reports whether k is a known annotation kind.
func (k AnnotationKind) Valid() bool {
	return k == KindHighlight || k == KindNote
}

// ActionType tags a message with the assist that produced it.
type ActionType string

const (
	ActionChat    ActionType = "chat"
	ActionExplain ActionType = "explain"
)

// DefaultAnnotationColor applies when an annotation is created without a color.
const DefaultAnnotationColor = "#FFFF00"

// Document is an uploaded PDF and its file metadata.
type Document struct {
	ID               int64     `json:"id"`
	Filename         string    `json:"filename"`
	OriginalFilename string    `json:"original_filename"`
	StoragePath      string    `json:"storage_path"`
	SizeBytes        int64     `json:"size_bytes"`
	PageCount        int       `json:"page_count"`
	IsScanned        bool      `json:"is_scanned"`
	UploadedAt       time.Time `json:"uploaded_at"`
	LastAccessedAt   time.Time `json:"last_accessed_at"`
}

// Conversation is a chat thread about one document.
type Conversation struct {
	ID         int64     `json:"id"`
	DocumentID int64     `json:"document_id"`
	Title      string    `json:"title"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Message is one turn in a conversation.
type Message struct {
	ID             int64           `json:"id"`
	ConversationID int64           `json:"conversation_id"`
	Role           Role            `json:"role"`
	Content        string          `json:"content"`
	SelectedText   *string         `json:"selected_text,omitempty"`
	PageNumber     *int            `json:"page_number,omitempty"`
	Coordinates    json.RawMessage `json:"coordinates,omitempty"`
	ActionType     *ActionType     `json:"action_type,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// ConversationHistory is a conversation together with its chronological messages.
type ConversationHistory struct {
	Conversation
	Messages []Message `json:"messages"`
}

// Annotation is a highlight or note placed on a document page.
type Annotation struct {
	ID          int64           `json:"id"`
	DocumentID  int64           `json:"document_id"`
	PageNumber  int             `json:"page_number"`
	Kind        AnnotationKind  `json:"kind"`
	TextContent *string         `json:"text_content,omitempty"`
	Coordinates json.RawMessage `json:"coordinates"`
	Color       string          `json:"color"`
	NoteText    *string         `json:"note_text,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// AnnotationPatch carries a partial annotation update. Nil fields are left untouched.
type AnnotationPatch struct {
	PageNumber  *int
	Kind        *AnnotationKind
	TextContent *string
	Coordinates json.RawMessage
	Color       *string
	NoteText    *string
}

// Empty reports whether the patch changes nothing.
func (p AnnotationPatch) Empty() bool {
	return p.PageNumber == nil && p.Kind == nil && p.TextContent == nil &&
		len(p.Coordinates) == 0 && p.Color == nil && p.NoteText == nil
}

// Summary is the generated overview of a document, stored at most once.
type Summary struct {
	ID          int64     `json:"id"`
	DocumentID  int64     `json:"document_id"`
	SummaryText string    `json:"summary_text"`
	GeneratedAt time.Time `json:"generated_at"`
}
