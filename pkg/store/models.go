package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type DocumentModel struct {
	ID               int64     `gorm:"primaryKey;autoIncrement"`
	Filename         string    `gorm:"size:255;not null"`
	OriginalFilename string    `gorm:"size:255;not null"`
	StoragePath      string    `gorm:"size:500;not null"`
	SizeBytes        int64     `gorm:"not null"`
	PageCount        int       `gorm:"not null"`
	IsScanned        bool      `gorm:"not null;default:false"`
	UploadedAt       time.Time `gorm:"not null;index"`
	LastAccessedAt   time.Time `gorm:"not null"`

	Conversations []ConversationModel `gorm:"foreignKey:DocumentID;constraint:OnDelete:CASCADE"`
	Annotations   []AnnotationModel   `gorm:"foreignKey:DocumentID;constraint:OnDelete:CASCADE"`
	Summary       *SummaryModel       `gorm:"foreignKey:DocumentID;constraint:OnDelete:CASCADE"`
}

func (DocumentModel) TableName() string { return "documents" }

type ConversationModel struct {
	ID         int64     `gorm:"primaryKey;autoIncrement"`
	DocumentID int64     `gorm:"not null;index"`
	Title      string    `gorm:"size:255"`
	CreatedAt  time.Time `gorm:"not null"`
	UpdatedAt  time.Time `gorm:"not null;index"`

	Messages []MessageModel `gorm:"foreignKey:ConversationID;constraint:OnDelete:CASCADE"`
}

func (ConversationModel) TableName() string { return "conversations" }

type MessageModel struct {
	ID             int64          `gorm:"primaryKey;autoIncrement"`
	ConversationID int64          `gorm:"not null;index:idx_messages_conversation_created,priority:1"`
	Role           string         `gorm:"size:20;not null"`
	Content        string         `gorm:"type:text;not null"`
	SelectedText   *string        `gorm:"type:text"`
	PageNumber     *int           `gorm:"column:page_number"`
	Coordinates    datatypes.JSON `gorm:"column:coordinates"`
	ActionType     *string        `gorm:"size:50"`
	CreatedAt      time.Time      `gorm:"not null;index:idx_messages_conversation_created,priority:2"`
}

func (MessageModel) TableName() string { return "messages" }

type AnnotationModel struct {
	ID          int64          `gorm:"primaryKey;autoIncrement"`
	DocumentID  int64          `gorm:"not null;index"`
	PageNumber  int            `gorm:"not null"`
	Kind        string         `gorm:"size:20;not null"`
	TextContent *string        `gorm:"type:text"`
	Coordinates datatypes.JSON `gorm:"not null"`
	Color       string         `gorm:"size:20"`
	NoteText    *string        `gorm:"type:text"`
	CreatedAt   time.Time      `gorm:"not null"`
	UpdatedAt   time.Time      `gorm:"not null"`
}

func (AnnotationModel) TableName() string { return "annotations" }

type SummaryModel struct {
	ID          int64     `gorm:"primaryKey;autoIncrement"`
	DocumentID  int64     `gorm:"not null;uniqueIndex"`
	SummaryText string    `gorm:"type:text;not null"`
	GeneratedAt time.Time `gorm:"not null"`
}

func (SummaryModel) TableName() string { return "summaries" }
