package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	_ "modernc.org/sqlite"

	"examreviewer/pkg/domain"
)

const migrateLockID int64 = 73217321

type GormStoreOptions struct {
	LogLevel     gormlogger.LogLevel
	MaxOpenConns int
}

type GormStoreOption func(*GormStoreOptions)

// WithLogLevel sets the gorm logger level (defaults to warn).
func WithLogLevel(level gormlogger.LogLevel) GormStoreOption {
	return func(opts *GormStoreOptions) {
		opts.LogLevel = level
	}
}

// WithMaxOpenConns caps the connection pool. SQLite always uses a single connection.
func WithMaxOpenConns(n int) GormStoreOption {
	return func(opts *GormStoreOptions) {
		opts.MaxOpenConns = n
	}
}

// GormStore implements Store using GORM over Postgres or SQLite.
type GormStore struct {
	db      *gorm.DB
	dialect string
}

// NewGormStore opens the DB and runs auto-migrations.
// Postgres DSNs (postgres://, postgresql://, key=value) select the postgres driver;
// anything else is treated as a SQLite database path.
func NewGormStore(dsn string, options ...GormStoreOption) (*GormStore, error) {
	opts := GormStoreOptions{LogLevel: gormlogger.Warn}
	for _, option := range options {
		if option != nil {
			option(&opts)
		}
	}
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("database dsn required")
	}

	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  opts.LogLevel,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	dialector, dialect := openDialector(dsn)
	if dialect == "sqlite" {
		if err := ensureSQLiteDir(dsn); err != nil {
			return nil, err
		}
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:  gormLog,
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql db: %w", err)
	}
	switch {
	case dialect == "sqlite":
		// one writer at a time avoids SQLITE_BUSY on read-then-write transactions
		sqlDB.SetMaxOpenConns(1)
	case opts.MaxOpenConns > 0:
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}

	migrate := func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&DocumentModel{}, &ConversationModel{}, &MessageModel{}, &AnnotationModel{}, &SummaryModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}
	if dialect == "postgres" {
		err = withMigrationLock(db, migrate)
	} else {
		err = migrate(db)
	}
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return &GormStore{db: db, dialect: dialect}, nil
}

func openDialector(dsn string) (gorm.Dialector, string) {
	lower := strings.ToLower(dsn)
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") || strings.Contains(lower, "host=") {
		return postgres.Open(dsn), "postgres"
	}
	path := strings.TrimPrefix(dsn, "sqlite://")
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	path += sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	return sqlite.New(sqlite.Config{DriverName: "sqlite", DSN: path}), "sqlite"
}

func ensureSQLiteDir(dsn string) error {
	path, _, _ := strings.Cut(strings.TrimPrefix(dsn, "sqlite://"), "?")
	if path == "" || path == ":memory:" || strings.HasPrefix(path, "file:") {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create sqlite dir: %w", err)
	}
	return nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateDocument inserts document metadata.
func (s *GormStore) CreateDocument(d domain.Document) (domain.Document, error) {
	now := time.Now().UTC()
	if d.UploadedAt.IsZero() {
		d.UploadedAt = now
	}
	if d.LastAccessedAt.IsZero() {
		d.LastAccessedAt = d.UploadedAt
	}
	model := documentToModel(d)
	if err := s.db.Create(&model).Error; err != nil {
		return domain.Document{}, err
	}
	return documentFromModel(model), nil
}

// GetDocument retrieves a document.
func (s *GormStore) GetDocument(id int64) (domain.Document, bool, error) {
	var model DocumentModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Document{}, false, nil
		}
		return domain.Document{}, false, err
	}
	return documentFromModel(model), true, nil
}

// ListDocuments returns documents, newest upload first.
func (s *GormStore) ListDocuments() ([]domain.Document, error) {
	var models []DocumentModel
	if err := s.db.Order("uploaded_at DESC").Order("id DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Document, 0, len(models))
	for _, m := range models {
		res = append(res, documentFromModel(m))
	}
	return res, nil
}

// TouchDocument records a read of the document or its file.
func (s *GormStore) TouchDocument(id int64, at time.Time) error {
	return s.db.Model(&DocumentModel{}).
		Where("id = ?", id).
		Update("last_accessed_at", at.UTC()).Error
}

// DeleteDocument removes a document and everything hanging off it in one transaction.
func (s *GormStore) DeleteDocument(id int64) (bool, error) {
	found := false
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&DocumentModel{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return nil
		}
		conversationIDs := tx.Model(&ConversationModel{}).Select("id").Where("document_id = ?", id)
		if err := tx.Where("conversation_id IN (?)", conversationIDs).Delete(&MessageModel{}).Error; err != nil {
			return err
		}
		if err := tx.Where("document_id = ?", id).Delete(&ConversationModel{}).Error; err != nil {
			return err
		}
		if err := tx.Where("document_id = ?", id).Delete(&AnnotationModel{}).Error; err != nil {
			return err
		}
		if err := tx.Where("document_id = ?", id).Delete(&SummaryModel{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&DocumentModel{}, "id = ?", id).Error; err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return found, nil
}

// GetOrCreateActiveConversation returns the most recently updated conversation of a
// document, creating one when none exists. Concurrent first calls may each create one.
func (s *GormStore) GetOrCreateActiveConversation(documentID int64, defaultTitle string) (domain.Conversation, bool, error) {
	var model ConversationModel
	created := false
	err := s.db.Transaction(func(tx *gorm.DB) error {
		err := tx.Where("document_id = ?", documentID).
			Order("updated_at DESC").
			Order("id DESC").
			First(&model).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := ensureDocument(tx, documentID); err != nil {
			return err
		}
		now := time.Now().UTC()
		model = ConversationModel{
			DocumentID: documentID,
			Title:      defaultTitle,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := tx.Create(&model).Error; err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return domain.Conversation{}, false, err
	}
	return conversationFromModel(model), created, nil
}

// GetConversation returns one conversation by ID.
func (s *GormStore) GetConversation(id int64) (domain.Conversation, bool, error) {
	var model ConversationModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Conversation{}, false, nil
		}
		return domain.Conversation{}, false, err
	}
	return conversationFromModel(model), true, nil
}

// ListConversations returns a document's conversations, most recently updated first.
func (s *GormStore) ListConversations(documentID int64) ([]domain.Conversation, error) {
	var models []ConversationModel
	if err := s.db.Where("document_id = ?", documentID).
		Order("updated_at DESC").
		Order("id DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	items := make([]domain.Conversation, 0, len(models))
	for _, model := range models {
		items = append(items, conversationFromModel(model))
	}
	return items, nil
}

// DeleteConversation removes a conversation and its messages.
func (s *GormStore) DeleteConversation(id int64) (bool, error) {
	found := false
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("conversation_id = ?", id).Delete(&MessageModel{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&ConversationModel{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		found = res.RowsAffected > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	return found, nil
}

// AppendMessage inserts a message and bumps the parent conversation's updated_at
// in the same transaction.
func (s *GormStore) AppendMessage(msg domain.Message) (domain.Message, error) {
	now := time.Now().UTC()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	model := messageToModel(msg)
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&ConversationModel{}).Where("id = ?", model.ConversationID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrConversationNotFound
		}
		if err := tx.Create(&model).Error; err != nil {
			return err
		}
		res := tx.Model(&ConversationModel{}).
			Where("id = ?", model.ConversationID).
			Update("updated_at", now)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrConversationNotFound
		}
		return nil
	})
	if err != nil {
		return domain.Message{}, err
	}
	return messageFromModel(model), nil
}

// RecentMessages returns the newest limit messages in chronological order.
func (s *GormStore) RecentMessages(conversationID int64, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	var models []MessageModel
	if err := s.db.Where("conversation_id = ?", conversationID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	msgs := make([]domain.Message, 0, len(models))
	for i := len(models) - 1; i >= 0; i-- {
		msgs = append(msgs, messageFromModel(models[i]))
	}
	return msgs, nil
}

// ListMessages returns every message of a conversation in chronological order.
func (s *GormStore) ListMessages(conversationID int64) ([]domain.Message, error) {
	var models []MessageModel
	if err := s.db.Where("conversation_id = ?", conversationID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	msgs := make([]domain.Message, 0, len(models))
	for _, model := range models {
		msgs = append(msgs, messageFromModel(model))
	}
	return msgs, nil
}

// CreateAnnotation inserts an annotation after confirming its document exists.
func (s *GormStore) CreateAnnotation(a domain.Annotation) (domain.Annotation, error) {
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = a.CreatedAt
	}
	model := annotationToModel(a)
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := ensureDocument(tx, model.DocumentID); err != nil {
			return err
		}
		return tx.Create(&model).Error
	})
	if err != nil {
		return domain.Annotation{}, err
	}
	return annotationFromModel(model), nil
}

// ListAnnotations returns a document's annotations ordered by page then creation.
func (s *GormStore) ListAnnotations(documentID int64) ([]domain.Annotation, error) {
	var models []AnnotationModel
	if err := s.db.Where("document_id = ?", documentID).
		Order("page_number ASC").
		Order("created_at ASC").
		Order("id ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	items := make([]domain.Annotation, 0, len(models))
	for _, model := range models {
		items = append(items, annotationFromModel(model))
	}
	return items, nil
}

// UpdateAnnotation applies the non-nil fields of patch.
func (s *GormStore) UpdateAnnotation(id int64, patch domain.AnnotationPatch) (domain.Annotation, bool, error) {
	var model AnnotationModel
	found := false
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&model, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		found = true
		updates := map[string]any{
			"updated_at": time.Now().UTC(),
		}
		if patch.PageNumber != nil {
			updates["page_number"] = *patch.PageNumber
		}
		if patch.Kind != nil {
			updates["kind"] = string(*patch.Kind)
		}
		if patch.TextContent != nil {
			updates["text_content"] = *patch.TextContent
		}
		if len(patch.Coordinates) > 0 {
			updates["coordinates"] = datatypes.JSON(patch.Coordinates)
		}
		if patch.Color != nil {
			updates["color"] = *patch.Color
		}
		if patch.NoteText != nil {
			updates["note_text"] = *patch.NoteText
		}
		if err := tx.Model(&AnnotationModel{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return err
		}
		return tx.First(&model, "id = ?", id).Error
	})
	if err != nil {
		return domain.Annotation{}, false, err
	}
	if !found {
		return domain.Annotation{}, false, nil
	}
	return annotationFromModel(model), true, nil
}

// DeleteAnnotation removes an annotation.
func (s *GormStore) DeleteAnnotation(id int64) (bool, error) {
	res := s.db.Delete(&AnnotationModel{}, "id = ?", id)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// GetSummary returns the stored summary of a document.
func (s *GormStore) GetSummary(documentID int64) (domain.Summary, bool, error) {
	var model SummaryModel
	if err := s.db.First(&model, "document_id = ?", documentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Summary{}, false, nil
		}
		return domain.Summary{}, false, err
	}
	return summaryFromModel(model), true, nil
}

// SaveSummaryIfAbsent stores a summary unless the document already has one and
// returns whichever row is stored.
func (s *GormStore) SaveSummaryIfAbsent(sum domain.Summary) (domain.Summary, error) {
	if sum.GeneratedAt.IsZero() {
		sum.GeneratedAt = time.Now().UTC()
	}
	model := summaryToModel(sum)
	var stored SummaryModel
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := ensureDocument(tx, model.DocumentID); err != nil {
			return err
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "document_id"}},
			DoNothing: true,
		}).Create(&model).Error; err != nil {
			return err
		}
		return tx.Where("document_id = ?", model.DocumentID).First(&stored).Error
	})
	if err != nil {
		return domain.Summary{}, err
	}
	return summaryFromModel(stored), nil
}

func ensureDocument(tx *gorm.DB, id int64) error {
	var count int64
	if err := tx.Model(&DocumentModel{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ErrDocumentNotFound
	}
	return nil
}

func documentToModel(d domain.Document) DocumentModel {
	return DocumentModel{
		ID:               d.ID,
		Filename:         d.Filename,
		OriginalFilename: d.OriginalFilename,
		StoragePath:      d.StoragePath,
		SizeBytes:        d.SizeBytes,
		PageCount:        d.PageCount,
		IsScanned:        d.IsScanned,
		UploadedAt:       d.UploadedAt.UTC(),
		LastAccessedAt:   d.LastAccessedAt.UTC(),
	}
}

func documentFromModel(m DocumentModel) domain.Document {
	return domain.Document{
		ID:               m.ID,
		Filename:         m.Filename,
		OriginalFilename: m.OriginalFilename,
		StoragePath:      m.StoragePath,
		SizeBytes:        m.SizeBytes,
		PageCount:        m.PageCount,
		IsScanned:        m.IsScanned,
		UploadedAt:       m.UploadedAt.UTC(),
		LastAccessedAt:   m.LastAccessedAt.UTC(),
	}
}

func conversationFromModel(m ConversationModel) domain.Conversation {
	return domain.Conversation{
		ID:         m.ID,
		DocumentID: m.DocumentID,
		Title:      m.Title,
		CreatedAt:  m.CreatedAt.UTC(),
		UpdatedAt:  m.UpdatedAt.UTC(),
	}
}

func messageToModel(msg domain.Message) MessageModel {
	var actionType *string
	if msg.ActionType != nil {
		value := string(*msg.ActionType)
		actionType = &value
	}
	return MessageModel{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		Role:           string(msg.Role),
		Content:        msg.Content,
		SelectedText:   msg.SelectedText,
		PageNumber:     msg.PageNumber,
		Coordinates:    jsonColumn(msg.Coordinates),
		ActionType:     actionType,
		CreatedAt:      msg.CreatedAt.UTC(),
	}
}

func messageFromModel(m MessageModel) domain.Message {
	var actionType *domain.ActionType
	if m.ActionType != nil {
		value := domain.ActionType(*m.ActionType)
		actionType = &value
	}
	return domain.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Role:           domain.Role(m.Role),
		Content:        m.Content,
		SelectedText:   m.SelectedText,
		PageNumber:     m.PageNumber,
		Coordinates:    rawJSON(m.Coordinates),
		ActionType:     actionType,
		CreatedAt:      m.CreatedAt.UTC(),
	}
}

func annotationToModel(a domain.Annotation) AnnotationModel {
	return AnnotationModel{
		ID:          a.ID,
		DocumentID:  a.DocumentID,
		PageNumber:  a.PageNumber,
		Kind:        string(a.Kind),
		TextContent: a.TextContent,
		Coordinates: jsonColumn(a.Coordinates),
		Color:       a.Color,
		NoteText:    a.NoteText,
		CreatedAt:   a.CreatedAt.UTC(),
		UpdatedAt:   a.UpdatedAt.UTC(),
	}
}

func annotationFromModel(m AnnotationModel) domain.Annotation {
	return domain.Annotation{
		ID:          m.ID,
		DocumentID:  m.DocumentID,
		PageNumber:  m.PageNumber,
		Kind:        domain.AnnotationKind(m.Kind),
		TextContent: m.TextContent,
		Coordinates: rawJSON(m.Coordinates),
		Color:       m.Color,
		NoteText:    m.NoteText,
		CreatedAt:   m.CreatedAt.UTC(),
		UpdatedAt:   m.UpdatedAt.UTC(),
	}
}

func summaryToModel(sum domain.Summary) SummaryModel {
	return SummaryModel{
		ID:          sum.ID,
		DocumentID:  sum.DocumentID,
		SummaryText: sum.SummaryText,
		GeneratedAt: sum.GeneratedAt.UTC(),
	}
}

func summaryFromModel(m SummaryModel) domain.Summary {
	return domain.Summary{
		ID:          m.ID,
		DocumentID:  m.DocumentID,
		SummaryText: m.SummaryText,
		GeneratedAt: m.GeneratedAt.UTC(),
	}
}

func jsonColumn(raw json.RawMessage) datatypes.JSON {
	if len(raw) == 0 {
		return nil
	}
	return datatypes.JSON(raw)
}

func rawJSON(col datatypes.JSON) json.RawMessage {
	if len(col) == 0 {
		return nil
	}
	return json.RawMessage(col)
}
