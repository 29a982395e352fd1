package store

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"examreviewer/pkg/domain"
)

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	s, err := NewGormStore(filepath.Join(t.TempDir(), "test.db"), WithLogLevel(gormlogger.Silent))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedDocument(t *testing.T, s *GormStore, name string) domain.Document {
	t.Helper()
	doc, err := s.CreateDocument(domain.Document{
		Filename:         name + "-stored.pdf",
		OriginalFilename: name + ".pdf",
		StoragePath:      "uploads/" + name + "-stored.pdf",
		SizeBytes:        1024,
		PageCount:        3,
	})
	if err != nil {
		t.Fatalf("create document: %v", err)
	}
	return doc
}

func TestCreateAndGetDocument(t *testing.T) {
	s := newTestStore(t)
	doc := seedDocument(t, s, "calculus")
	if doc.ID == 0 {
		t.Fatalf("expected assigned id")
	}
	if doc.UploadedAt.IsZero() || !doc.LastAccessedAt.Equal(doc.UploadedAt) {
		t.Fatalf("expected upload and access times set together, got %v / %v", doc.UploadedAt, doc.LastAccessedAt)
	}

	got, ok, err := s.GetDocument(doc.ID)
	if err != nil || !ok {
		t.Fatalf("get document: ok=%v err=%v", ok, err)
	}
	if got.OriginalFilename != "calculus.pdf" || got.PageCount != 3 {
		t.Fatalf("unexpected document: %+v", got)
	}

	if _, ok, err := s.GetDocument(doc.ID + 100); err != nil || ok {
		t.Fatalf("expected missing document, ok=%v err=%v", ok, err)
	}
}

func TestTouchDocumentUpdatesLastAccess(t *testing.T) {
	s := newTestStore(t)
	doc := seedDocument(t, s, "physics")
	later := doc.UploadedAt.Add(time.Hour)
	if err := s.TouchDocument(doc.ID, later); err != nil {
		t.Fatalf("touch: %v", err)
	}
	got, _, err := s.GetDocument(doc.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.LastAccessedAt.Equal(later) {
		t.Fatalf("expected last access %v, got %v", later, got.LastAccessedAt)
	}
	if !got.UploadedAt.Equal(doc.UploadedAt) {
		t.Fatalf("upload time should not change")
	}
}

func TestDeleteDocumentCascades(t *testing.T) {
	s := newTestStore(t)
	doc := seedDocument(t, s, "biology")
	other := seedDocument(t, s, "chemistry")

	conv, _, err := s.GetOrCreateActiveConversation(doc.ID, "Conversation with biology.pdf")
	if err != nil {
		t.Fatalf("conversation: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := s.AppendMessage(domain.Message{ConversationID: conv.ID, Role: domain.RoleUser, Content: "q"}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if _, err := s.CreateAnnotation(domain.Annotation{DocumentID: doc.ID, PageNumber: 1, Kind: domain.KindHighlight, Coordinates: json.RawMessage(`{"x":1}`), Color: domain.DefaultAnnotationColor}); err != nil {
		t.Fatalf("annotation: %v", err)
	}
	if _, err := s.SaveSummaryIfAbsent(domain.Summary{DocumentID: doc.ID, SummaryText: "cells"}); err != nil {
		t.Fatalf("summary: %v", err)
	}
	otherConv, _, err := s.GetOrCreateActiveConversation(other.ID, "Conversation with chemistry.pdf")
	if err != nil {
		t.Fatalf("other conversation: %v", err)
	}
	if _, err := s.AppendMessage(domain.Message{ConversationID: otherConv.ID, Role: domain.RoleUser, Content: "keep"}); err != nil {
		t.Fatalf("append other: %v", err)
	}

	found, err := s.DeleteDocument(doc.ID)
	if err != nil || !found {
		t.Fatalf("delete: found=%v err=%v", found, err)
	}

	var count int64
	for _, table := range []string{"documents", "conversations", "annotations", "summaries"} {
		if err := s.db.Table(table).Where(columnFor(table)+" = ?", doc.ID).Count(&count).Error; err != nil {
			t.Fatalf("count %s: %v", table, err)
		}
		if count != 0 {
			t.Fatalf("expected no %s rows for deleted document, got %d", table, count)
		}
	}
	if err := s.db.Model(&MessageModel{}).Where("conversation_id = ?", conv.ID).Count(&count).Error; err != nil {
		t.Fatalf("count messages: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected messages removed, got %d", count)
	}

	msgs, err := s.ListMessages(otherConv.ID)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("expected sibling document untouched, msgs=%d err=%v", len(msgs), err)
	}

	found, err = s.DeleteDocument(doc.ID)
	if err != nil || found {
		t.Fatalf("second delete should report missing, found=%v err=%v", found, err)
	}
}

func columnFor(table string) string {
	if table == "documents" {
		return "id"
	}
	return "document_id"
}

func TestRecentMessagesReturnsNewestInChronologicalOrder(t *testing.T) {
	s := newTestStore(t)
	doc := seedDocument(t, s, "history")
	conv, _, err := s.GetOrCreateActiveConversation(doc.ID, "t")
	if err != nil {
		t.Fatalf("conversation: %v", err)
	}
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	for i := 1; i <= 6; i++ {
		_, err := s.AppendMessage(domain.Message{
			ConversationID: conv.ID,
			Role:           domain.RoleUser,
			Content:        "m" + string(rune('0'+i)),
			CreatedAt:      base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	recent, err := s.RecentMessages(conv.ID, DefaultHistoryLimit)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 5 {
		t.Fatalf("expected 5 messages, got %d", len(recent))
	}
	for i, msg := range recent {
		want := "m" + string(rune('0'+i+2))
		if msg.Content != want {
			t.Fatalf("position %d: expected %s, got %s", i, want, msg.Content)
		}
	}

	all, err := s.ListMessages(conv.ID)
	if err != nil || len(all) != 6 || all[0].Content != "m1" {
		t.Fatalf("unexpected full history: len=%d err=%v", len(all), err)
	}
}

func TestRecentMessagesBreaksTimestampTiesByID(t *testing.T) {
	s := newTestStore(t)
	doc := seedDocument(t, s, "ties")
	conv, _, _ := s.GetOrCreateActiveConversation(doc.ID, "t")
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	for _, content := range []string{"a", "b", "c"} {
		if _, err := s.AppendMessage(domain.Message{ConversationID: conv.ID, Role: domain.RoleUser, Content: content, CreatedAt: at}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	recent, err := s.RecentMessages(conv.ID, 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 2 || recent[0].Content != "b" || recent[1].Content != "c" {
		t.Fatalf("unexpected tie order: %+v", recent)
	}
}

func TestAppendMessageBumpsConversation(t *testing.T) {
	s := newTestStore(t)
	doc := seedDocument(t, s, "bump")
	conv, _, _ := s.GetOrCreateActiveConversation(doc.ID, "t")
	time.Sleep(5 * time.Millisecond)
	page := 4
	action := domain.ActionExplain
	msg, err := s.AppendMessage(domain.Message{
		ConversationID: conv.ID,
		Role:           domain.RoleAssistant,
		Content:        "answer",
		PageNumber:     &page,
		ActionType:     &action,
		Coordinates:    json.RawMessage(`{"x":10,"y":20}`),
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if msg.ID == 0 || msg.PageNumber == nil || *msg.PageNumber != 4 {
		t.Fatalf("unexpected message: %+v", msg)
	}
	got, _, err := s.GetConversation(conv.ID)
	if err != nil {
		t.Fatalf("get conversation: %v", err)
	}
	if !got.UpdatedAt.After(conv.UpdatedAt) {
		t.Fatalf("expected updated_at to advance: before=%v after=%v", conv.UpdatedAt, got.UpdatedAt)
	}

	listed, _ := s.ListMessages(conv.ID)
	if len(listed) != 1 || listed[0].ActionType == nil || *listed[0].ActionType != domain.ActionExplain {
		t.Fatalf("expected action type round trip, got %+v", listed)
	}
	if string(listed[0].Coordinates) == "" {
		t.Fatalf("expected coordinates persisted")
	}
}

func TestAppendMessageMissingConversation(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.AppendMessage(domain.Message{ConversationID: 42, Role: domain.RoleUser, Content: "x"}); !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("expected ErrConversationNotFound, got %v", err)
	}
}

func TestAppendMessageRollsBackWhenTouchFails(t *testing.T) {
	s := newTestStore(t)
	doc := seedDocument(t, s, "atomic")
	conv, _, _ := s.GetOrCreateActiveConversation(doc.ID, "t")

	errInjected := errors.New("injected update failure")
	err := s.db.Callback().Update().Before("gorm:update").Register("test:fail_conversation_touch", func(tx *gorm.DB) {
		if tx.Statement.Schema != nil && tx.Statement.Schema.Table == "conversations" {
			_ = tx.AddError(errInjected)
		}
	})
	if err != nil {
		t.Fatalf("register callback: %v", err)
	}

	if _, err := s.AppendMessage(domain.Message{ConversationID: conv.ID, Role: domain.RoleUser, Content: "lost"}); !errors.Is(err, errInjected) {
		t.Fatalf("expected injected error, got %v", err)
	}
	msgs, err := s.ListMessages(conv.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected message insert rolled back, got %d rows", len(msgs))
	}
}

func TestGetOrCreateActiveConversationReusesMostRecent(t *testing.T) {
	s := newTestStore(t)
	doc := seedDocument(t, s, "lazy")

	first, created, err := s.GetOrCreateActiveConversation(doc.ID, "Conversation with lazy.pdf")
	if err != nil || !created {
		t.Fatalf("first call: created=%v err=%v", created, err)
	}
	if first.Title != "Conversation with lazy.pdf" {
		t.Fatalf("unexpected title %q", first.Title)
	}
	second, created, err := s.GetOrCreateActiveConversation(doc.ID, "ignored")
	if err != nil || created {
		t.Fatalf("second call: created=%v err=%v", created, err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected reuse of %d, got %d", first.ID, second.ID)
	}

	convs, err := s.ListConversations(doc.ID)
	if err != nil || len(convs) != 1 {
		t.Fatalf("expected one conversation, got %d err=%v", len(convs), err)
	}
}

func TestGetOrCreateActiveConversationMissingDocument(t *testing.T) {
	s := newTestStore(t)
	if _, _, err := s.GetOrCreateActiveConversation(999, "t"); !errors.Is(err, ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}
	var count int64
	s.db.Model(&ConversationModel{}).Count(&count)
	if count != 0 {
		t.Fatalf("expected no orphan conversation, got %d", count)
	}
}

func TestGetOrCreateActiveConversationConcurrentFirstUse(t *testing.T) {
	s := newTestStore(t)
	doc := seedDocument(t, s, "race")

	const workers = 4
	start := make(chan struct{})
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, _, err := s.GetOrCreateActiveConversation(doc.ID, "t"); err != nil {
				errs <- err
			}
		}()
	}
	close(start)
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent get-or-create: %v", err)
	}
	convs, err := s.ListConversations(doc.ID)
	if err != nil || len(convs) == 0 {
		t.Fatalf("expected at least one conversation, got %d err=%v", len(convs), err)
	}
}

func TestDeleteConversationRemovesMessages(t *testing.T) {
	s := newTestStore(t)
	doc := seedDocument(t, s, "delconv")
	conv, _, _ := s.GetOrCreateActiveConversation(doc.ID, "t")
	if _, err := s.AppendMessage(domain.Message{ConversationID: conv.ID, Role: domain.RoleUser, Content: "x"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	found, err := s.DeleteConversation(conv.ID)
	if err != nil || !found {
		t.Fatalf("delete: found=%v err=%v", found, err)
	}
	msgs, _ := s.ListMessages(conv.ID)
	if len(msgs) != 0 {
		t.Fatalf("expected messages removed")
	}
	if found, _ := s.DeleteConversation(conv.ID); found {
		t.Fatalf("second delete should report missing")
	}
	if _, ok, _ := s.GetDocument(doc.ID); !ok {
		t.Fatalf("document must survive conversation delete")
	}
}

func TestCreateAnnotationMissingDocument(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateAnnotation(domain.Annotation{DocumentID: 7, PageNumber: 1, Kind: domain.KindNote, Coordinates: json.RawMessage(`{}`)})
	if !errors.Is(err, ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}
}

func TestUpdateAnnotationPartial(t *testing.T) {
	s := newTestStore(t)
	doc := seedDocument(t, s, "notes")
	text := "mitochondria"
	created, err := s.CreateAnnotation(domain.Annotation{
		DocumentID:  doc.ID,
		PageNumber:  2,
		Kind:        domain.KindHighlight,
		TextContent: &text,
		Coordinates: json.RawMessage(`{"x":1,"y":2}`),
		Color:       domain.DefaultAnnotationColor,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	color := "#00FF00"
	updated, found, err := s.UpdateAnnotation(created.ID, domain.AnnotationPatch{Color: &color})
	if err != nil || !found {
		t.Fatalf("update: found=%v err=%v", found, err)
	}
	if updated.Color != color {
		t.Fatalf("expected color %s, got %s", color, updated.Color)
	}
	if updated.PageNumber != 2 || updated.Kind != domain.KindHighlight || updated.TextContent == nil || *updated.TextContent != text {
		t.Fatalf("untouched fields changed: %+v", updated)
	}
	var coords map[string]int
	if err := json.Unmarshal(updated.Coordinates, &coords); err != nil || coords["x"] != 1 || coords["y"] != 2 {
		t.Fatalf("coordinates changed: %s err=%v", updated.Coordinates, err)
	}
	if updated.UpdatedAt.Before(created.UpdatedAt) {
		t.Fatalf("updated_at went backwards")
	}

	if _, found, err := s.UpdateAnnotation(created.ID+50, domain.AnnotationPatch{Color: &color}); err != nil || found {
		t.Fatalf("expected missing annotation, found=%v err=%v", found, err)
	}
}

func TestListAnnotationsOrderedByPage(t *testing.T) {
	s := newTestStore(t)
	doc := seedDocument(t, s, "order")
	for _, page := range []int{3, 1, 2} {
		if _, err := s.CreateAnnotation(domain.Annotation{DocumentID: doc.ID, PageNumber: page, Kind: domain.KindNote, Coordinates: json.RawMessage(`{}`)}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	items, err := s.ListAnnotations(doc.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 3 || items[0].PageNumber != 1 || items[2].PageNumber != 3 {
		t.Fatalf("unexpected order: %+v", items)
	}

	found, err := s.DeleteAnnotation(items[0].ID)
	if err != nil || !found {
		t.Fatalf("delete: found=%v err=%v", found, err)
	}
	if found, _ := s.DeleteAnnotation(items[0].ID); found {
		t.Fatalf("second delete should report missing")
	}
}

func TestSaveSummaryIfAbsentKeepsFirst(t *testing.T) {
	s := newTestStore(t)
	doc := seedDocument(t, s, "summary")

	if _, ok, err := s.GetSummary(doc.ID); err != nil || ok {
		t.Fatalf("expected no summary yet, ok=%v err=%v", ok, err)
	}
	first, err := s.SaveSummaryIfAbsent(domain.Summary{DocumentID: doc.ID, SummaryText: "first"})
	if err != nil {
		t.Fatalf("save first: %v", err)
	}
	second, err := s.SaveSummaryIfAbsent(domain.Summary{DocumentID: doc.ID, SummaryText: "second"})
	if err != nil {
		t.Fatalf("save second: %v", err)
	}
	if second.ID != first.ID || second.SummaryText != "first" {
		t.Fatalf("expected first summary retained, got %+v", second)
	}
	var count int64
	s.db.Model(&SummaryModel{}).Where("document_id = ?", doc.ID).Count(&count)
	if count != 1 {
		t.Fatalf("expected exactly one summary row, got %d", count)
	}

	if _, err := s.SaveSummaryIfAbsent(domain.Summary{DocumentID: doc.ID + 10, SummaryText: "x"}); !errors.Is(err, ErrDocumentNotFound) {
		t.Fatalf("expected ErrDocumentNotFound, got %v", err)
	}
}

func TestListDocumentsNewestFirst(t *testing.T) {
	s := newTestStore(t)
	old, err := s.CreateDocument(domain.Document{Filename: "a.pdf", OriginalFilename: "a.pdf", StoragePath: "a.pdf", UploadedAt: time.Now().UTC().Add(-time.Hour)})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	recent := seedDocument(t, s, "b")
	docs, err := s.ListDocuments()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(docs) != 2 || docs[0].ID != recent.ID || docs[1].ID != old.ID {
		t.Fatalf("unexpected order: %+v", docs)
	}
}

func TestSQLiteIgnoresPoolOption(t *testing.T) {
	s, err := NewGormStore(filepath.Join(t.TempDir(), "pool.db"), WithLogLevel(gormlogger.Silent), WithMaxOpenConns(8))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	sqlDB, err := s.db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	if got := sqlDB.Stats().MaxOpenConnections; got != 1 {
		t.Fatalf("expected single sqlite connection, got %d", got)
	}
}
