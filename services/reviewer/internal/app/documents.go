package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"examreviewer/internal/util"
	"examreviewer/pkg/domain"
	"examreviewer/pkg/pdfinfo"
)

const pdfContentType = "application/pdf"

// UploadDocument validates and inspects a PDF, stores its bytes under a fresh
// object key and records the document row. The object is removed again if the
// row cannot be written.
func (a *App) UploadDocument(ctx context.Context, filename string, r io.Reader, size int64) (domain.Document, error) {
	original := filepath.Base(strings.TrimSpace(filename))
	if original == "" || original == "." || original == string(filepath.Separator) {
		return domain.Document{}, invalid("file", "filename required")
	}
	if !strings.EqualFold(filepath.Ext(original), ".pdf") {
		return domain.Document{}, invalid("file", "only PDF files are allowed")
	}
	if size > a.maxUploadBytes {
		return domain.Document{}, invalid("file", fmt.Sprintf("file too large (max %d bytes)", a.maxUploadBytes))
	}
	data, err := io.ReadAll(io.LimitReader(r, a.maxUploadBytes+1))
	if err != nil {
		return domain.Document{}, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > a.maxUploadBytes {
		return domain.Document{}, invalid("file", fmt.Sprintf("file too large (max %d bytes)", a.maxUploadBytes))
	}
	if len(data) == 0 {
		return domain.Document{}, invalid("file", "file is empty")
	}

	info, err := pdfinfo.Inspect(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		if errors.Is(err, pdfinfo.ErrInvalidPDF) {
			return domain.Document{}, invalid("file", "file is not a readable PDF")
		}
		return domain.Document{}, fmt.Errorf("inspect pdf: %w", err)
	}

	key := util.NewID() + ".pdf"
	if err := a.objects.Put(ctx, key, bytes.NewReader(data), int64(len(data)), pdfContentType); err != nil {
		return domain.Document{}, storageErr("save file", err)
	}
	now := a.now()
	doc, err := a.store.CreateDocument(domain.Document{
		Filename:         key,
		OriginalFilename: original,
		StoragePath:      key,
		SizeBytes:        int64(len(data)),
		PageCount:        info.PageCount,
		IsScanned:        info.IsScanned,
		UploadedAt:       now,
		LastAccessedAt:   now,
	})
	if err != nil {
		if delErr := a.objects.Delete(ctx, key); delErr != nil {
			a.logger(ctx).Warn("orphaned upload object", "key", key, "err", delErr)
		}
		return domain.Document{}, storageErr("create document", err)
	}
	a.logger(ctx).Info("document uploaded", "document_id", doc.ID, "pages", doc.PageCount, "scanned", doc.IsScanned, "bytes", doc.SizeBytes)
	return doc, nil
}

// ListDocuments returns every document, newest upload first.
func (a *App) ListDocuments(ctx context.Context) ([]domain.Document, error) {
	docs, err := a.store.ListDocuments()
	if err != nil {
		return nil, storageErr("list documents", err)
	}
	return docs, nil
}

// GetDocument returns a document and records the access.
func (a *App) GetDocument(ctx context.Context, id int64) (domain.Document, error) {
	doc, err := a.requireDocument(id)
	if err != nil {
		return domain.Document{}, err
	}
	return a.touchAccess(ctx, doc), nil
}

// OpenDocumentFile returns the stored PDF bytes. The caller closes the reader.
func (a *App) OpenDocumentFile(ctx context.Context, id int64) (io.ReadCloser, domain.Document, error) {
	doc, err := a.requireDocument(id)
	if err != nil {
		return nil, domain.Document{}, err
	}
	rc, err := a.objects.Get(ctx, doc.StoragePath)
	if err != nil {
		return nil, domain.Document{}, storageErr("open file", err)
	}
	return rc, a.touchAccess(ctx, doc), nil
}

// DeleteDocument removes the document with its conversations, messages,
// annotations and summary, then the stored file.
func (a *App) DeleteDocument(ctx context.Context, id int64) error {
	doc, err := a.requireDocument(id)
	if err != nil {
		return err
	}
	deleted, err := a.store.DeleteDocument(id)
	if err != nil {
		return storageErr("delete document", err)
	}
	if !deleted {
		return notFound("document", id)
	}
	if err := a.objects.Delete(ctx, doc.StoragePath); err != nil {
		a.logger(ctx).Warn("delete stored file failed", "document_id", id, "key", doc.StoragePath, "err", err)
	}
	return nil
}

// requireDocument resolves the parent of every child operation.
func (a *App) requireDocument(id int64) (domain.Document, error) {
	doc, ok, err := a.store.GetDocument(id)
	if err != nil {
		return domain.Document{}, storageErr("get document", err)
	}
	if !ok {
		return domain.Document{}, notFound("document", id)
	}
	return doc, nil
}

// touchAccess never fails the surrounding read.
func (a *App) touchAccess(ctx context.Context, doc domain.Document) domain.Document {
	now := a.now()
	if err := a.store.TouchDocument(doc.ID, now); err != nil {
		a.logger(ctx).Warn("touch document access failed", "document_id", doc.ID, "err", err)
		return doc
	}
	doc.LastAccessedAt = now
	return doc
}
