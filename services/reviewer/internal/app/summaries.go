package app

import (
	"context"
	"errors"
	"strconv"

	"examreviewer/pkg/domain"
	"examreviewer/pkg/store"
)

// SummaryProducer generates the text of a document summary.
type SummaryProducer func(ctx context.Context) (string, error)

// GetSummary returns the stored summary of a document.
func (a *App) GetSummary(ctx context.Context, documentID int64) (domain.Summary, error) {
	if _, err := a.requireDocument(documentID); err != nil {
		return domain.Summary{}, err
	}
	sum, ok, err := a.store.GetSummary(documentID)
	if err != nil {
		return domain.Summary{}, storageErr("get summary", err)
	}
	if !ok {
		return domain.Summary{}, notFound("summary", documentID)
	}
	return sum, nil
}

// GenerateSummary returns the document's summary, asking the model for one
// only when none is stored yet.
func (a *App) GenerateSummary(ctx context.Context, documentID int64) (domain.Summary, error) {
	doc, err := a.requireDocument(documentID)
	if err != nil {
		return domain.Summary{}, err
	}
	return a.GenerateAndStore(ctx, documentID, func(ctx context.Context) (string, error) {
		return a.generateWithDocument(ctx, doc, fullSummaryPrompt, a.summaryMaxTokens)
	})
}

// GenerateAndStore returns the stored summary unchanged if one exists;
// otherwise it runs produce and stores the result. Concurrent calls for the
// same document share one producer run, and a failed run stores nothing.
// The shared run is detached from any single caller's cancellation; each
// caller stops waiting when its own ctx is done.
func (a *App) GenerateAndStore(ctx context.Context, documentID int64, produce SummaryProducer) (domain.Summary, error) {
	if _, err := a.requireDocument(documentID); err != nil {
		return domain.Summary{}, err
	}
	if sum, ok, err := a.store.GetSummary(documentID); err != nil {
		return domain.Summary{}, storageErr("get summary", err)
	} else if ok {
		return sum, nil
	}

	runCtx := context.WithoutCancel(ctx)
	ch := a.summaries.DoChan(strconv.FormatInt(documentID, 10), func() (any, error) {
		if sum, ok, err := a.store.GetSummary(documentID); err != nil {
			return nil, storageErr("get summary", err)
		} else if ok {
			return sum, nil
		}
		text, err := produce(runCtx)
		if err != nil {
			var se *StorageError
			if errors.As(err, &se) {
				return nil, err
			}
			return nil, &GenerationError{Err: err}
		}
		sum, err := a.store.SaveSummaryIfAbsent(domain.Summary{
			DocumentID:  documentID,
			SummaryText: text,
			GeneratedAt: a.now(),
		})
		if err != nil {
			if errors.Is(err, store.ErrDocumentNotFound) {
				return nil, notFound("document", documentID)
			}
			return nil, storageErr("save summary", err)
		}
		a.logger(runCtx).Info("summary generated", "document_id", documentID, "chars", len(sum.SummaryText))
		return sum, nil
	})
	select {
	case <-ctx.Done():
		return domain.Summary{}, &GenerationError{Err: ctx.Err()}
	case res := <-ch:
		if res.Err != nil {
			return domain.Summary{}, res.Err
		}
		if res.Shared {
			a.logger(ctx).Debug("summary generation shared", "document_id", documentID)
		}
		return res.Val.(domain.Summary), nil
	}
}
