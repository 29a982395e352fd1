package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"examreviewer/pkg/ai"
)

func TestGenerateAndStoreRunsProducerOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	doc := env.upload(t, "a.pdf")
	calls := 0
	produce := func(context.Context) (string, error) {
		calls++
		return "summary v1", nil
	}

	first, err := env.app.GenerateAndStore(ctx, doc.ID, produce)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := env.app.GenerateAndStore(ctx, doc.ID, func(context.Context) (string, error) {
		calls++
		return "summary v2", nil
	})
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected producer to run once, ran %d times", calls)
	}
	if first.SummaryText != second.SummaryText || second.SummaryText != "summary v1" {
		t.Fatalf("expected identical summaries, got %q and %q", first.SummaryText, second.SummaryText)
	}
}

func TestGenerateAndStoreFailureLeavesNoRow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	doc := env.upload(t, "a.pdf")

	_, err := env.app.GenerateAndStore(ctx, doc.ID, func(context.Context) (string, error) {
		return "", errors.New("timeout")
	})
	requireKind[*GenerationError](t, err)
	_, err = env.app.GetSummary(ctx, doc.ID)
	nf := requireKind[*NotFoundError](t, err)
	if nf.Kind != "summary" {
		t.Fatalf("unexpected kind %q", nf.Kind)
	}
}

func TestGenerateAndStoreMissingDocument(t *testing.T) {
	env := newTestEnv(t)
	called := false
	_, err := env.app.GenerateAndStore(context.Background(), 7, func(context.Context) (string, error) {
		called = true
		return "x", nil
	})
	if !errors.Is(err, ErrNotFound) || called {
		t.Fatalf("expected not found without producing, err=%v called=%v", err, called)
	}
}

func TestGenerateSummaryConcurrentCallsShareOneGeneration(t *testing.T) {
	env := newTestEnv(t)
	doc := env.upload(t, "a.pdf")
	release := make(chan struct{})
	env.gen.reply = func(req ai.Request) (string, error) {
		<-release
		if req.MaxTokens != defaultSummaryMaxTokens {
			return "", errors.New("unexpected max tokens")
		}
		return "the whole document", nil
	}

	const callers = 5
	var wg sync.WaitGroup
	results := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sum, err := env.app.GenerateSummary(context.Background(), doc.ID)
			results[i], errs[i] = sum.SummaryText, err
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := range results {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if results[i] != "the whole document" {
			t.Fatalf("caller %d got %q", i, results[i])
		}
	}
	if n := env.gen.callCount(); n != 1 {
		t.Fatalf("expected one generation, got %d", n)
	}
}

func TestGenerateAndStoreSurvivesFirstCallerCancel(t *testing.T) {
	env := newTestEnv(t)
	doc := env.upload(t, "a.pdf")
	started := make(chan struct{})
	release := make(chan struct{})
	produce := func(ctx context.Context) (string, error) {
		close(started)
		<-release
		if err := ctx.Err(); err != nil {
			return "", err
		}
		return "kept summary", nil
	}

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := env.app.GenerateAndStore(ctxA, doc.ID, produce)
		errA <- err
	}()
	<-started

	type result struct {
		text string
		err  error
	}
	resB := make(chan result, 1)
	go func() {
		sum, err := env.app.GenerateAndStore(context.Background(), doc.ID, produce)
		resB <- result{sum.SummaryText, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancelA()
	select {
	case err := <-errA:
		ge := requireKind[*GenerationError](t, err)
		if !errors.Is(ge, context.Canceled) {
			t.Fatalf("expected canceled cause, got %v", ge.Err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("cancelled caller did not return")
	}

	close(release)
	b := <-resB
	if b.err != nil {
		t.Fatalf("live caller: %v", b.err)
	}
	if b.text != "kept summary" {
		t.Fatalf("live caller got %q", b.text)
	}
	stored, err := env.app.GetSummary(context.Background(), doc.ID)
	if err != nil || stored.SummaryText != "kept summary" {
		t.Fatalf("expected stored summary, got %+v err=%v", stored, err)
	}
}
