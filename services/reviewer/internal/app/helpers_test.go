package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	gormlogger "gorm.io/gorm/logger"

	"examreviewer/pkg/ai"
	"examreviewer/pkg/domain"
	"examreviewer/pkg/storage"
	"examreviewer/pkg/store"
)

type fakeGenerator struct {
	mu       sync.Mutex
	calls    int
	requests []ai.Request
	reply    func(ai.Request) (string, error)
}

func (g *fakeGenerator) Generate(_ context.Context, req ai.Request) (string, error) {
	g.mu.Lock()
	g.calls++
	g.requests = append(g.requests, req)
	reply := g.reply
	g.mu.Unlock()
	if reply == nil {
		return "answer", nil
	}
	return reply(req)
}

func (g *fakeGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func (g *fakeGenerator) lastRequest() ai.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.requests) == 0 {
		return ai.Request{}
	}
	return g.requests[len(g.requests)-1]
}

// faultyStore injects failures into selected store calls.
type faultyStore struct {
	store.Store
	touchErr  error
	createErr error
}

func (f *faultyStore) TouchDocument(id int64, at time.Time) error {
	if f.touchErr != nil {
		return f.touchErr
	}
	return f.Store.TouchDocument(id, at)
}

func (f *faultyStore) CreateDocument(d domain.Document) (domain.Document, error) {
	if f.createErr != nil {
		return domain.Document{}, f.createErr
	}
	return f.Store.CreateDocument(d)
}

type testEnv struct {
	app     *App
	store   *faultyStore
	objects *storage.LocalStore
	gen     *fakeGenerator
	dir     string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	db, err := store.NewGormStore(filepath.Join(dir, "reviewer.db"), store.WithLogLevel(gormlogger.Silent))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	objects, err := storage.NewLocalStore(filepath.Join(dir, "uploads"))
	if err != nil {
		t.Fatalf("new local store: %v", err)
	}
	fs := &faultyStore{Store: db}
	gen := &fakeGenerator{}
	a, err := New(Config{Store: fs, Objects: objects, Generator: gen, MaxUploadBytes: 1 << 20})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return &testEnv{app: a, store: fs, objects: objects, gen: gen, dir: dir}
}

func (e *testEnv) upload(t *testing.T, name string) domain.Document {
	t.Helper()
	line := strings.Repeat("Eigenvalues and eigenvectors of a square matrix ", 2)
	data := buildPDF([]string{line, line, line})
	doc, err := e.app.UploadDocument(context.Background(), name, bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("upload %s: %v", name, err)
	}
	return doc
}

func requireKind[T error](t *testing.T, err error) T {
	t.Helper()
	var target T
	if !errors.As(err, &target) {
		t.Fatalf("expected %T, got %v", target, err)
	}
	return target
}

// buildPDF writes a minimal uncompressed PDF with one text line per page.
func buildPDF(pageTexts []string) []byte {
	var buf bytes.Buffer
	offsets := []int{}
	writeObj := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}
	buf.WriteString("%PDF-1.4\n")
	kids := make([]string, 0, len(pageTexts))
	for i := range pageTexts {
		kids = append(kids, fmt.Sprintf("%d 0 R", 4+2*i))
	}
	writeObj("<< /Type /Catalog /Pages 2 0 R >>")
	writeObj(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(pageTexts)))
	writeObj("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>")
	for i, text := range pageTexts {
		writeObj(fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Contents %d 0 R /Resources << /Font << /F1 3 0 R >> >> >>", 5+2*i))
		stream := fmt.Sprintf("BT /F1 12 Tf 72 720 Td (%s) Tj ET", text)
		writeObj(fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(stream), stream))
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(offsets)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)
	return buf.Bytes()
}
