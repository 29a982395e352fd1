// Package pdfinfo reads the metadata recorded for an uploaded PDF:
// its page count and whether it looks like a scan without a text layer.
package pdfinfo

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

const (
	// SampledPages is how many leading pages are read to decide IsScanned.
	SampledPages = 3
	// ScannedTextThreshold is the minimum number of characters of extractable
	// text the sampled pages must carry for the file to count as digital.
	ScannedTextThreshold = 100
)

// ErrInvalidPDF is returned when neither parser can open the file.
var ErrInvalidPDF = errors.New("invalid pdf")

// Info is what upload records about a PDF.
type Info struct {
	PageCount  int
	IsScanned  bool
	TextSample string
}

// Inspect counts pages with pdfcpu, falling back to the ledongthuc reader,
// and samples the text layer of the first SampledPages pages.
func Inspect(r io.ReaderAt, size int64) (Info, error) {
	if r == nil || size <= 0 {
		return Info{}, ErrInvalidPDF
	}
	pages, countErr := countPages(io.NewSectionReader(r, 0, size))

	text, textPages, textErr := sampleText(r, size, SampledPages)
	if countErr != nil {
		if textErr != nil {
			return Info{}, fmt.Errorf("%w: %v", ErrInvalidPDF, countErr)
		}
		pages = textPages
	}
	if pages <= 0 {
		return Info{}, fmt.Errorf("%w: no pages", ErrInvalidPDF)
	}
	// unreadable text layer is treated like an empty one
	return Info{
		PageCount:  pages,
		IsScanned:  LooksScanned(text),
		TextSample: text,
	}, nil
}

// LooksScanned reports whether the sampled text is too short to be a real text layer.
func LooksScanned(text string) bool {
	return utf8.RuneCountInString(strings.TrimSpace(text)) < ScannedTextThreshold
}

func init() {
	// keep pdfcpu from creating a config dir under the user's home
	api.DisableConfigDir()
}

func countPages(rs io.ReadSeeker) (int, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return api.PageCount(rs, conf)
}

func sampleText(r io.ReaderAt, size int64, maxPages int) (text string, pages int, err error) {
	// the reader panics on some malformed content streams
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("read pdf text: %v", rec)
		}
	}()
	reader, err := pdf.NewReader(r, size)
	if err != nil {
		return "", 0, fmt.Errorf("open pdf: %w", err)
	}
	pages = reader.NumPage()
	limit := min(pages, maxPages)
	var b strings.Builder
	for i := 1; i <= limit; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		b.WriteString(pageText)
	}
	return b.String(), pages, nil
}
