// Package report renders the per-search match summary workbook.
package report

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"audio-search-go/internal/logger"
	"audio-search-go/internal/storage"
	"audio-search-go/internal/store"
	"audio-search-go/internal/types"
)

// ErrNoMatches means no file in the search had a positive match count; the
// caller completes the search without a report.
var ErrNoMatches = errors.New("no matched files")

const dayDateTimeLayout = "Mon, Jan 2, 2006 3:04 PM"

type Generator struct {
	store store.Store
	blobs storage.Store
	log   *logger.Logger
}

func NewGenerator(st store.Store, blobs storage.Store, log *logger.Logger) *Generator {
	return &Generator{store: st, blobs: blobs, log: log}
}

// Generate writes a two-column workbook (file, matches) ordered by match count
// descending, stores it and returns the artifact path.
func (g *Generator) Generate(ctx context.Context, search *types.Search) (string, error) {
	files, err := g.store.ListMatchedFiles(ctx, search.ID)
	if err != nil {
		return "", fmt.Errorf("list matched files: %w", err)
	}
	if len(files) == 0 {
		return "", ErrNoMatches
	}

	loc, err := time.LoadLocation(search.Timezone)
	if err != nil || search.Timezone == "" {
		loc = time.UTC
	}

	wb := excelize.NewFile()
	defer wb.Close()
	sheet := wb.GetSheetName(0)

	wb.SetCellValue(sheet, "A1", "File")
	wb.SetCellValue(sheet, "B1", "Matches")

	for i, f := range files {
		name := f.AudioFilename
		if f.ParsedDate != nil {
			name = f.ParsedDate.In(loc).Format(dayDateTimeLayout)
		}
		row := i + 2
		wb.SetCellValue(sheet, fmt.Sprintf("A%d", row), name)
		if f.QueryCount != nil {
			wb.SetCellValue(sheet, fmt.Sprintf("B%d", row), *f.QueryCount)
		}
	}

	buf, err := wb.WriteToBuffer()
	if err != nil {
		return "", fmt.Errorf("write workbook: %w", err)
	}

	path := "reports/" + uuid.New().String() + ".xlsx"
	if err := g.blobs.Put(path, buf); err != nil {
		return "", fmt.Errorf("store report: %w", err)
	}

	g.log.WithSearch(search.ID).
		WithField("component", "report").
		WithField("path", path).
		WithField("rows", len(files)).
		Info("report generated")
	return path, nil
}
