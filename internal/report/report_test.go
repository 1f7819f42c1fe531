package report

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"audio-search-go/internal/logger"
	"audio-search-go/internal/storage"
	"audio-search-go/internal/store"
	"audio-search-go/internal/types"
)

func setup(t *testing.T) (*store.Memory, *storage.Local, *Generator) {
	t.Helper()
	st := store.NewMemory()
	blobs := storage.NewLocal(t.TempDir())
	return st, blobs, NewGenerator(st, blobs, logger.New())
}

func TestGenerate(t *testing.T) {
	st, blobs, gen := setup(t)
	ctx := context.Background()

	search := &types.Search{Query: "cat", Timezone: "UTC"}
	require.NoError(t, st.CreateSearch(ctx, search))

	names := []string{"low.wav", "high.wav", "mid.wav"}
	counts := []int{1, 9, 4}
	for i, name := range names {
		f := &types.AudioFile{SearchID: search.ID, AudioFilename: name, Status: types.FileUploaded}
		require.NoError(t, st.CreateFile(ctx, f))
		_, err := st.MarkFileTranscribed(ctx, f.ID, counts[i], "transcriptions/x.json")
		require.NoError(t, err)
	}

	path, err := gen.Generate(ctx, search)
	require.NoError(t, err)
	assert.Contains(t, path, "reports/")
	assert.Contains(t, path, ".xlsx")

	rc, err := blobs.ReadStream(path)
	require.NoError(t, err)
	defer rc.Close()
	wb, err := excelize.OpenReader(rc)
	require.NoError(t, err)
	defer wb.Close()

	sheet := wb.GetSheetName(0)
	rows, err := wb.GetRows(sheet)
	require.NoError(t, err)
	require.Len(t, rows, 4)

	assert.Equal(t, []string{"File", "Matches"}, rows[0])
	// Highest match count first.
	assert.Equal(t, []string{"high.wav", "9"}, rows[1])
	assert.Equal(t, []string{"mid.wav", "4"}, rows[2])
	assert.Equal(t, []string{"low.wav", "1"}, rows[3])
}

func TestGenerateUsesParsedDateName(t *testing.T) {
	st, blobs, gen := setup(t)
	ctx := context.Background()

	search := &types.Search{Query: "cat", Timezone: "America/Chicago"}
	require.NoError(t, st.CreateSearch(ctx, search))

	recorded := time.Date(2024, 1, 15, 15, 30, 0, 0, time.UTC)
	f := &types.AudioFile{
		SearchID:      search.ID,
		AudioFilename: "2024-01-15_09-30-00.wav",
		ParsedDate:    &recorded,
		Status:        types.FileUploaded,
	}
	require.NoError(t, st.CreateFile(ctx, f))
	_, err := st.MarkFileTranscribed(ctx, f.ID, 2, "transcriptions/x.json")
	require.NoError(t, err)

	path, err := gen.Generate(ctx, search)
	require.NoError(t, err)

	rc, err := blobs.ReadStream(path)
	require.NoError(t, err)
	defer rc.Close()
	wb, err := excelize.OpenReader(rc)
	require.NoError(t, err)
	defer wb.Close()

	got, err := wb.GetCellValue(wb.GetSheetName(0), "A2")
	require.NoError(t, err)
	// Recording time rendered back in the search's timezone.
	assert.Equal(t, "Mon, Jan 15, 2024 9:30 AM", got)
}

func TestGenerateNoMatches(t *testing.T) {
	st, _, gen := setup(t)
	ctx := context.Background()

	search := &types.Search{Query: "cat", Timezone: "UTC"}
	require.NoError(t, st.CreateSearch(ctx, search))

	f := &types.AudioFile{SearchID: search.ID, AudioFilename: "a.wav", Status: types.FileUploaded}
	require.NoError(t, st.CreateFile(ctx, f))
	_, err := st.MarkFileTranscribed(ctx, f.ID, 0, "transcriptions/x.json")
	require.NoError(t, err)

	_, err = gen.Generate(ctx, search)
	assert.ErrorIs(t, err, ErrNoMatches)
}
