package rotation_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/openpuc/scrapers/pkg/rotation"
	"github.com/openpuc/scrapers/pkg/storage"
	"github.com/openpuc/scrapers/pkg/storage/mocks"
)

func runFiles(scraper string, now time.Time, count int) []storage.FileInfo {
	var files []storage.FileInfo
	for i := 0; i < count; i++ {
		prefix := rotation.GenerateRunPath(scraper, now.Add(-time.Duration(i*24)*time.Hour))
		files = append(files,
			storage.FileInfo{Path: prefix + "/caselist.json", Size: 10},
			storage.FileInfo{Path: prefix + "/cases/case_1.json", Size: 10},
		)
	}
	return files
}

func TestRotateRuns_KeepsNewest(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	files := runFiles("ny", now, 5)

	mockBackend := mocks.NewMockBackend(t)
	mockBackend.On("Name").Return("test_backend")
	mockBackend.On("List", ctx, "objects/ny--*").Return(files, nil).Once()

	// runs 3 and 4 (oldest) are removed, two objects each
	for _, f := range files[6:] {
		mockBackend.On("Delete", ctx, f.Path).Return(nil).Once()
	}

	err := rotation.RotateRuns(ctx, []storage.Backend{mockBackend}, "ny", 3, rotation.Guard{}, zerolog.Nop())
	assert.NoError(t, err)
}

func TestRotateRuns_IgnoresOtherScrapers(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	files := append(runFiles("ny", now, 1), runFiles("ny--extra", now, 3)...)
	files = append(files, storage.FileInfo{Path: "objects/ny--garbage/caselist.json"})

	mockBackend := mocks.NewMockBackend(t)
	mockBackend.On("Name").Return("test_backend")
	mockBackend.On("List", ctx, "objects/ny--*").Return(files, nil).Once()

	err := rotation.RotateRuns(ctx, []storage.Backend{mockBackend}, "ny", 1, rotation.Guard{}, zerolog.Nop())
	assert.NoError(t, err)
	mockBackend.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
}

func TestRotateRuns_Unlimited(t *testing.T) {
	mockBackend := mocks.NewMockBackend(t)

	err := rotation.RotateRuns(context.Background(), []storage.Backend{mockBackend}, "ny", 0, rotation.Guard{}, zerolog.Nop())
	assert.NoError(t, err)
	mockBackend.AssertNotCalled(t, "List", mock.Anything, mock.Anything)
}

func TestRotateRuns_ErrorsAreCollected(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	files := runFiles("dummy", now, 2)

	failing := mocks.NewMockBackend(t)
	failing.On("Name").Return("failing")
	failing.On("List", ctx, "objects/dummy--*").Return(nil, storage.ErrConnFailed).Once()

	partial := mocks.NewMockBackend(t)
	partial.On("Name").Return("partial")
	partial.On("List", ctx, "objects/dummy--*").Return(files, nil).Once()
	partial.On("Delete", ctx, files[2].Path).Return(errors.New("denied")).Once()
	partial.On("Delete", ctx, files[3].Path).Return(nil).Once()

	err := rotation.RotateRuns(ctx, []storage.Backend{failing, partial}, "dummy", 1, rotation.Guard{}, zerolog.Nop())
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrConnFailed)
	assert.Contains(t, err.Error(), "failed to delete 1 out of 2 objects")
}

func TestRotateRuns_Guard(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	files := runFiles("dummy", now, 3) // newest first
	newest := rotation.GenerateRunPath("dummy", now)
	middle := rotation.GenerateRunPath("dummy", now.Add(-24*time.Hour))

	t.Run("active_runs_are_neither_counted_nor_deleted", func(t *testing.T) {
		b := mocks.NewMockBackend(t)
		b.On("Name").Return("primary")
		b.On("List", ctx, "objects/dummy--*").Return(files, nil).Once()
		// newest is still running: middle is the newest finished run, oldest goes
		b.On("Delete", ctx, files[4].Path).Return(nil).Once()
		b.On("Delete", ctx, files[5].Path).Return(nil).Once()

		guard := rotation.Guard{Active: map[string]bool{newest: true}, Current: middle}
		require.NoError(t, rotation.RotateRuns(ctx, []storage.Backend{b}, "dummy", 1, guard, zerolog.Nop()))
	})

	t.Run("current_run_survives_when_newer_runs_finished_first", func(t *testing.T) {
		b := mocks.NewMockBackend(t)
		b.On("Name").Return("primary")
		b.On("List", ctx, "objects/dummy--*").Return(files[2:], nil).Once()
		// the oldest run just finished; the newer middle run is kept too
		oldest := rotation.GenerateRunPath("dummy", now.Add(-48*time.Hour))

		guard := rotation.Guard{Current: oldest}
		require.NoError(t, rotation.RotateRuns(ctx, []storage.Backend{b}, "dummy", 1, guard, zerolog.Nop()))
		b.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything)
	})
}

func TestApplyRetention(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	var runs []rotation.Run
	for i := 0; i < 4; i++ {
		runs = append(runs, rotation.Run{
			Name: rotation.RunName{Scraper: "ny", Timestamp: now.AddDate(0, 0, -i)},
			Keys: []string{fmt.Sprintf("k%d", i)},
		})
	}
	// input order must not matter
	runs[0], runs[3] = runs[3], runs[0]

	toDelete := rotation.ApplyRetention(runs, 2, now, zerolog.Nop())
	require.Len(t, toDelete, 2)
	assert.Equal(t, now.AddDate(0, 0, -2), toDelete[0].Name.Timestamp)
	assert.Equal(t, now.AddDate(0, 0, -3), toDelete[1].Name.Timestamp)

	assert.Nil(t, rotation.ApplyRetention(runs, 10, now, zerolog.Nop()))
	assert.Nil(t, rotation.ApplyRetention(runs, 0, now, zerolog.Nop()))
}

func TestGroupRuns(t *testing.T) {
	runs := rotation.GroupRuns([]string{
		"objects/ny--2024-01-01T00-00-00/caselist.json",
		"objects/ny--2024-01-02T00-00-00/caselist.json",
		"objects/ny--2024-01-01T00-00-00/cases/case_1.json",
		"README",
	}, zerolog.Nop())

	require.Len(t, runs, 2)
	assert.Equal(t, "ny--2024-01-02T00-00-00", runs[0].Name.String())
	assert.Len(t, runs[1].Keys, 2)
}
