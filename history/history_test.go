package history

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/storytest/errors"
	sttest "github.com/teranos/storytest/internal/testing"
)

// fixedClock returns successive times one minute apart
func fixedClock(start time.Time) func() time.Time {
	next := start
	return func() time.Time {
		now := next
		next = next.Add(time.Minute)
		return now
	}
}

func TestStartAndFinish(t *testing.T) {
	store := NewStore(sttest.CreateTestDB(t))
	store.now = fixedClock(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	ctx := context.Background()

	run, err := store.Start(ctx, "PROJ-1", "Login works", "output/Login_works")
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, SourceModel, run.Source)

	run.GeneratedCount = 3
	run.ImportedCount = 2
	run.LinkedCount = 1
	run.JobID = "job-1"
	run.JobStatus = "partially_successful"
	run.Success = true
	run.Message = "Job completed. Successfully imported: 2, Failed: 1"
	run.Tests = []ImportedTest{{Key: "QA-2", Linked: false}, {Key: "QA-1", Linked: true}}
	require.NoError(t, store.Finish(ctx, run))

	got, err := store.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "PROJ-1", got.StoryKey)
	assert.Equal(t, 3, got.GeneratedCount)
	assert.Equal(t, "job-1", got.JobID)
	assert.True(t, got.Success)
	require.NotNil(t, got.FinishedAt)
	assert.True(t, got.FinishedAt.After(got.StartedAt))
	assert.Equal(t, []ImportedTest{{Key: "QA-1", Linked: true}, {Key: "QA-2", Linked: false}}, got.Tests)
}

func TestFinish_UnknownRun(t *testing.T) {
	store := NewStore(sttest.CreateTestDB(t))
	err := store.Finish(context.Background(), &Run{ID: "missing"})
	assert.True(t, errors.IsNotFound(err))
}

func TestGet_NotFound(t *testing.T) {
	store := NewStore(sttest.CreateTestDB(t))
	_, err := store.Get(context.Background(), "nope")
	assert.True(t, errors.IsNotFound(err))
}

func TestRecent(t *testing.T) {
	store := NewStore(sttest.CreateTestDB(t))
	store.now = fixedClock(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))
	ctx := context.Background()

	for _, key := range []string{"PROJ-1", "PROJ-2", "PROJ-1"} {
		_, err := store.Start(ctx, key, "", "")
		require.NoError(t, err)
	}

	all, err := store.Recent(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.True(t, all[0].StartedAt.After(all[1].StartedAt))
	assert.Empty(t, all[0].JobID)
	assert.Nil(t, all[0].FinishedAt)

	one, err := store.Recent(ctx, "PROJ-1", 1)
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, "PROJ-1", one[0].StoryKey)

	none, err := store.Recent(ctx, "OTHER-1", 0)
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)
}

func TestRecent_QueryError(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	mock.ExpectQuery("SELECT .* FROM generation_runs").
		WillReturnError(errors.New("disk I/O error"))

	_, err = NewStore(conn).Recent(context.Background(), "", 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to query runs")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFinish_RollsBackOnTestInsertFailure(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE generation_runs").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO imported_tests").WillReturnError(errors.New("constraint failed"))
	mock.ExpectRollback()

	err = NewStore(conn).Finish(context.Background(), &Run{ID: "r1", Tests: []ImportedTest{{Key: "QA-1"}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "QA-1")
	assert.NoError(t, mock.ExpectationsWereMet())
}
