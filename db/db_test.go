package db_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"voicestudio/db"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T, maxRuns int) *db.DB {
	testDB, err := db.New(context.Background(), &db.Config{
		Driver:  db.DriverSqlite,
		Path:    filepath.Join(t.TempDir(), "journal.db"),
		MaxRuns: maxRuns,
	})
	require.NoError(t, err)
	t.Cleanup(func() { testDB.Close() })
	return testDB
}

func TestRunJournal(t *testing.T) {
	assert := require.New(t)
	ctx := context.Background()
	testDB := newTestDB(t, 0)

	started := time.UnixMilli(time.Now().UnixMilli())
	run := &db.Run{ID: "run-1", Op: "convert_all", Reference: "ref.wav", Total: 3, StartedAt: started}
	assert.NoError(testDB.StartRun(ctx, run))

	assert.NoError(testDB.RecordSegment(ctx, &db.SegmentEvent{RunID: "run-1", Index: 1, Status: "converted", At: started}))
	assert.NoError(testDB.RecordSegment(ctx, &db.SegmentEvent{RunID: "run-1", Index: 2, Status: "conversion_failed", ErrKind: "conversion", Err: "boom", At: started.Add(time.Millisecond)}))

	run.Succeeded, run.Failed, run.Skipped = 1, 1, 1
	assert.NoError(testDB.FinishRun(ctx, run))

	got, err := testDB.GetRun(ctx, "run-1")
	assert.NoError(err)
	assert.Equal("convert_all", got.Op)
	assert.Equal("ref.wav", got.Reference)
	assert.Equal(3, got.Total)
	assert.Equal(1, got.Succeeded)
	assert.Equal(1, got.Failed)
	assert.Equal(1, got.Skipped)
	assert.True(started.Equal(got.StartedAt))
	assert.NotNil(got.FinishedAt)

	events, err := testDB.GetSegmentEvents(ctx, "run-1")
	assert.NoError(err)
	assert.Len(events, 2)
	assert.Equal(1, events[0].Index)
	assert.Equal("conversion", events[1].ErrKind)
	assert.Equal("boom", events[1].Err)
}

func TestGetRunMissing(t *testing.T) {
	testDB := newTestDB(t, 0)

	_, err := testDB.GetRun(context.Background(), "nope")
	assert.Error(t, err)
	assert.Equal(t, db.ErrCodeNoRows, db.ErrCode(err))
}

func TestPruneKeepsNewest(t *testing.T) {
	assert := require.New(t)
	ctx := context.Background()
	testDB := newTestDB(t, 2)

	base := time.Now()
	for i, id := range []string{"a", "b", "c"} {
		run := &db.Run{ID: id, Op: "generate_all", StartedAt: base.Add(time.Duration(i) * time.Second)}
		assert.NoError(testDB.StartRun(ctx, run))
		assert.NoError(testDB.RecordSegment(ctx, &db.SegmentEvent{RunID: id, Index: 1, Status: "generated", At: run.StartedAt}))
		assert.NoError(testDB.FinishRun(ctx, run))
	}

	runs, err := testDB.GetRuns(ctx, 10)
	assert.NoError(err)
	assert.Len(runs, 2)
	assert.Equal("c", runs[0].ID)
	assert.Equal("b", runs[1].ID)

	events, err := testDB.GetSegmentEvents(ctx, "a")
	assert.NoError(err)
	assert.Empty(events)
}

func TestUnsupportedDriver(t *testing.T) {
	_, err := db.New(context.Background(), &db.Config{Driver: "oracle"})
	assert.ErrorContains(t, err, "unsupported")
}
