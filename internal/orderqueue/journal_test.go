package orderqueue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestJournalPutReplayDelete(t *testing.T) {
	j, err := OpenJournal(t.TempDir())
	require.NoError(t, err)
	defer j.Close()

	require.NoError(t, j.Put(JobRecord{OrderID: "b", Priority: 1, Seq: 2}))
	require.NoError(t, j.Put(JobRecord{OrderID: "a", Priority: 5, Seq: 1}))
	require.NoError(t, j.Put(JobRecord{OrderID: "a", Priority: 5, Seq: 1, Attempts: 2}))

	recs, err := j.Replay()
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "a", recs[0].OrderID)
	assert.Equal(t, 2, recs[0].Attempts)
	assert.Equal(t, "b", recs[1].OrderID)

	require.NoError(t, j.Delete("a"))
	require.NoError(t, j.Delete("missing"))
	recs, err = j.Replay()
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "b", recs[0].OrderID)
}

func TestQueueReplaysJournalOnStart(t *testing.T) {
	dir := t.TempDir()

	journal, err := OpenJournal(dir)
	require.NoError(t, err)
	opts := testOptions()
	opts.Journal = journal

	first := New(newFakeProcessor(), opts, zap.NewNop())
	require.NoError(t, first.Start(context.Background()))
	first.Pause()
	require.NoError(t, first.Enqueue(context.Background(), "o1", 0))
	require.NoError(t, first.Enqueue(context.Background(), "o2", 9))
	require.NoError(t, first.Close(context.Background()))
	require.NoError(t, journal.Close())

	journal, err = OpenJournal(dir)
	require.NoError(t, err)
	defer journal.Close()
	opts.Journal = journal

	p := newFakeProcessor()
	second := startQueue(t, p, opts)
	require.Eventually(t, settled(second, 2), 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"o2", "o1"}, p.runOrder())

	recs, err := journal.Replay()
	require.NoError(t, err)
	assert.Empty(t, recs)
}
