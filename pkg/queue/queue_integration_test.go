//go:build integration

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bidli/backend/internal/testinfra"
)

var testRedis *testinfra.Redis

func TestMain(m *testing.M) {
	ctx := context.Background()
	r, err := testinfra.StartRedis(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start redis: %v\n", err)
		os.Exit(1)
	}
	testRedis = r
	code := m.Run()
	r.Terminate(ctx)
	os.Exit(code)
}

func TestQueue_EnqueueDequeue(t *testing.T) {
	testRedis.Flush(t)
	ctx := context.Background()
	q := NewQueue(testRedis.Client, nil)
	id := uuid.New()

	require.NoError(t, q.RefreshLiveStream(ctx, id))

	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, JobTypeRankingRefresh, job.Type)
	var p RankingRefreshPayload
	require.NoError(t, json.Unmarshal(job.Payload, &p))
	assert.Equal(t, RankingRefreshPayload{ContentType: "live_stream", ContentID: id}, p)
}

func TestQueue_RetryThenDeadLetter(t *testing.T) {
	testRedis.Flush(t)
	ctx := context.Background()
	q := NewQueue(testRedis.Client, nil)
	job := &Job{ID: "j1", Type: JobTypeRankingRefresh, Payload: json.RawMessage(`{}`)}

	for i := 0; i < MaxRetries-1; i++ {
		require.NoError(t, q.Retry(ctx, job))
	}
	n, err := testRedis.Client.LLen(ctx, QueueRankings).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(MaxRetries-1), n)

	require.NoError(t, q.Retry(ctx, job))
	n, err = testRedis.Client.LLen(ctx, QueueDLQ).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestQueue_MalformedEntryIsSkipped(t *testing.T) {
	testRedis.Flush(t)
	ctx := context.Background()
	q := NewQueue(testRedis.Client, nil)
	require.NoError(t, testRedis.Client.RPush(ctx, QueueRankings, "not json").Err())

	job, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Nil(t, job)
}
