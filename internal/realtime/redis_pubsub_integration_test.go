//go:build integration

package realtime

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

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

func TestRedisPubSub_FanOutAcrossHubs(t *testing.T) {
	ps := NewRedisPubSub(testRedis.Client, nil)
	hubA := NewHub(nil, ps, ps)
	hubB := NewHub(nil, ps, ps)
	id := uuid.New()

	a := newTestClient(id, "a")
	b := newTestClient(id, "b")
	hubA.Register(a)
	hubB.Register(b)
	t.Cleanup(func() {
		hubA.Unregister(a)
		hubB.Unregister(b)
	})

	hubA.PublishViewerCount(id, 2, 1)

	for _, c := range []*Client{a, b} {
		select {
		case msg := <-c.send:
			assert.Equal(t, EventViewerCount, msg.Event)
			assert.JSONEq(t, `{"broadcast_id":"`+id.String()+`","viewers":2,"seq":1}`, string(msg.Data))
		case <-time.After(3 * time.Second):
			t.Fatal("viewer_count not delivered")
		}
	}
}

func TestRedisPubSub_CancelStopsDelivery(t *testing.T) {
	ps := NewRedisPubSub(testRedis.Client, nil)
	id := uuid.New()
	got := make(chan string, 4)

	cancel, err := ps.SubscribeLive(id, func(event string, _ []byte) { got <- event })
	require.NoError(t, err)
	require.NoError(t, ps.PublishLiveEvent(id, "ping", []byte(`{}`)))

	select {
	case ev := <-got:
		assert.Equal(t, "ping", ev)
	case <-time.After(3 * time.Second):
		t.Fatal("event not delivered")
	}
	cancel()
}
