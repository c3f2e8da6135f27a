package valkey

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (r *recorder) publish(ctx context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

func TestStreamMonitor_Events(t *testing.T) {
	rec := &recorder{}
	m := newStreamMonitor(rec.publish, "test", 10, nil)

	m.AddToTotalCount(25)
	m.EntitiesLoaded(25)
	m.DocumentsBuilt(25)
	for i := 0; i < 25; i++ {
		m.DocumentsAdded(1)
	}
	m.IndexingCompleted()
	<-m.Done()

	require.Len(t, rec.events, 4)
	assert.Equal(t, KindTotal, rec.events[0].Kind)
	assert.Equal(t, int64(25), rec.events[0].Total)
	assert.Equal(t, KindProgress, rec.events[1].Kind)
	assert.Equal(t, int64(10), rec.events[1].Indexed)
	assert.Equal(t, int64(20), rec.events[2].Indexed)

	last := rec.events[3]
	assert.Equal(t, KindCompleted, last.Kind)
	assert.Equal(t, int64(25), last.Indexed)
	assert.Equal(t, int64(25), last.Loaded)
	assert.Equal(t, "test", last.RunID)
}

func TestStreamMonitor_PublishErrorsAreSwallowed(t *testing.T) {
	rec := &recorder{err: errors.New("connection refused")}
	m := newStreamMonitor(rec.publish, "test", 1, nil)

	assert.NotPanics(t, func() {
		m.DocumentsAdded(1)
		m.IndexingCompleted()
	})
	<-m.Done()
	assert.Len(t, rec.events, 2)
}

func TestStreamMonitor_SlowStreamDoesNotBlockWorkers(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	var kinds []string
	m := newStreamMonitor(func(ctx context.Context, ev Event) error {
		<-release
		mu.Lock()
		kinds = append(kinds, ev.Kind)
		mu.Unlock()
		return nil
	}, "test", 1, nil)

	start := time.Now()
	for i := 0; i < 10*eventBuffer; i++ {
		m.DocumentsAdded(1)
	}
	m.IndexingCompleted()
	assert.Less(t, time.Since(start), time.Second)
	assert.Positive(t, m.Dropped())

	// Later notifications are ignored.
	m.DocumentsAdded(1)

	close(release)
	select {
	case <-m.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("publisher did not drain")
	}

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, kinds)
	assert.LessOrEqual(t, len(kinds), eventBuffer+1)
	assert.Equal(t, KindCompleted, kinds[len(kinds)-1])
}

func TestPublish(t *testing.T) {
	addr := os.Getenv("MASSINDEX_TEST_VALKEY_ADDR")
	if addr == "" {
		t.Skip("MASSINDEX_TEST_VALKEY_ADDR not set")
	}
	client, err := NewClient(Config{Addr: addr})
	if err != nil {
		t.Skipf("valkey not available: %v", err)
	}
	defer client.Close()

	ctx := context.Background()
	stream := "massindex:test:" + t.Name()
	defer client.Do(ctx, client.B().Del().Key(stream).Build())

	id, err := Publish(ctx, client, stream, Event{Kind: KindCompleted, Indexed: 3})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	n, err := client.Do(ctx, client.B().Xlen().Key(stream).Build()).AsInt64()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
