package outbox

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProducer struct {
	mu        sync.Mutex
	published []publishedMsg
	failN     int // fail the first N calls
}

type publishedMsg struct {
	topic string
	key   string
	value []byte
}

func (f *fakeProducer) Publish(_ context.Context, topic, key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failN > 0 {
		f.failN--
		return context.DeadlineExceeded
	}
	f.published = append(f.published, publishedMsg{topic: topic, key: key, value: value})
	return nil
}

func (f *fakeProducer) Close() error { return nil }

func (f *fakeProducer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(nopWriter{}, nil))
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestOutbox_PublishAndDrain(t *testing.T) {
	producer := &fakeProducer{}
	ob := New(producer, "growth.events", 16, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go ob.Run(ctx)

	require.True(t, ob.Publish(KindRunFailed, "job-1", map[string]string{"agent": "seo"}))
	require.True(t, ob.Publish(KindWinnerDeclared, "exp-1", nil))

	assert.Eventually(t, func() bool { return producer.count() == 2 }, time.Second, 10*time.Millisecond)

	cancel()
	ob.Wait()

	producer.mu.Lock()
	defer producer.mu.Unlock()
	assert.Equal(t, "growth.events", producer.published[0].topic)
	assert.Equal(t, "job-1", producer.published[0].key)
}

func TestOutbox_DropsWhenFull(t *testing.T) {
	producer := &fakeProducer{}
	ob := New(producer, "growth.events", 1, discardLogger())
	// Run is never started, so the buffer fills after one Publish.

	assert.True(t, ob.Publish(KindRunFailed, "a", nil))
	assert.False(t, ob.Publish(KindRunFailed, "b", nil))
}

func TestOutbox_RetriesTransientFailures(t *testing.T) {
	producer := &fakeProducer{failN: 2}
	ob := New(producer, "growth.events", 16, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go ob.Run(ctx)

	require.True(t, ob.Publish(KindGuardrailTripped, "seo", nil))
	assert.Eventually(t, func() bool { return producer.count() == 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	ob.Wait()
}

func TestOutbox_FlushOnShutdown(t *testing.T) {
	producer := &fakeProducer{}
	ob := New(producer, "growth.events", 16, discardLogger())

	require.True(t, ob.Publish(KindExperimentKilled, "exp-2", nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ob.Run(ctx)

	assert.Equal(t, 1, producer.count())
}
