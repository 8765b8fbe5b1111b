package bus_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxorio/msgbus/pkg/bus"
	"github.com/fluxorio/msgbus/pkg/core"
	"github.com/fluxorio/msgbus/pkg/worker"
)

func newQueued(t *testing.T, inner *bus.Bus, opts ...bus.QueueOption) *bus.QueuedBus {
	t.Helper()
	q, err := bus.NewQueued(inner, append([]bus.QueueOption{bus.WithQueueLogger(core.NopLogger())}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return q
}

// gate blocks the first delivered ping until opened.
type gate struct {
	started chan struct{}
	open    chan struct{}
	first   bool
}

func newGate() *gate {
	return &gate{started: make(chan struct{}), open: make(chan struct{})}
}

func (g *gate) Handle(context.Context, ping) error {
	if !g.first {
		g.first = true
		close(g.started)
		<-g.open
	}
	return nil
}

func TestQueuedBus_FIFOAcrossTypes(t *testing.T) {
	inner := newBus()
	q := newQueued(t, inner)
	log := &orderLog{}
	require.NoError(t, bus.Subscribe[ping](q, &recorder[ping]{name: "ping", log: log}))
	require.NoError(t, bus.Subscribe[pong](q, &recorder[pong]{name: "pong", log: log}))

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, q, ping{N: 1}))
	require.NoError(t, bus.Publish(ctx, q, pong{S: "2"}))
	require.NoError(t, bus.Publish(ctx, q, ping{N: 3}))
	require.NoError(t, q.Flush(ctx))

	assert.Equal(t, []string{"ping:{1}", "pong:{2}", "ping:{3}"}, log.get())
}

func TestQueuedBus_PublishDoesNotRunSubscribers(t *testing.T) {
	q := newQueued(t, newBus())
	g := newGate()
	require.NoError(t, bus.Subscribe[ping](q, g))

	done := make(chan error, 1)
	go func() { done <- bus.Publish(context.Background(), q, ping{}) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a subscriber")
	}
	<-g.started
	assert.Equal(t, bus.StateDelivering, q.State())
	close(g.open)
}

func TestQueuedBus_FullDrainOnShutdown(t *testing.T) {
	const backlog = 100

	q := newQueued(t, newBus())
	g := newGate()
	h := &recorder[ping]{}
	require.NoError(t, bus.Subscribe[ping](q, g))
	require.NoError(t, bus.Subscribe[ping](q, h))

	ctx := context.Background()
	for i := 0; i < backlog; i++ {
		require.NoError(t, bus.Publish(ctx, q, ping{N: i}))
	}
	<-g.started

	shutdown := make(chan error, 1)
	go func() { shutdown <- q.Shutdown(ctx) }()

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	require.Eventually(t, func() bool {
		return errors.Is(q.Flush(canceled), bus.ErrQueueClosed)
	}, time.Second, time.Millisecond)
	assert.ErrorIs(t, bus.Publish(ctx, q, ping{N: -1}), bus.ErrQueueClosed)
	close(g.open)

	select {
	case err := <-shutdown:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown did not finish")
	}

	got := h.messages()
	require.Len(t, got, backlog)
	for i, m := range got {
		assert.Equal(t, i, m.N)
	}
	assert.Equal(t, bus.StateStopped, q.State())
	assert.Equal(t, 0, q.Len())
}

func TestQueuedBus_AfterShutdown(t *testing.T) {
	q := newQueued(t, newBus())
	ctx := context.Background()

	require.NoError(t, q.Shutdown(ctx))
	<-q.Done()

	assert.ErrorIs(t, bus.Publish(ctx, q, ping{}), bus.ErrQueueClosed)
	_, err := bus.PublishAsync(ctx, q, ping{}).Wait()
	assert.ErrorIs(t, err, bus.ErrQueueClosed)
	assert.ErrorIs(t, q.Flush(ctx), bus.ErrQueueClosed)
	assert.ErrorIs(t, q.Shutdown(ctx), bus.ErrQueueClosed)
	assert.ErrorIs(t, q.Close(), bus.ErrQueueClosed)
}

func TestQueuedBus_ShutdownDeadline(t *testing.T) {
	q := newQueued(t, newBus())
	g := newGate()
	require.NoError(t, bus.Subscribe[ping](q, g))
	require.NoError(t, bus.Publish(context.Background(), q, ping{}))
	<-g.started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Shutdown(ctx), context.DeadlineExceeded)

	close(g.open)
	select {
	case <-q.Done():
	case <-time.After(time.Second):
		t.Fatal("worker did not finish draining")
	}
	assert.Equal(t, bus.StateStopped, q.State())
}

func TestNewQueued_ConstructionErrors(t *testing.T) {
	stopped, err := worker.NewWorkerPool(1, 0)
	require.NoError(t, err)
	require.NoError(t, stopped.Start())
	require.NoError(t, stopped.Stop(context.Background()))

	tests := []struct {
		name  string
		inner *bus.Bus
		opts  []bus.QueueOption
	}{
		{name: "nil inner bus", inner: nil},
		{name: "nil worker pool", inner: newBus(), opts: []bus.QueueOption{bus.WithWorkerPool(nil)}},
		{name: "stopped worker pool", inner: newBus(), opts: []bus.QueueOption{bus.WithWorkerPool(stopped)}},
		{name: "negative capacity", inner: newBus(), opts: []bus.QueueOption{bus.WithQueueCapacity(-1, bus.OverflowBlock)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := bus.NewQueued(tt.inner, tt.opts...)
			assert.Nil(t, q)
			var cerr *core.ConstructionError
			require.ErrorAs(t, err, &cerr)
			assert.Equal(t, "queued bus", cerr.Component)
			assert.ErrorIs(t, err, &core.BusError{Code: core.CodeConstruction})
		})
	}
}

func TestQueuedBus_SharedPoolIsNotStopped(t *testing.T) {
	pool, err := worker.NewWorkerPool(2, 0)
	require.NoError(t, err)
	require.NoError(t, pool.Start())
	defer pool.Stop(context.Background())

	q, err := bus.NewQueued(newBus(), bus.WithWorkerPool(pool))
	require.NoError(t, err)
	h := &recorder[ping]{}
	require.NoError(t, bus.Subscribe[ping](q, h))
	require.NoError(t, bus.Publish(context.Background(), q, ping{N: 1}))
	require.NoError(t, q.Close())

	assert.Len(t, h.messages(), 1)
	assert.True(t, pool.IsRunning())
}

func TestQueuedBus_OverflowReject(t *testing.T) {
	q := newQueued(t, newBus(), bus.WithQueueCapacity(2, bus.OverflowReject))
	g := newGate()
	require.NoError(t, bus.Subscribe[ping](q, g))

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, q, ping{N: 1}))
	<-g.started

	require.NoError(t, bus.Publish(ctx, q, ping{N: 2}))
	require.NoError(t, bus.Publish(ctx, q, ping{N: 3}))
	assert.ErrorIs(t, bus.Publish(ctx, q, ping{N: 4}), bus.ErrQueueFull)
	assert.Equal(t, 2, q.Len())

	close(g.open)
	require.NoError(t, q.Flush(ctx))
	assert.Equal(t, 0, q.Len())
}

func TestQueuedBus_OverflowBlockHonoursContext(t *testing.T) {
	q := newQueued(t, newBus(), bus.WithQueueCapacity(1, bus.OverflowBlock))
	g := newGate()
	require.NoError(t, bus.Subscribe[ping](q, g))

	require.NoError(t, bus.Publish(context.Background(), q, ping{N: 1}))
	<-g.started
	require.NoError(t, bus.Publish(context.Background(), q, ping{N: 2}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, bus.Publish(ctx, q, ping{N: 3}), context.DeadlineExceeded)

	unblocked := make(chan error, 1)
	go func() { unblocked <- bus.Publish(context.Background(), q, ping{N: 4}) }()
	close(g.open)
	assert.NoError(t, <-unblocked)
}

func TestQueuedBus_PublishAsync(t *testing.T) {
	q := newQueued(t, newBus())
	h := &recorder[ping]{}
	require.NoError(t, bus.Subscribe[ping](q, h))

	d, err := bus.PublishAsync(context.Background(), q, ping{N: 5}).Wait()
	require.NoError(t, err)
	assert.True(t, d.Queued)
	assert.Equal(t, bus.KeyOf[ping](), d.Key)

	require.NoError(t, q.Flush(context.Background()))
	assert.Equal(t, []ping{{N: 5}}, h.messages())
}

func TestQueuedBus_SnapshotAtDelivery(t *testing.T) {
	q := newQueued(t, newBus())
	g := newGate()
	late := &recorder[ping]{}
	require.NoError(t, bus.Subscribe[ping](q, g))
	require.NoError(t, bus.Subscribe[ping](q, late))

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, q, ping{N: 1}))
	<-g.started
	require.NoError(t, bus.Publish(ctx, q, ping{N: 2}))
	assert.True(t, bus.Unsubscribe[ping](q, late))

	close(g.open)
	require.NoError(t, q.Flush(ctx))
	assert.Equal(t, []ping{{N: 1}}, late.messages())
}

func TestQueuedBus_FailureCorrelation(t *testing.T) {
	failures := make(chan *bus.SubscriberError, 2)
	inner := newBus(bus.WithErrorHandler(func(err *bus.SubscriberError) { failures <- err }))
	q := newQueued(t, inner)
	require.NoError(t, bus.Subscribe[ping](q, &recorder[ping]{err: errors.New("x")}))

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, q, ping{N: 1}))
	require.NoError(t, bus.Publish(core.WithRequestID(ctx, "req-7"), q, ping{N: 2}))
	require.NoError(t, q.Flush(ctx))

	first, second := <-failures, <-failures
	assert.NotEmpty(t, first.RequestID, "defaults to the envelope ID")
	assert.Equal(t, "req-7", second.RequestID)
}

func TestQueuedBus_Lifecycle(t *testing.T) {
	q := newQueued(t, newBus())
	require.Eventually(t, func() bool { return q.State() == bus.StateIdle }, time.Second, time.Millisecond)

	require.NoError(t, q.Close())
	assert.Equal(t, bus.StateStopped, q.State())
}

func TestNewQueued_LogsPoolShape(t *testing.T) {
	var out bytes.Buffer
	logger := core.NewLogger(core.LoggerConfig{JSONOutput: true, Level: "DEBUG", Output: &out})

	pool, err := worker.NewWorkerPool(2, 0)
	require.NoError(t, err)
	require.NoError(t, pool.Start())
	defer pool.Stop(context.Background())

	q, err := bus.NewQueued(newBus(), bus.WithWorkerPool(pool), bus.WithQueueLogger(logger))
	require.NoError(t, err)
	require.NoError(t, q.Close())

	var started map[string]any
	for _, line := range bytes.Split(bytes.TrimSpace(out.Bytes()), []byte("\n")) {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(line, &entry))
		if entry["msg"] == "queued bus started" {
			started = entry
		}
	}
	require.NotNil(t, started)
	assert.Equal(t, float64(2), started["workers"])
	assert.Equal(t, true, started["shared_pool"])
	assert.Equal(t, "debug", started["level"])
}
