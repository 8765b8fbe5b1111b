package bus_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/fluxorio/msgbus/pkg/bus"
	"github.com/fluxorio/msgbus/pkg/core"
	"github.com/fluxorio/msgbus/pkg/future"
	"github.com/fluxorio/msgbus/pkg/worker"
)

type ping struct{ N int }

type pong struct{ S string }

type named interface{ Name() string }

func (p ping) Name() string { return fmt.Sprint("ping-", p.N) }

// orderLog records which handler saw which message, across handlers.
type orderLog struct {
	mu      sync.Mutex
	entries []string
}

func (l *orderLog) add(s string) {
	l.mu.Lock()
	l.entries = append(l.entries, s)
	l.mu.Unlock()
}

func (l *orderLog) get() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.entries...)
}

type recorder[M any] struct {
	name      string
	log       *orderLog
	err       error
	panicWith any

	mu  sync.Mutex
	got []M
}

func (r *recorder[M]) Handle(_ context.Context, msg M) error {
	if r.log != nil {
		r.log.add(fmt.Sprintf("%s:%v", r.name, msg))
	}
	r.mu.Lock()
	r.got = append(r.got, msg)
	r.mu.Unlock()
	if r.panicWith != nil {
		panic(r.panicWith)
	}
	return r.err
}

func (r *recorder[M]) messages() []M {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]M(nil), r.got...)
}

// sliceHandler is a valid Handler whose values cannot be compared.
type sliceHandler []int

func (sliceHandler) Handle(context.Context, ping) error { return nil }

// boxedHandler has a comparable type but may hold an uncomparable value.
type boxedHandler struct{ fn any }

func (boxedHandler) Handle(context.Context, ping) error { return nil }

func newBus(opts ...bus.Option) *bus.Bus {
	return bus.New(append([]bus.Option{bus.WithLogger(core.NopLogger())}, opts...)...)
}

func TestSubscribe_Idempotent(t *testing.T) {
	b := newBus()
	h := &recorder[ping]{}

	require.NoError(t, bus.Subscribe[ping](b, h))
	require.NoError(t, bus.Subscribe[ping](b, h))
	assert.Equal(t, 1, bus.SubscriberCount[ping](b))

	require.NoError(t, bus.Publish(context.Background(), b, ping{N: 1}))
	assert.Equal(t, []ping{{N: 1}}, h.messages())
}

func TestUnsubscribe(t *testing.T) {
	b := newBus()
	h := &recorder[ping]{}
	other := &recorder[ping]{}

	require.NoError(t, bus.Subscribe[ping](b, h))
	assert.False(t, bus.Unsubscribe[ping](b, other), "never subscribed")
	assert.True(t, bus.Unsubscribe[ping](b, h))
	assert.False(t, bus.Unsubscribe[ping](b, h), "second removal is a no-op")
	assert.Equal(t, 0, bus.SubscriberCount[ping](b))

	require.NoError(t, bus.Publish(context.Background(), b, ping{N: 1}))
	assert.Empty(t, h.messages())
}

func TestBus_Keys(t *testing.T) {
	b := newBus()
	h := &recorder[ping]{}
	require.NoError(t, bus.Subscribe[ping](b, h))
	require.NoError(t, bus.Subscribe[pong](b, &recorder[pong]{}))

	assert.ElementsMatch(t, []bus.Key{bus.KeyOf[ping](), bus.KeyOf[pong]()}, b.Keys())

	bus.Unsubscribe[ping](b, h)
	assert.Equal(t, []bus.Key{bus.KeyOf[pong]()}, b.Keys())
}

func TestPublish_NoSubscribers(t *testing.T) {
	b := newBus()
	assert.NoError(t, bus.Publish(context.Background(), b, ping{N: 1}))
}

func TestPublish_RegistrationOrder(t *testing.T) {
	b := newBus()
	log := &orderLog{}
	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, bus.Subscribe[ping](b, &recorder[ping]{name: name, log: log}))
	}

	require.NoError(t, bus.Publish(context.Background(), b, ping{N: 7}))
	assert.Equal(t, []string{"a:{7}", "b:{7}", "c:{7}"}, log.get())
}

func TestPublish_FailureIsolation(t *testing.T) {
	var failures []*bus.SubscriberError
	b := newBus(
		bus.WithErrorHandler(func(err *bus.SubscriberError) { failures = append(failures, err) }),
		bus.WithRecentFailures(10),
	)

	failing := &recorder[ping]{err: errors.New("nope")}
	panicking := &recorder[ping]{panicWith: "boom"}
	healthy := &recorder[ping]{}
	require.NoError(t, bus.Subscribe[ping](b, failing))
	require.NoError(t, bus.Subscribe[ping](b, panicking))
	require.NoError(t, bus.Subscribe[ping](b, healthy))

	msg := ping{N: 42}
	require.NoError(t, bus.Publish(context.Background(), b, msg))

	assert.Equal(t, []ping{msg}, failing.messages())
	assert.Equal(t, []ping{msg}, panicking.messages())
	assert.Equal(t, []ping{msg}, healthy.messages())

	require.Len(t, failures, 2)
	assert.False(t, failures[0].Panicked())
	assert.EqualError(t, failures[0].Unwrap(), "nope")
	assert.Same(t, failing, failures[0].Subscriber)
	assert.Equal(t, msg, failures[0].Message)
	assert.Equal(t, bus.KeyOf[ping](), failures[0].Key)
	assert.NotEmpty(t, failures[0].ID)

	assert.True(t, failures[1].Panicked())
	assert.ErrorIs(t, failures[1], &core.BusError{Code: core.CodePanic})
	var perr *core.PanicError
	require.ErrorAs(t, failures[1], &perr)
	assert.Equal(t, "boom", perr.Value)
	assert.NotEmpty(t, perr.Stack)

	recent := b.RecentFailures()
	require.Len(t, recent, 2)
	assert.Equal(t, failures[0].ID, recent[0].ID)
	assert.Equal(t, failures[1].ID, recent[1].ID)
}

func TestPublish_ErrorHandlerPanicIsContained(t *testing.T) {
	b := newBus(bus.WithErrorHandler(func(*bus.SubscriberError) { panic("handler bug") }))
	healthy := &recorder[ping]{}
	require.NoError(t, bus.Subscribe[ping](b, &recorder[ping]{err: errors.New("x")}))
	require.NoError(t, bus.Subscribe[ping](b, healthy))

	require.NoError(t, bus.Publish(context.Background(), b, ping{N: 1}))
	assert.Len(t, healthy.messages(), 1)
}

func TestPublish_RequestIDOnFailure(t *testing.T) {
	var got *bus.SubscriberError
	b := newBus(bus.WithErrorHandler(func(err *bus.SubscriberError) { got = err }))
	require.NoError(t, bus.Subscribe[ping](b, &recorder[ping]{err: errors.New("x")}))

	ctx := core.WithRequestID(context.Background(), "req-1")
	require.NoError(t, bus.Publish(ctx, b, ping{}))
	require.NotNil(t, got)
	assert.Equal(t, "req-1", got.RequestID)
}

func TestPublish_TypeIsolation(t *testing.T) {
	b := newBus()
	values := &recorder[ping]{}
	pointers := &recorder[*ping]{}
	others := &recorder[pong]{}
	require.NoError(t, bus.Subscribe[ping](b, values))
	require.NoError(t, bus.Subscribe[*ping](b, pointers))
	require.NoError(t, bus.Subscribe[pong](b, others))

	require.NoError(t, bus.Publish(context.Background(), b, ping{N: 1}))
	assert.Len(t, values.messages(), 1)
	assert.Empty(t, pointers.messages())
	assert.Empty(t, others.messages())

	require.NoError(t, bus.Publish(context.Background(), b, &ping{N: 2}))
	assert.Len(t, values.messages(), 1)
	assert.Len(t, pointers.messages(), 1)
	assert.Empty(t, others.messages())
}

func TestPublish_AbstractType(t *testing.T) {
	b := newBus()

	err := bus.Publish[named](context.Background(), b, ping{N: 1})
	var perr *bus.PublishError
	require.ErrorAs(t, err, &perr)
	assert.ErrorIs(t, err, bus.ErrAbstractType)
	assert.ErrorIs(t, err, &core.BusError{Code: core.CodePublish})

	err = bus.Subscribe[named](b, &recorder[named]{})
	assert.ErrorIs(t, err, bus.ErrAbstractType)

	// a concrete type implementing the interface is not delivered to it either
	assert.Equal(t, 0, bus.SubscriberCount[named](b))
}

func TestPublish_DeclaredTypes(t *testing.T) {
	b := newBus(bus.WithDeclaredTypes(bus.KeyOf[ping]()))

	require.NoError(t, bus.Subscribe[ping](b, &recorder[ping]{}))
	require.NoError(t, bus.Publish(context.Background(), b, ping{}))

	err := bus.Publish(context.Background(), b, pong{})
	assert.ErrorIs(t, err, bus.ErrUndeclaredType)
	assert.ErrorIs(t, bus.Subscribe[pong](b, &recorder[pong]{}), bus.ErrUndeclaredType)
	_, err = bus.PublishAsync(context.Background(), b, pong{}).Wait()
	assert.ErrorIs(t, err, bus.ErrUndeclaredType)
}

func TestPublishKey_TypeMismatch(t *testing.T) {
	b := newBus()
	err := b.PublishKey(context.Background(), bus.KeyOf[ping](), pong{})
	var perr *bus.PublishError
	assert.ErrorAs(t, err, &perr)
}

func TestSubscribe_InvalidHandlers(t *testing.T) {
	b := newBus()

	assert.ErrorIs(t, bus.Subscribe[ping](b, nil), bus.ErrNilHandler)
	assert.ErrorIs(t, bus.Subscribe[ping](b, sliceHandler{1}), bus.ErrUncomparableHandler)
	assert.False(t, bus.Unsubscribe[ping](b, sliceHandler{1}))

	// the type is comparable, the value inside it is not
	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, bus.Subscribe[ping](b, boxedHandler{fn: func() {}}), bus.ErrUncomparableHandler)
	}
	assert.False(t, bus.Unsubscribe[ping](b, boxedHandler{fn: func() {}}))
	assert.Equal(t, 0, bus.SubscriberCount[ping](b))

	boxed := boxedHandler{fn: "same"}
	require.NoError(t, bus.Subscribe[ping](b, boxed))
	require.NoError(t, bus.Subscribe[ping](b, boxed))
	assert.Equal(t, 1, bus.SubscriberCount[ping](b))
	require.NoError(t, bus.Subscribe[ping](b, boxedHandler{fn: "other"}))
	assert.ErrorIs(t, bus.Subscribe[ping](b, boxedHandler{fn: func() {}}), bus.ErrUncomparableHandler)
	assert.Equal(t, 2, bus.SubscriberCount[ping](b))

	assert.ErrorIs(t, bus.Subscribe[ping](nil, &recorder[ping]{}), bus.ErrNilBroker)
	assert.ErrorIs(t, bus.Publish(context.Background(), nil, ping{}), bus.ErrNilBroker)
}

func TestHandlerFunc_Identity(t *testing.T) {
	b := newBus()
	var calls atomic.Int32
	fn := func(context.Context, ping) error {
		calls.Add(1)
		return nil
	}

	h1 := bus.HandlerFunc(fn)
	h2 := bus.HandlerFunc(fn)
	require.NoError(t, bus.Subscribe(b, h1))
	require.NoError(t, bus.Subscribe(b, h2))
	require.NoError(t, bus.Subscribe(b, bus.Callback(func(ping) { calls.Add(1) })))
	assert.Equal(t, 3, bus.SubscriberCount[ping](b))

	require.NoError(t, bus.Publish(context.Background(), b, ping{}))
	assert.Equal(t, int32(3), calls.Load())

	assert.True(t, bus.Unsubscribe(b, h1))
	assert.Equal(t, 2, bus.SubscriberCount[ping](b))
}

func TestPublishAsync(t *testing.T) {
	b := newBus()
	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, bus.Subscribe(b, bus.HandlerFunc(func(context.Context, ping) error {
		close(started)
		<-release
		return nil
	})))
	require.NoError(t, bus.Subscribe[ping](b, &recorder[ping]{err: errors.New("x")}))

	f := bus.PublishAsync(context.Background(), b, ping{N: 1})
	<-started
	assert.False(t, f.IsDone(), "publisher is not blocked by subscribers")
	close(release)

	d, err := f.Wait()
	require.NoError(t, err)
	assert.Equal(t, bus.Delivery{Key: bus.KeyOf[ping](), Subscribers: 2, Failed: 1}, d)
}

func TestPublishAsync_CanceledBeforeFanOut(t *testing.T) {
	b := newBus()
	h := &recorder[ping]{}
	require.NoError(t, bus.Subscribe[ping](b, h))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := bus.PublishAsync(ctx, b, ping{}).Wait()
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, h.messages())
}

func TestPublishAsync_Limit(t *testing.T) {
	b := newBus(bus.WithAsyncLimit(1))
	var running, peak atomic.Int32
	require.NoError(t, bus.Subscribe(b, bus.HandlerFunc(func(context.Context, ping) error {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		running.Add(-1)
		return nil
	})))

	var g errgroup.Group
	for i := 0; i < 5; i++ {
		f := bus.PublishAsync(context.Background(), b, ping{N: i})
		g.Go(func() error {
			_, err := f.Wait()
			return err
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), peak.Load())
}

func TestPublishAsync_Executor(t *testing.T) {
	pool, err := worker.NewWorkerPool(2, 8)
	require.NoError(t, err)
	require.NoError(t, pool.Start())

	b := newBus(bus.WithExecutor(pool))
	h := &recorder[ping]{}
	require.NoError(t, bus.Subscribe[ping](b, h))

	d, err := bus.PublishAsync(context.Background(), b, ping{N: 3}).Wait()
	require.NoError(t, err)
	assert.Equal(t, 1, d.Subscribers)
	assert.Equal(t, []ping{{N: 3}}, h.messages())

	require.NoError(t, pool.Stop(context.Background()))
	_, err = bus.PublishAsync(context.Background(), b, ping{}).Wait()
	assert.ErrorIs(t, err, worker.ErrWorkerPoolClosed)
}

func TestPublishAsync_SaturatedExecutorDoesNotBlock(t *testing.T) {
	pool, err := worker.NewWorkerPool(1, 0)
	require.NoError(t, err)
	require.NoError(t, pool.Start())
	defer pool.Stop(context.Background())

	release := make(chan struct{})
	require.NoError(t, pool.Submit(func() { <-release }))
	defer close(release)

	b := newBus(bus.WithExecutor(pool))
	h := &recorder[ping]{}
	require.NoError(t, bus.Subscribe[ping](b, h))

	published := make(chan *future.Future[bus.Delivery], 1)
	go func() { published <- bus.PublishAsync(context.Background(), b, ping{N: 9}) }()

	var f *future.Future[bus.Delivery]
	select {
	case f = <-published:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a saturated executor")
	}
	d, err := f.Wait()
	require.NoError(t, err)
	assert.Equal(t, 1, d.Subscribers)
	assert.Equal(t, []ping{{N: 9}}, h.messages())
}

func TestBus_ConcurrentStress(t *testing.T) {
	b := newBus()
	handlers := make([]*recorder[ping], 10)
	for i := range handlers {
		handlers[i] = &recorder[ping]{}
	}

	var g errgroup.Group
	for i := 0; i < 1000; i++ {
		i := i
		h := handlers[i%len(handlers)]
		switch i % 3 {
		case 0:
			g.Go(func() error { return bus.Subscribe[ping](b, h) })
		case 1:
			g.Go(func() error {
				bus.Unsubscribe[ping](b, h)
				return nil
			})
		default:
			g.Go(func() error { return bus.Publish(context.Background(), b, ping{N: i}) })
		}
	}
	require.NoError(t, g.Wait())
	assert.LessOrEqual(t, bus.SubscriberCount[ping](b), len(handlers))
}

type tick struct{ N int }

// subscribeAll registers hs concurrently with a transient handler that is
// added and removed again, so the key sees churn while hs land.
func subscribeAll[M any](g *errgroup.Group, b bus.Broker, hs []*recorder[M]) {
	for _, h := range hs {
		h := h
		g.Go(func() error { return bus.Subscribe[M](b, h) })
		g.Go(func() error {
			transient := &recorder[M]{}
			if err := bus.Subscribe[M](b, transient); err != nil {
				return err
			}
			if !bus.Unsubscribe[M](b, transient) {
				return fmt.Errorf("transient %s subscriber lost", bus.KeyOf[M]())
			}
			return nil
		})
	}
}

func newRecorders[M any](n int) []*recorder[M] {
	hs := make([]*recorder[M], n)
	for i := range hs {
		hs[i] = &recorder[M]{}
	}
	return hs
}

func deliveredCounts[M any](hs []*recorder[M]) []int {
	counts := make([]int, len(hs))
	for i, h := range hs {
		counts[i] = len(h.messages())
	}
	return counts
}

func TestBus_ConcurrentStressAcrossKeys(t *testing.T) {
	const perKey = 50
	b := newBus()
	pings := newRecorders[ping](perKey)
	pongs := newRecorders[pong](perKey)
	ticks := newRecorders[tick](perKey)

	ctx := context.Background()
	var g errgroup.Group
	subscribeAll(&g, b, pings)
	subscribeAll(&g, b, pongs)
	subscribeAll(&g, b, ticks)
	for i := 0; i < 300; i++ {
		i := i
		g.Go(func() error {
			switch i % 3 {
			case 0:
				return bus.Publish(ctx, b, ping{N: i})
			case 1:
				return bus.Publish(ctx, b, pong{S: fmt.Sprint(i)})
			default:
				return bus.Publish(ctx, b, tick{N: i})
			}
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, perKey, bus.SubscriberCount[ping](b))
	assert.Equal(t, perKey, bus.SubscriberCount[pong](b))
	assert.Equal(t, perKey, bus.SubscriberCount[tick](b))

	pingsBefore, pongsBefore, ticksBefore := deliveredCounts(pings), deliveredCounts(pongs), deliveredCounts(ticks)
	require.NoError(t, bus.Publish(ctx, b, ping{N: -1}))
	require.NoError(t, bus.Publish(ctx, b, pong{S: "last"}))
	require.NoError(t, bus.Publish(ctx, b, tick{N: -1}))

	for i := 0; i < perKey; i++ {
		assert.Equal(t, pingsBefore[i]+1, len(pings[i].messages()), "ping handler %d", i)
		assert.Equal(t, pongsBefore[i]+1, len(pongs[i].messages()), "pong handler %d", i)
		assert.Equal(t, ticksBefore[i]+1, len(ticks[i].messages()), "tick handler %d", i)
	}
}
