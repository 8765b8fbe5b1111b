package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxorio/msgbus/pkg/bus"
	"github.com/fluxorio/msgbus/pkg/core"
)

func TestCollaborators(t *testing.T) {
	logger := core.NopLogger()
	b := bus.New(bus.WithLogger(logger))
	q, err := bus.NewQueued(b, bus.WithQueueLogger(logger))
	require.NoError(t, err)

	finished := make(chan AnimationFinished, 1)
	require.NoError(t, bus.Subscribe(b, bus.Callback(func(e AnimationFinished) { finished <- e })))

	router := newWindowRouter(b, logger)
	require.NoError(t, router.Start())
	scheduler := newAnimationScheduler(q, b, logger, 3)
	require.NoError(t, scheduler.Start(context.Background()))

	require.NoError(t, bus.Publish(context.Background(), b, WindowResized{Width: 800, Height: 400}))
	assert.Equal(t, int64(800), router.width.Load())

	select {
	case e := <-finished:
		assert.Equal(t, AnimationFinished{Name: "intro", Frames: 3}, e)
	case <-time.After(2 * time.Second):
		t.Fatal("animation did not finish")
	}

	scheduler.Stop()
	router.Stop()
	require.NoError(t, q.Shutdown(context.Background()))
	assert.Equal(t, 0, bus.SubscriberCount[FrameTick](b))
	assert.Equal(t, 1, bus.SubscriberCount[AnimationFinished](b))
}
