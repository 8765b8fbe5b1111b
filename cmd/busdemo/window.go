package main

import (
	"context"
	"sync/atomic"

	"github.com/fluxorio/msgbus/pkg/bus"
	"github.com/fluxorio/msgbus/pkg/core"
)

// windowRouter stands in for a window's event loop: it tracks geometry and
// reacts to input and animation events published by other components.
type windowRouter struct {
	bus    *bus.Bus
	logger core.Logger

	width, height atomic.Int64

	onResize   bus.Handler[WindowResized]
	onKey      bus.Handler[KeyPressed]
	onFinished bus.Handler[AnimationFinished]
}

func newWindowRouter(b *bus.Bus, logger core.Logger) *windowRouter {
	r := &windowRouter{bus: b, logger: logger.WithFields(map[string]interface{}{"component": "window"})}
	r.onResize = bus.HandlerFunc(r.resized)
	r.onKey = bus.HandlerFunc(r.keyPressed)
	r.onFinished = bus.Callback(func(e AnimationFinished) {
		r.logger.Info("animation ", e.Name, " finished after ", e.Frames, " frames")
	})
	return r
}

func (r *windowRouter) Start() error {
	if err := bus.Subscribe(r.bus, r.onResize); err != nil {
		return err
	}
	if err := bus.Subscribe(r.bus, r.onKey); err != nil {
		return err
	}
	return bus.Subscribe(r.bus, r.onFinished)
}

func (r *windowRouter) Stop() {
	bus.Unsubscribe(r.bus, r.onResize)
	bus.Unsubscribe(r.bus, r.onKey)
	bus.Unsubscribe(r.bus, r.onFinished)
}

func (r *windowRouter) resized(ctx context.Context, e WindowResized) error {
	r.width.Store(int64(e.Width))
	r.height.Store(int64(e.Height))
	r.logger.WithContext(ctx).WithFields(map[string]interface{}{
		"width":  e.Width,
		"height": e.Height,
	}).Info("window resized")
	return nil
}

func (r *windowRouter) keyPressed(ctx context.Context, e KeyPressed) error {
	r.logger.WithContext(ctx).Debug("key pressed: ", e.Key)
	return nil
}
