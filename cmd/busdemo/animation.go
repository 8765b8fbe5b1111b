package main

import (
	"context"
	"sync"
	"time"

	"github.com/fluxorio/msgbus/pkg/bus"
	"github.com/fluxorio/msgbus/pkg/core"
	"github.com/fluxorio/msgbus/pkg/observability/otel"
)

const frameInterval = 16 * time.Millisecond

// animationScheduler publishes a FrameTick per frame and announces when the
// animation completes. Frame ticks travel over frames, which may be a
// QueuedBus; completion is published on events.
type animationScheduler struct {
	frames bus.Broker
	events *bus.Bus
	logger core.Logger
	total  int

	onFrame  bus.Handler[FrameTick]
	onResize bus.Handler[WindowResized]

	mu     sync.Mutex
	played int
	aspect float64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newAnimationScheduler(frames bus.Broker, events *bus.Bus, logger core.Logger, total int) *animationScheduler {
	s := &animationScheduler{
		frames: frames,
		events: events,
		logger: logger.WithFields(map[string]interface{}{"component": "animation"}),
		total:  total,
		aspect: 16.0 / 9.0,
	}
	s.onFrame = otel.WrapHandler(bus.HandlerFunc(s.frame))
	s.onResize = bus.Callback(func(e WindowResized) {
		if e.Height == 0 {
			return
		}
		s.mu.Lock()
		s.aspect = float64(e.Width) / float64(e.Height)
		s.mu.Unlock()
	})
	return s
}

func (s *animationScheduler) Start(ctx context.Context) error {
	if err := bus.Subscribe(s.frames, s.onFrame); err != nil {
		return err
	}
	if err := bus.Subscribe(s.events, s.onResize); err != nil {
		return err
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.tick(ctx)
	return nil
}

func (s *animationScheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	bus.Unsubscribe(s.frames, s.onFrame)
	bus.Unsubscribe(s.events, s.onResize)
}

func (s *animationScheduler) tick(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()

	for n := 1; n <= s.total; n++ {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if err := otel.PublishWithSpan(ctx, s.frames, FrameTick{Frame: n, At: now}); err != nil {
				s.logger.Warn("frame dropped: ", err)
			}
		}
	}
}

func (s *animationScheduler) frame(ctx context.Context, e FrameTick) error {
	s.mu.Lock()
	s.played++
	played, aspect := s.played, s.aspect
	s.mu.Unlock()

	if played%60 == 0 {
		s.logger.WithContext(ctx).Debug("frame ", e.Frame, " aspect ", aspect)
	}
	if played == s.total {
		f := otel.PublishAsyncWithSpan(ctx, s.events, AnimationFinished{Name: "intro", Frames: played})
		f.OnFailure(func(err error) { s.logger.Error("announce finish: ", err) })
	}
	return nil
}
