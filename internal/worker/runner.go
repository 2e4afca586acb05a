package worker

import (
	"context"
	"log"
	"time"

	"github.com/ovictormagalhaes/DeFi10-sub001/internal/bus"
)

// Runner drives one consumer loop, restarting it with a short backoff when
// the consume call returns an error that is not a shutdown.
type Runner struct {
	name     string
	consumer bus.Consumer
	handler  func(context.Context, bus.Message) error
	logger   *log.Logger
}

func NewRunner(name string, consumer bus.Consumer, handler func(context.Context, bus.Message) error, logger *log.Logger) *Runner {
	return &Runner{
		name:     name,
		consumer: consumer,
		handler:  handler,
		logger:   logger,
	}
}

func (r *Runner) Start(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		err := r.consumer.Consume(ctx, r.handler)
		if err == nil || ctx.Err() != nil {
			return
		}
		if r.logger != nil {
			r.logger.Printf("%s consume loop error: %v", r.name, err)
		}

		timer := time.NewTimer(2 * time.Second)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}
