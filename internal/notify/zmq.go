package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-zeromq/zmq4"
	"go.uber.org/zap"
)

// ZMQSubscriber reads a daemon's ZMQ publisher.
type ZMQSubscriber struct {
	Asset    int
	Endpoint string
	Log      *zap.Logger
}

func (z *ZMQSubscriber) Run(ctx context.Context, out chan<- Signal) error {
	failures := 0
	for {
		err := feed(ctx, z.Endpoint, func(m Message) bool {
			failures = 0
			s, ok := SignalFor(z.Asset, m)
			if !ok {
				return true
			}
			return deliver(ctx, out, s)
		})
		if ctx.Err() != nil {
			return nil
		}
		failures++
		z.Log.Warn("zmq feed lost", zap.String("endpoint", z.Endpoint), zap.Int("asset", z.Asset), zap.Error(err))
		if !backoff(ctx, failures) {
			return nil
		}
	}
}

// feed subscribes to every topic on endpoint and hands each message to fn
// until fn returns false, ctx is done or the socket fails.
func feed(ctx context.Context, endpoint string, fn func(Message) bool) error {
	sub := zmq4.NewSub(ctx, zmq4.WithAutomaticReconnect(true))
	defer sub.Close()
	if err := sub.Dial(endpoint); err != nil {
		return fmt.Errorf("dial %s: %w", endpoint, err)
	}
	if err := sub.SetOption(zmq4.OptionSubscribe, ""); err != nil {
		return fmt.Errorf("subscribe %s: %w", endpoint, err)
	}
	for {
		msg, err := sub.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("recv %s: %w", endpoint, err)
		}
		if len(msg.Frames) < 2 {
			continue
		}
		if !fn(Message{Topic: string(msg.Frames[0]), Body: msg.Frames[1]}) {
			return errors.New("feed stopped")
		}
	}
}
