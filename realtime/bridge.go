package realtime

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/aboutevan/prello/domain"
)

// envelope carries an event between service instances on the redis
// events channel.
type envelope struct {
	Instance string       `json:"instance"`
	Exclude  string       `json:"exclude,omitempty"`
	Event    domain.Event `json:"event"`
}

// Bridge relays events between service instances over redis pub/sub so
// each instance can notify the connections attached to it locally.
type Bridge struct {
	rc       *redis.Client
	channel  string
	instance string
	logger   *log.Logger
}

func NewBridge(rc *redis.Client, channel string, logger *log.Logger) *Bridge {
	return &Bridge{rc: rc, channel: channel, instance: uuid.NewString(), logger: logger}
}

// Forward publishes a locally originated event for sibling instances.
// Failures are logged; local delivery already happened.
func (b *Bridge) Forward(ev domain.Event, exclude string) {
	payload, err := sonic.Marshal(envelope{Instance: b.instance, Exclude: exclude, Event: ev})
	if err != nil {
		b.logger.WithError(err).Error("encode bridge envelope")
		return
	}
	if err := b.rc.Publish(context.Background(), b.channel, payload).Err(); err != nil {
		b.logger.WithError(err).Error("publish bridge event")
	}
}

// Run subscribes to the events channel and hands every remote event to
// deliver. It reconnects on channel closure and returns when ctx ends.
func (b *Bridge) Run(ctx context.Context, deliver func(ev domain.Event, exclude string)) {
	for {
		sub := b.rc.Subscribe(ctx, b.channel)
		ch := sub.Channel()
	recv:
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break recv
				}
				var env envelope
				if err := sonic.UnmarshalString(msg.Payload, &env); err != nil {
					b.logger.WithError(err).Error("unable to parse bridge event")
					continue
				}
				if env.Instance == b.instance {
					continue
				}
				deliver(env.Event, env.Exclude)
			}
		}
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		b.logger.Error("bridge pubsub channel closed, reconnecting")
		time.Sleep(time.Second)
	}
}
