package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"realtime-chat-be/pkg/events"

	"github.com/nats-io/nats.go"
)

// Subscriber delivers envelopes published on subject to a handler.
type Subscriber struct {
	nc      *nats.Conn
	subject string

	mu   sync.Mutex
	subs []*nats.Subscription
}

func NewSubscriber(nc *nats.Conn, subject string) *Subscriber {
	return &Subscriber{nc: nc, subject: subject}
}

func (s *Subscriber) Subscribe(ctx context.Context, handler func(events.Envelope)) error {
	sub, err := s.nc.Subscribe(s.subject, func(msg *nats.Msg) {
		var env events.Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			log.Printf("Error unmarshalling envelope on %s: %v", msg.Subject, err)
			return
		}
		handler(env)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", s.subject, err)
	}
	// round trip to the server so the interest is registered before we return
	if err := s.nc.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return fmt.Errorf("failed to flush subscription to %s: %w", s.subject, err)
	}

	s.mu.Lock()
	s.subs = append(s.subs, sub)
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
	}()
	return nil
}

func (s *Subscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	s.subs = nil
	return nil
}

// Bus joins a publisher and a subscriber on one subject. The connection
// stays open on Close; its owner closes it.
type Bus struct {
	*Publisher
	*Subscriber
}

func NewBus(nc *nats.Conn, subject string) *Bus {
	return &Bus{
		Publisher:  NewPublisher(nc, subject),
		Subscriber: NewSubscriber(nc, subject),
	}
}
