package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// EventKind identifies a chat store mutation.
type EventKind string

const (
	// EventMessageCreated fires when a message is posted.
	EventMessageCreated EventKind = "message.created"

	// EventProfileUpdated fires when a user edits their profile.
	EventProfileUpdated EventKind = "profile.updated"
)

// NATS subjects carrying the events.
const (
	subjectMessageCreated = "chat.message.created"
	subjectProfileUpdated = "chat.user.profile_updated"
)

// Event is one chat mutation. Exactly one of Message or Profile is set,
// according to Kind.
type Event struct {
	Kind    EventKind    `json:"kind"`
	Message *Message     `json:"message,omitempty"`
	Profile *UserProfile `json:"profile,omitempty"`
}

// Handler processes one event. Errors are logged, not redelivered; the
// full-reindex job is the recovery path for missed events.
type Handler func(ctx context.Context, event Event)

// Subscription is a live event subscription.
type Subscription interface {
	// Drain processes buffered events then stops delivery.
	Drain() error
}

// Source delivers chat mutation events.
type Source interface {
	Subscribe(ctx context.Context, kinds []EventKind, handler Handler) (Subscription, error)
	Close() error
}

// ErrUnknownEventKind indicates a kind this source cannot deliver.
var ErrUnknownEventKind = errors.New("unknown event kind")

// NATSSource implements Source on a NATS connection.
type NATSSource struct {
	conn   *nats.Conn
	logger *zap.Logger
}

// NewNATSSource connects to NATS with reconnect-forever semantics.
func NewNATSSource(url string, logger *zap.Logger) (*NATSSource, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats at %s: %w", url, err)
	}
	logger.Info("connected to nats", zap.String("url", url))
	return &NATSSource{conn: conn, logger: logger}, nil
}

func subjectFor(kind EventKind) (string, error) {
	switch kind {
	case EventMessageCreated:
		return subjectMessageCreated, nil
	case EventProfileUpdated:
		return subjectProfileUpdated, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownEventKind, kind)
	}
}

type natsSubscription struct {
	subs []*nats.Subscription
}

func (s *natsSubscription) Drain() error {
	var firstErr error
	for _, sub := range s.subs {
		if err := sub.Drain(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Subscribe starts delivering events of the given kinds to the handler.
// Each NATS message is decoded and handled on the subscription goroutine;
// malformed payloads are logged and dropped.
func (n *NATSSource) Subscribe(ctx context.Context, kinds []EventKind, handler Handler) (Subscription, error) {
	if len(kinds) == 0 {
		return nil, errors.New("at least one event kind required")
	}

	subscription := &natsSubscription{}
	for _, kind := range kinds {
		subject, err := subjectFor(kind)
		if err != nil {
			_ = subscription.Drain()
			return nil, err
		}

		kind := kind
		sub, err := n.conn.Subscribe(subject, func(msg *nats.Msg) {
			event, err := decodeEvent(kind, msg.Data)
			if err != nil {
				n.logger.Error("dropping malformed chat event",
					zap.String("subject", msg.Subject),
					zap.Error(err),
				)
				return
			}
			handler(ctx, event)
		})
		if err != nil {
			_ = subscription.Drain()
			return nil, fmt.Errorf("subscribing to %s: %w", subject, err)
		}
		subscription.subs = append(subscription.subs, sub)
	}

	return subscription, nil
}

// decodeEvent parses a raw NATS payload into an Event. The chat backend
// publishes the bare entity on each subject, not an envelope.
func decodeEvent(kind EventKind, data []byte) (Event, error) {
	switch kind {
	case EventMessageCreated:
		var m Message
		if err := json.Unmarshal(data, &m); err != nil {
			return Event{}, fmt.Errorf("decoding message event: %w", err)
		}
		if m.ID == "" {
			return Event{}, errors.New("message event missing id")
		}
		return Event{Kind: kind, Message: &m}, nil
	case EventProfileUpdated:
		var p UserProfile
		if err := json.Unmarshal(data, &p); err != nil {
			return Event{}, fmt.Errorf("decoding profile event: %w", err)
		}
		if p.UserID == "" {
			return Event{}, errors.New("profile event missing userId")
		}
		return Event{Kind: kind, Profile: &p}, nil
	default:
		return Event{}, fmt.Errorf("%w: %q", ErrUnknownEventKind, kind)
	}
}

// Close closes the NATS connection.
func (n *NATSSource) Close() error {
	n.conn.Close()
	return nil
}

var _ Source = (*NATSSource)(nil)
