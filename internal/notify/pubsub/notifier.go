// Package pubsub publishes challenge notices to a Google Cloud Pub/Sub topic.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/JakeFAU/stealthfetch/internal/fetch"
)

// Notice attributes let subscribers filter without decoding the payload.
const (
	AttrEvent       = "event"
	AttrExecutionID = "executionId"
	EventChallenge  = "captcha.detected"
)

// Notifier wraps a Pub/Sub topic.
type Notifier struct {
	topic   *pubsub.Topic
	timeout time.Duration
}

// New creates a Notifier for the provided topic. A zero timeout leaves the
// caller's deadline in charge.
func New(topic *pubsub.Topic, timeout time.Duration) *Notifier {
	return &Notifier{topic: topic, timeout: timeout}
}

// NotifyChallenge implements fetch.Notifier.
func (n *Notifier) NotifyChallenge(ctx context.Context, notice fetch.ChallengeNotice) error {
	if n.topic == nil {
		return fmt.Errorf("pubsub topic is not configured")
	}
	msg, err := newMessage(notice)
	if err != nil {
		return err
	}
	if n.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.timeout)
		defer cancel()
	}
	if _, err := n.topic.Publish(ctx, msg).Get(ctx); err != nil {
		return fmt.Errorf("publish challenge notice: %w", err)
	}
	return nil
}

// Stop flushes pending messages.
func (n *Notifier) Stop() {
	if n.topic != nil {
		n.topic.Stop()
	}
}

func newMessage(notice fetch.ChallengeNotice) (*pubsub.Message, error) {
	data, err := json.Marshal(notice)
	if err != nil {
		return nil, fmt.Errorf("marshal challenge notice: %w", err)
	}
	return &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			AttrEvent:       EventChallenge,
			AttrExecutionID: notice.ExecutionID,
		},
	}, nil
}
