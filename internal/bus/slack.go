package bus

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"

	"github.com/KafClaw/groupforge/internal/task"
)

// SlackSink posts a summary line to a channel when a batch completes. Other
// events are ignored.
type SlackSink struct {
	api     *slack.Client
	channel string
}

// NewSlackSink creates a sink posting to channel. Extra options are passed to
// the slack client (e.g. slack.OptionAPIURL).
func NewSlackSink(token, channel string, opts ...slack.Option) *SlackSink {
	return &SlackSink{api: slack.New(token, opts...), channel: channel}
}

func (s *SlackSink) Name() string { return "slack" }

func (s *SlackSink) Deliver(ctx context.Context, evt Event) error {
	if evt.Name != task.EventComplete {
		return nil
	}
	text, ok := completionText(evt)
	if !ok {
		return nil
	}
	if _, _, err := s.api.PostMessageContext(ctx, s.channel, slack.MsgOptionText(text, false)); err != nil {
		return fmt.Errorf("slack post: %w", err)
	}
	return nil
}

func (s *SlackSink) Close() error { return nil }

func completionText(evt Event) (string, bool) {
	var p task.CompletePayload
	switch v := evt.Payload.(type) {
	case task.CompletePayload:
		p = v
	case *task.CompletePayload:
		p = *v
	default:
		return "", false
	}
	return fmt.Sprintf("Batch %s for %s finished: %d created, %d failed, %d total",
		p.BatchID, evt.Owner, p.SuccessCount, p.FailedCount, p.Total), true
}
