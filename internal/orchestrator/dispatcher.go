package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/inngest/inngestgo"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/reflective-memory-kernel/internal/jsonx"
)

// tailStreamName and tailSubjectPrefix implement the per-user ordered
// dispatch queue named in SPEC_FULL.md §4: one NATS JetStream subject
// per user ("turns.<user>") so that a user's background tails are
// always delivered to their durable consumer in turn order, mirroring
// teacher kernel.go's "transcripts.*" stream but keyed per-user rather
// than globally.
const (
	tailStreamName    = "TURN_TAILS"
	tailSubjectPrefix = "turns."
	tailDurableName   = "orchestrator-tail-v1"
)

// TailJob is what the synchronous path hands off to the background
// tail for one turn.
type TailJob struct {
	UserID         string    `json:"user_id"`
	TraceID        string    `json:"trace_id"`
	UserMessage    string    `json:"user_message"`
	AssistantReply string    `json:"assistant_reply"`
	Now            time.Time `json:"now"`
}

// TailDispatcher publishes TailJobs onto the per-user ordered NATS
// queue and, on the consuming side, turns each delivery into an
// Inngest event so the step-durable workflow in tailworkflow.go runs
// it with automatic per-step retry.
type TailDispatcher struct {
	js      nats.JetStreamContext
	inngest inngestgo.Client
	logger  *zap.Logger
}

// NewTailDispatcher ensures the TURN_TAILS stream exists and returns a
// dispatcher bound to it.
func NewTailDispatcher(ctx context.Context, js nats.JetStreamContext, inngestClient inngestgo.Client, logger *zap.Logger) (*TailDispatcher, error) {
	_, err := js.AddStream(&nats.StreamConfig{
		Name:     tailStreamName,
		Subjects: []string{tailSubjectPrefix + "*"},
		Storage:  nats.FileStorage,
		MaxAge:   24 * time.Hour,
	})
	if err != nil && err != nats.ErrStreamNameAlreadyInUse {
		return nil, fmt.Errorf("create turn tail stream: %w", err)
	}
	return &TailDispatcher{js: js, inngest: inngestClient, logger: logger.Named("tail_dispatcher")}, nil
}

// Dispatch publishes job onto its user's ordered subject.
func (d *TailDispatcher) Dispatch(ctx context.Context, job TailJob) error {
	payload, err := jsonx.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal tail job: %w", err)
	}
	subject := tailSubjectPrefix + job.UserID
	if _, err := d.js.Publish(subject, payload, nats.Context(ctx)); err != nil {
		return fmt.Errorf("publish tail job: %w", err)
	}
	return nil
}

// Subscribe starts a durable, manually-acked consumer that turns each
// queued TailJob into an Inngest "turn.tail.ready" event — the event
// that triggers the step-durable workflow registered by
// RegisterTailWorkflow. Messages are acked only after the event is
// accepted, so a dispatcher restart redelivers rather than drops a job.
func (d *TailDispatcher) Subscribe(ctx context.Context) (*nats.Subscription, error) {
	sub, err := d.js.Subscribe(tailSubjectPrefix+"*", func(msg *nats.Msg) {
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("panic handling turn tail message", zap.Any("panic", r))
			}
		}()

		var job TailJob
		if err := jsonx.Unmarshal(msg.Data, &job); err != nil {
			d.logger.Error("failed to unmarshal turn tail job, dropping", zap.Error(err))
			msg.Ack() // a malformed job can never be processed; redelivery would loop forever
			return
		}

		_, err := d.inngest.Send(ctx, inngestgo.Event{
			Name: "turn.tail.ready",
			Data: map[string]any{
				"user_id":         job.UserID,
				"trace_id":        job.TraceID,
				"user_message":    job.UserMessage,
				"assistant_reply": job.AssistantReply,
				"now":             job.Now.UTC().Format(time.RFC3339),
			},
		})
		if err != nil {
			d.logger.Error("failed to send tail event to inngest, will redeliver", zap.String("user", job.UserID), zap.Error(err))
			msg.Nak()
			return
		}
		msg.Ack()
	}, nats.Durable(tailDurableName), nats.ManualAck())
	if err != nil {
		return nil, fmt.Errorf("subscribe to turn tails: %w", err)
	}
	return sub, nil
}
