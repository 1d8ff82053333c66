// Package intake consumes domain events from one upstream Kafka topic and
// fans each of them out to the subscribed client sessions.
package intake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"distributor/internal/domain/event"
	"distributor/internal/domain/topic"
	"distributor/internal/metrics"
	"distributor/internal/registry"
	"distributor/internal/routing"

	"github.com/segmentio/kafka-go"
)

// ErrSerialize means the event could not be encoded for clients. The event
// is left unacknowledged.
var ErrSerialize = errors.New("serialize event")

// Source is the consumer-group reader an intake loop pulls from.
type Source interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

type Broadcaster interface {
	Broadcast(ctx context.Context, t topic.Topic, payload []byte) registry.Result
}

// DeadLetter receives copies of events that are dropped without delivery.
type DeadLetter interface {
	Publish(ctx context.Context, msg kafka.Message, reason string) error
}

// Deduplicator reports whether an event is seen for the first time.
type Deduplicator interface {
	FirstSeen(ctx context.Context, env event.Envelope) (bool, error)
}

type Encoder func(event.Envelope) ([]byte, error)

type Outcome int

const (
	OutcomeBroadcast Outcome = iota
	OutcomeUnroutable
	OutcomeDecodeFailed
	OutcomeDuplicate
)

func (o Outcome) String() string {
	switch o {
	case OutcomeBroadcast:
		return "broadcast"
	case OutcomeUnroutable:
		return "unroutable"
	case OutcomeDecodeFailed:
		return "decode_failed"
	case OutcomeDuplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// Report describes what happened to one event.
type Report struct {
	Outcome  Outcome
	Envelope event.Envelope
	Topics   []topic.Topic
	Results  []registry.Result
}

// Delivered is the number of successful sends summed over all topics.
func (r Report) Delivered() int {
	n := 0
	for _, res := range r.Results {
		n += res.Delivered
	}
	return n
}

type Option func(*Loop)

func WithDeadLetter(d DeadLetter) Option { return func(l *Loop) { l.deadLetter = d } }

func WithDeduplicator(d Deduplicator) Option { return func(l *Loop) { l.dedup = d } }

func WithEncoder(enc Encoder) Option { return func(l *Loop) { l.encode = enc } }

// WithFetchBackoff sets the pause after a failed fetch. Default 1s.
func WithFetchBackoff(d time.Duration) Option { return func(l *Loop) { l.fetchBackoff = d } }

type Loop struct {
	name         string
	source       Source
	broadcaster  Broadcaster
	deadLetter   DeadLetter
	dedup        Deduplicator
	encode       Encoder
	fetchBackoff time.Duration

	// commitTimeout bounds the commit of a record whose broadcast settled.
	commitTimeout time.Duration
	logger        *slog.Logger
}

// NewLoop builds the intake loop for one upstream topic. name labels logs
// and metrics, normally the Kafka topic.
func NewLoop(name string, src Source, b Broadcaster, logger *slog.Logger, opts ...Option) *Loop {
	l := &Loop{
		name:          name,
		source:        src,
		broadcaster:   b,
		encode:        event.Encode,
		fetchBackoff:  time.Second,
		commitTimeout: 5 * time.Second,
		logger:        logger.With("intake", name),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Loop) Name() string { return l.name }

// Run fetches and processes events until ctx is cancelled. Per-event
// failures never end the loop.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("intake loop started")
	defer l.logger.Info("intake loop stopped")

	for {
		msg, err := l.source.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			l.logger.Error("failed to fetch message", "error", err)
			if !sleep(ctx, l.fetchBackoff) {
				return nil
			}
			continue
		}

		if _, err := l.Process(ctx, msg); err != nil {
			l.logger.Error("event left unacknowledged", "error", err, "alert", true,
				"source_topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset)
			continue
		}

		l.commit(ctx, msg)
	}
}

// commit acknowledges a settled record even if shutdown began meanwhile.
func (l *Loop) commit(ctx context.Context, msg kafka.Message) {
	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.commitTimeout)
	defer cancel()

	if err := l.source.CommitMessages(commitCtx, msg); err != nil {
		l.logger.Error("failed to commit kafka message", "error", err,
			"partition", msg.Partition, "offset", msg.Offset)
	}
}

// Process routes one record and broadcasts it. A nil error means the record
// may be acknowledged, whatever the per-session outcome was.
func (l *Loop) Process(ctx context.Context, msg kafka.Message) (Report, error) {
	started := time.Now()
	defer func() { metrics.ProcessingDuration.Observe(time.Since(started).Seconds()) }()
	metrics.EventsReceived.WithLabelValues(l.name).Inc()

	logger := l.logger.With("source_topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset)

	env, err := event.Decode(msg.Value)
	if err != nil {
		return l.drop(ctx, logger, msg, Report{Outcome: OutcomeDecodeFailed}, err), nil
	}
	logger = logger.With("correlation_id", env.TraceID(), "event_id", env.EventID, "event_type", env.EventType)

	payload, err := event.ParsePayload(env)
	if err != nil {
		return l.drop(ctx, logger, msg, Report{Outcome: OutcomeDecodeFailed, Envelope: env}, err), nil
	}

	topics := routing.Resolve(payload)
	report := Report{Outcome: OutcomeUnroutable, Envelope: env, Topics: topics}
	if len(topics) == 0 {
		return l.drop(ctx, logger, msg, report, nil), nil
	}

	frame, err := l.encode(env)
	if err != nil {
		metrics.SerializationFailures.WithLabelValues(l.name).Inc()
		return report, fmt.Errorf("%w: event %s: %v", ErrSerialize, env.EventID, err)
	}

	if l.dedup != nil {
		first, err := l.dedup.FirstSeen(ctx, env)
		switch {
		case err != nil:
			logger.Warn("duplicate check failed, delivering anyway", "error", err)
		case !first:
			report.Outcome = OutcomeDuplicate
			metrics.EventsDropped.WithLabelValues(l.name, metrics.ReasonDuplicate).Inc()
			logger.Info("duplicate event skipped")
			return report, nil
		}
	}

	report.Outcome = OutcomeBroadcast
	report.Results = l.broadcast(ctx, topics, frame)
	logger.Info("event distributed", "topics", topics, "delivered", report.Delivered())
	return report, nil
}

// broadcast runs one Broadcast per topic concurrently, all sharing frame.
func (l *Loop) broadcast(ctx context.Context, topics []topic.Topic, frame []byte) []registry.Result {
	results := make([]registry.Result, len(topics))
	var wg sync.WaitGroup
	for i, t := range topics {
		wg.Add(1)
		go func(i int, t topic.Topic) {
			defer wg.Done()
			results[i] = l.broadcaster.Broadcast(ctx, t, frame)
		}(i, t)
	}
	wg.Wait()
	return results
}

func (l *Loop) drop(ctx context.Context, logger *slog.Logger, msg kafka.Message, report Report, cause error) Report {
	reason := metrics.ReasonUnroutable
	if report.Outcome == OutcomeDecodeFailed {
		reason = metrics.ReasonDecode
	}
	metrics.EventsDropped.WithLabelValues(l.name, reason).Inc()

	if cause != nil {
		logger.Warn("dropping event", "reason", reason, "error", cause)
	} else {
		logger.Warn("dropping event", "reason", reason)
	}

	if l.deadLetter != nil {
		if err := l.deadLetter.Publish(ctx, msg, reason); err != nil {
			logger.Warn("failed to publish to dead-letter topic", "error", err)
		}
	}
	return report
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
