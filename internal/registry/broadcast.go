package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"distributor/internal/domain/topic"
	"distributor/internal/metrics"
)

// ErrSendPanic wraps a panic recovered from a Conn.Send.
var ErrSendPanic = errors.New("send panicked")

type SendFailure struct {
	SessionID string
	Err       error
}

// Result is the per-topic outcome of a Broadcast.
type Result struct {
	Topic     topic.Topic
	Attempted int
	Delivered int
	// Skipped counts snapshot members that were already closed at send time.
	Skipped  int
	Failures []SendFailure
}

// Broadcast sends payload to every open subscriber of t concurrently and
// waits for all sends to settle. A failing or slow session affects only its
// own send. The payload slice is shared by all sends and must not be
// modified while Broadcast runs.
func (r *Registry) Broadcast(ctx context.Context, t topic.Topic, payload []byte) Result {
	res := Result{Topic: t}

	snapshot := r.SubscribersOf(t)
	if len(snapshot) == 0 {
		r.logger.Debug("no subscribers for topic, skipping send", "topic", t)
		return res
	}

	targets := make([]Conn, 0, len(snapshot))
	for _, c := range snapshot {
		if !c.Open() {
			res.Skipped++
			continue
		}
		targets = append(targets, c)
	}
	res.Attempted = len(targets)

	errs := make([]error, len(targets))
	var wg sync.WaitGroup
	for i, c := range targets {
		wg.Add(1)
		go func(i int, c Conn) {
			defer wg.Done()
			errs[i] = r.send(ctx, c, payload)
		}(i, c)
	}
	wg.Wait()

	for i, err := range errs {
		if err == nil {
			res.Delivered++
			continue
		}
		id := targets[i].ID()
		res.Failures = append(res.Failures, SendFailure{SessionID: id, Err: err})
		r.logger.Warn("failed to send to session", "session_id", id, "topic", t, "error", err)
	}
	metrics.Deliveries.WithLabelValues("delivered").Add(float64(res.Delivered))
	metrics.Deliveries.WithLabelValues("failed").Add(float64(len(res.Failures)))

	r.logger.Debug("broadcast settled", "topic", t,
		"attempted", res.Attempted, "delivered", res.Delivered, "skipped", res.Skipped)
	return res
}

func (r *Registry) send(ctx context.Context, c Conn, payload []byte) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", ErrSendPanic, p)
		}
	}()
	if r.sendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.sendTimeout)
		defer cancel()
	}
	return c.Send(ctx, payload)
}
