// Package registry tracks which live connections are subscribed to which
// topics and delivers payloads to them.
package registry

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"distributor/internal/domain/topic"
	"distributor/internal/metrics"
)

// Conn is a live client connection as seen by the registry.
type Conn interface {
	ID() string
	Open() bool
	Send(ctx context.Context, payload []byte) error
}

// Registry keeps topic -> sessions and session -> topics in step under one
// mutex. Topics and sessions with no subscriptions are pruned.
type Registry struct {
	mu       sync.RWMutex
	topics   map[topic.Topic]map[string]Conn
	sessions map[string]*member

	logger      *slog.Logger
	sendTimeout time.Duration
}

// member is the topic set of one session.
type member struct {
	topics map[topic.Topic]struct{}
}

type Option func(*Registry)

// WithSendTimeout bounds each per-session send made by Broadcast.
func WithSendTimeout(d time.Duration) Option {
	return func(r *Registry) { r.sendTimeout = d }
}

func New(logger *slog.Logger, opts ...Option) *Registry {
	r := &Registry{
		topics:   make(map[topic.Topic]map[string]Conn),
		sessions: make(map[string]*member),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Subscribe adds c to t. It reports whether the subscription is new.
func (r *Registry) Subscribe(t topic.Topic, c Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := c.ID()
	m, ok := r.sessions[id]
	if !ok {
		m = &member{topics: make(map[topic.Topic]struct{})}
		r.sessions[id] = m
	}
	if _, ok := m.topics[t]; ok {
		return false
	}
	m.topics[t] = struct{}{}

	subs, ok := r.topics[t]
	if !ok {
		subs = make(map[string]Conn)
		r.topics[t] = subs
	}
	subs[id] = c
	metrics.TopicsActive.Set(float64(len(r.topics)))

	r.logger.Debug("session subscribed", "session_id", id, "topic", t)
	return true
}

// Unsubscribe removes c from t. Removing a non-member is a no-op.
func (r *Registry) Unsubscribe(t topic.Topic, c Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := c.ID()
	m, ok := r.sessions[id]
	if !ok {
		return false
	}
	if _, ok := m.topics[t]; !ok {
		return false
	}
	delete(m.topics, t)
	if len(m.topics) == 0 {
		delete(r.sessions, id)
	}
	r.detach(t, id)
	metrics.TopicsActive.Set(float64(len(r.topics)))

	r.logger.Debug("session unsubscribed", "session_id", id, "topic", t)
	return true
}

// RemoveSession drops every subscription held by c and returns how many were
// removed. Cost is linear in c's own subscriptions. Safe to call repeatedly.
func (r *Registry) RemoveSession(c Conn) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := c.ID()
	m, ok := r.sessions[id]
	if !ok {
		return 0
	}
	delete(r.sessions, id)
	for t := range m.topics {
		r.detach(t, id)
	}
	metrics.TopicsActive.Set(float64(len(r.topics)))
	return len(m.topics)
}

// detach removes id from t's subscriber set. Callers hold r.mu.
func (r *Registry) detach(t topic.Topic, id string) {
	subs, ok := r.topics[t]
	if !ok {
		return
	}
	delete(subs, id)
	if len(subs) == 0 {
		delete(r.topics, t)
	}
}

// SubscribersOf returns a snapshot of t's subscribers. The slice is not
// updated by later mutations.
func (r *Registry) SubscribersOf(t topic.Topic) []Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subs := r.topics[t]
	if len(subs) == 0 {
		return nil
	}
	out := make([]Conn, 0, len(subs))
	for _, c := range subs {
		out = append(out, c)
	}
	return out
}

// TopicsOf returns the topics the session is subscribed to, sorted.
func (r *Registry) TopicsOf(sessionID string) []topic.Topic {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.sessions[sessionID]
	if !ok {
		return nil
	}
	out := make([]topic.Topic, 0, len(m.topics))
	for t := range m.topics {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

type TopicStat struct {
	Topic       topic.Topic `json:"topic"`
	Subscribers int         `json:"subscribers"`
}

type Snapshot struct {
	Sessions int         `json:"sessions"`
	Topics   []TopicStat `json:"topics"`
}

// Snapshot reports subscription counts. Sessions without subscriptions are
// not tracked by the registry and are not counted.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Snapshot{Sessions: len(r.sessions), Topics: make([]TopicStat, 0, len(r.topics))}
	for t, subs := range r.topics {
		s.Topics = append(s.Topics, TopicStat{Topic: t, Subscribers: len(subs)})
	}
	sort.Slice(s.Topics, func(i, j int) bool { return s.Topics[i].Topic < s.Topics[j].Topic })
	return s
}
