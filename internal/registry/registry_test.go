package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"distributor/internal/domain/topic"

	"github.com/google/go-cmp/cmp"
)

type fakeConn struct {
	id      string
	closed  atomic.Bool
	sendErr error
	delay   time.Duration

	mu       sync.Mutex
	received [][]byte
}

func newFakeConn(id string) *fakeConn { return &fakeConn{id: id} }

func (c *fakeConn) ID() string  { return c.id }
func (c *fakeConn) Open() bool  { return !c.closed.Load() }
func (c *fakeConn) Close()      { c.closed.Store(true) }
func (c *fakeConn) writes() int { c.mu.Lock(); defer c.mu.Unlock(); return len(c.received) }

func (c *fakeConn) Send(ctx context.Context, payload []byte) error {
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if c.sendErr != nil {
		return c.sendErr
	}
	c.mu.Lock()
	c.received = append(c.received, payload)
	c.mu.Unlock()
	return nil
}

func newRegistryForTest(t *testing.T, opts ...Option) *Registry {
	t.Helper()
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)), opts...)
}

func TestSubscribeIsIdempotent(t *testing.T) {
	r := newRegistryForTest(t)
	c := newFakeConn("s1")

	if !r.Subscribe("project:P1", c) {
		t.Fatalf("first subscribe should report a new subscription")
	}
	if r.Subscribe("project:P1", c) {
		t.Fatalf("second subscribe should be a no-op")
	}
	if got := len(r.SubscribersOf("project:P1")); got != 1 {
		t.Fatalf("subscribers = %d, want 1", got)
	}
}

func TestUnsubscribeNonMemberIsNoop(t *testing.T) {
	r := newRegistryForTest(t)
	c := newFakeConn("s1")

	if r.Unsubscribe("project:P1", c) {
		t.Fatalf("unsubscribe of unknown session should report false")
	}
	r.Subscribe("task:T1", c)
	if r.Unsubscribe("project:P1", c) {
		t.Fatalf("unsubscribe from a topic the session never joined should report false")
	}
	if diff := cmp.Diff([]topic.Topic{"task:T1"}, r.TopicsOf("s1")); diff != "" {
		t.Fatalf("topics changed (-want +got):\n%s", diff)
	}
}

func TestEmptyTopicsArePruned(t *testing.T) {
	r := newRegistryForTest(t)
	a, b := newFakeConn("a"), newFakeConn("b")

	r.Subscribe("project:P1", a)
	r.Subscribe("project:P1", b)
	r.Unsubscribe("project:P1", a)
	if got := r.Snapshot(); len(got.Topics) != 1 || got.Topics[0].Subscribers != 1 {
		t.Fatalf("snapshot = %+v", got)
	}
	r.Unsubscribe("project:P1", b)

	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.topics) != 0 || len(r.sessions) != 0 {
		t.Fatalf("expected empty maps, topics=%v sessions=%v", r.topics, r.sessions)
	}
}

func TestRemoveSession(t *testing.T) {
	r := newRegistryForTest(t)
	gone, stays := newFakeConn("gone"), newFakeConn("stays")

	const n = 50
	for i := 0; i < n; i++ {
		r.Subscribe(topic.Task(fmt.Sprint(i)), gone)
	}
	r.Subscribe(topic.Task("0"), stays)

	if got := r.RemoveSession(gone); got != n {
		t.Fatalf("RemoveSession removed %d, want %d", got, n)
	}
	if got := r.RemoveSession(gone); got != 0 {
		t.Fatalf("second RemoveSession removed %d, want 0", got)
	}
	for i := 0; i < n; i++ {
		for _, c := range r.SubscribersOf(topic.Task(fmt.Sprint(i))) {
			if c.ID() == "gone" {
				t.Fatalf("removed session still listed under task:%d", i)
			}
		}
	}
	snap := r.Snapshot()
	want := Snapshot{Sessions: 1, Topics: []TopicStat{{Topic: "task:0", Subscribers: 1}}}
	if diff := cmp.Diff(want, snap); diff != "" {
		t.Fatalf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

// Random operation sequences must leave the registry in the same state as a
// plain set replay of the same operations.
func TestMembershipMatchesSetReplay(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	topics := []topic.Topic{"project:P1", "project:P2", "task:T1", "user:U1"}
	conns := []*fakeConn{newFakeConn("a"), newFakeConn("b"), newFakeConn("c")}

	for round := 0; round < 200; round++ {
		r := newRegistryForTest(t)
		model := map[string]map[topic.Topic]bool{}

		for step := 0; step < 40; step++ {
			c := conns[rng.Intn(len(conns))]
			tp := topics[rng.Intn(len(topics))]
			if model[c.id] == nil {
				model[c.id] = map[topic.Topic]bool{}
			}
			switch rng.Intn(5) {
			case 0, 1:
				r.Subscribe(tp, c)
				model[c.id][tp] = true
			case 2, 3:
				r.Unsubscribe(tp, c)
				delete(model[c.id], tp)
			case 4:
				r.RemoveSession(c)
				model[c.id] = map[topic.Topic]bool{}
			}
		}

		for _, tp := range topics {
			got := map[string]bool{}
			for _, c := range r.SubscribersOf(tp) {
				got[c.ID()] = true
			}
			want := map[string]bool{}
			for id, ts := range model {
				if ts[tp] {
					want[id] = true
				}
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Fatalf("round %d topic %s (-want +got):\n%s", round, tp, diff)
			}
		}
	}
}

func TestConcurrentMutationAndBroadcast(t *testing.T) {
	r := newRegistryForTest(t)
	payload := []byte(`{}`)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				c := newFakeConn(fmt.Sprintf("w%d-%d", w, i))
				r.Subscribe("project:hot", c)
				r.Subscribe(topic.User(c.id), c)
				if i%3 == 0 {
					c.Close()
				}
				r.RemoveSession(c)
			}
		}(w)
	}
	for b := 0; b < 4; b++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				r.Broadcast(context.Background(), "project:hot", payload)
			}
		}()
	}
	wg.Wait()

	if snap := r.Snapshot(); snap.Sessions != 0 || len(snap.Topics) != 0 {
		t.Fatalf("registry not empty after all sessions removed: %+v", snap)
	}
}

func TestBroadcastNoSubscribers(t *testing.T) {
	r := newRegistryForTest(t)
	res := r.Broadcast(context.Background(), "project:nobody", []byte("x"))
	if diff := cmp.Diff(Result{Topic: "project:nobody"}, res); diff != "" {
		t.Fatalf("result mismatch (-want +got):\n%s", diff)
	}
}

func TestBroadcastIsolatesFailures(t *testing.T) {
	r := newRegistryForTest(t)
	ok1, ok2 := newFakeConn("ok1"), newFakeConn("ok2")
	broken := newFakeConn("broken")
	broken.sendErr = errors.New("broken pipe")
	closed := newFakeConn("closed")
	closed.Close()

	for _, c := range []*fakeConn{ok1, ok2, broken, closed} {
		r.Subscribe("project:P1", c)
	}

	res := r.Broadcast(context.Background(), "project:P1", []byte("hello"))
	if res.Attempted != 3 || res.Delivered != 2 || res.Skipped != 1 {
		t.Fatalf("result = %+v", res)
	}
	if len(res.Failures) != 1 || res.Failures[0].SessionID != "broken" {
		t.Fatalf("failures = %+v", res.Failures)
	}
	if ok1.writes() != 1 || ok2.writes() != 1 {
		t.Fatalf("healthy sessions missed the payload: ok1=%d ok2=%d", ok1.writes(), ok2.writes())
	}
	if closed.writes() != 0 {
		t.Fatalf("closed session was written to")
	}
}

func TestBroadcastSlowSessionDoesNotDelayOthers(t *testing.T) {
	r := newRegistryForTest(t, WithSendTimeout(50*time.Millisecond))
	slow := newFakeConn("slow")
	slow.delay = time.Hour
	fast := newFakeConn("fast")
	r.Subscribe("task:T1", slow)
	r.Subscribe("task:T1", fast)

	start := time.Now()
	res := r.Broadcast(context.Background(), "task:T1", []byte("x"))
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("broadcast took %v", elapsed)
	}
	if res.Delivered != 1 || fast.writes() != 1 {
		t.Fatalf("fast session not served: %+v", res)
	}
	if len(res.Failures) != 1 || !errors.Is(res.Failures[0].Err, context.DeadlineExceeded) {
		t.Fatalf("slow session should time out: %+v", res.Failures)
	}
}

type panicConn struct{ fakeConn }

func (c *panicConn) Send(context.Context, []byte) error { panic("boom") }

func TestBroadcastRecoversPanickingSend(t *testing.T) {
	r := newRegistryForTest(t)
	p := &panicConn{fakeConn{id: "panics"}}
	ok := newFakeConn("ok")
	r.Subscribe("user:U1", p)
	r.Subscribe("user:U1", ok)

	res := r.Broadcast(context.Background(), "user:U1", []byte("x"))
	if res.Delivered != 1 || len(res.Failures) != 1 || !errors.Is(res.Failures[0].Err, ErrSendPanic) {
		t.Fatalf("result = %+v", res)
	}
}
