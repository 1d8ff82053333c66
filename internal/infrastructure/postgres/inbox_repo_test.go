package postgres

import (
	"context"
	"errors"
	"strings"
	"testing"

	"distributor/internal/domain/event"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

type fakeExec struct {
	seen  map[string]bool
	args  [][]any
	err   error
	execs []string
}

func (f *fakeExec) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, strings.TrimSpace(sql))
	if f.err != nil {
		return pgconn.CommandTag{}, f.err
	}
	if len(args) == 0 {
		return pgconn.NewCommandTag("CREATE TABLE"), nil
	}
	f.args = append(f.args, args)
	key := args[0].(string) + "/" + args[1].(string)
	if f.seen[key] {
		return pgconn.NewCommandTag("INSERT 0 0"), nil
	}
	f.seen[key] = true
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func TestInboxFirstSeen(t *testing.T) {
	db := &fakeExec{seen: map[string]bool{}}
	repo := NewInboxRepository(db, "distributor")
	env := event.Envelope{
		EventID:   uuid.MustParse("5f0c2b8e-3c1a-4c9a-9a55-0c7f0a1f2d11"),
		EventType: event.TaskCreated,
	}

	first, err := repo.FirstSeen(context.Background(), env)
	if err != nil || !first {
		t.Fatalf("first = %v, %v", first, err)
	}
	again, err := repo.FirstSeen(context.Background(), env)
	if err != nil || again {
		t.Fatalf("again = %v, %v", again, err)
	}

	want := []any{"distributor", "5f0c2b8e-3c1a-4c9a-9a55-0c7f0a1f2d11", event.TaskCreated, nil}
	if diff := cmp.Diff(want, db.args[0]); diff != "" {
		t.Fatalf("insert args (-want +got):\n%s", diff)
	}

	other := NewInboxRepository(db, "distributor-replica")
	if first, _ := other.FirstSeen(context.Background(), env); !first {
		t.Fatalf("inbox must be scoped per consumer")
	}
}

func TestInboxSkipsEventsWithoutID(t *testing.T) {
	db := &fakeExec{seen: map[string]bool{}}
	repo := NewInboxRepository(db, "distributor")
	if first, err := repo.FirstSeen(context.Background(), event.Envelope{EventType: event.UserCreated}); err != nil || !first {
		t.Fatalf("got %v, %v", first, err)
	}
	if len(db.execs) != 0 {
		t.Fatalf("unexpected queries: %v", db.execs)
	}
}

func TestInboxErrors(t *testing.T) {
	cause := errors.New("connection reset by peer")
	repo := NewInboxRepository(&fakeExec{err: cause}, "distributor")
	if err := repo.CreateSchema(context.Background()); !errors.Is(err, cause) {
		t.Fatalf("CreateSchema err = %v", err)
	}
	if _, err := repo.SaveIfNotExists(context.Background(), "e1", "USER_CREATED", ""); !errors.Is(err, cause) {
		t.Fatalf("SaveIfNotExists err = %v", err)
	}
}

func TestConfigDSN(t *testing.T) {
	cfg := Config{Host: "db", Port: "5432", User: "app", Password: "p@ss", DBName: "distributor"}
	if got, want := cfg.DSN(), "postgres://app:p%40ss@db:5432/distributor?sslmode=disable"; got != want {
		t.Fatalf("DSN = %q, want %q", got, want)
	}
}
