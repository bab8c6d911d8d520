package store_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcPostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/arman-khosravi/tabletalk/internal/session"
	"github.com/arman-khosravi/tabletalk/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	pgC, err := tcPostgres.RunContainer(ctx,
		tcPostgres.WithDatabase("tabletalk"),
		tcPostgres.WithUsername("tabletalk"),
		tcPostgres.WithPassword("tabletalk"),
		testcontainers.WithWaitStrategy(wait.ForListeningPort("5432/tcp")),
	)
	if err != nil {
		t.Fatalf("postgres container: %v", err)
	}
	t.Cleanup(func() { _ = pgC.Terminate(ctx) })

	host, err := pgC.Host(ctx)
	if err != nil {
		t.Fatalf("postgres host: %v", err)
	}
	port, err := pgC.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("postgres port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://tabletalk:tabletalk@%s:%s/tabletalk?sslmode=disable", host, port.Port())

	if err := store.Migrate("file://../../migrations", dsn, "up", 0); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		t.Fatalf("store init: %v", err)
	}
	t.Cleanup(func() { _ = st.DB.Close() })
	return st
}

func TestSessionLifecycle(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	userID, err := st.CreateUser(ctx, "it@example.com", "hash")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if _, err := st.CreateUser(ctx, "it@example.com", "hash"); !errors.Is(err, store.ErrEmailTaken) {
		t.Fatalf("duplicate email err = %v, want ErrEmailTaken", err)
	}

	sess := session.New("", userID)
	if err := st.CreateSession(ctx, sess.ID(), userID); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	turns := []session.Turn{
		{Role: session.RoleUser, Content: "how many tables?", CreatedAt: time.Now().UTC()},
		{Role: session.RoleAgent, Call: &session.ToolCall{ID: "c-1", Tool: "list_tables", Args: map[string]interface{}{}}, CreatedAt: time.Now().UTC()},
		{Role: session.RoleTool, Record: &session.ToolRecord{CallID: "c-1", Status: session.ResultOK, Content: "Found 3 tables"}, CreatedAt: time.Now().UTC()},
		{Role: session.RoleAgent, Content: "There are 3 tables.", CreatedAt: time.Now().UTC()},
	}
	for _, turn := range turns {
		if err := st.SaveTurn(ctx, sess.ID(), turn); err != nil {
			t.Fatalf("SaveTurn: %v", err)
		}
	}

	loaded, err := st.LoadSession(ctx, sess.ID())
	if err != nil {
		t.Fatalf("LoadSession: %v", err)
	}
	got := loaded.Turns()
	if len(got) != len(turns) {
		t.Fatalf("turns = %d, want %d", len(got), len(turns))
	}
	if got[1].Call == nil || got[1].Call.Tool != "list_tables" {
		t.Fatalf("call turn not persisted: %+v", got[1])
	}
	if got[2].Record == nil || got[2].Record.Status != session.ResultOK {
		t.Fatalf("record turn not persisted: %+v", got[2])
	}

	if err := st.SaveStatus(ctx, sess.ID(), session.StatusCompleted); err != nil {
		t.Fatalf("SaveStatus: %v", err)
	}
	// terminal is idempotent
	if err := st.SaveStatus(ctx, sess.ID(), session.StatusCompleted); err != nil {
		t.Fatalf("SaveStatus repeat: %v", err)
	}
	if err := st.SaveStatus(ctx, sess.ID(), session.StatusFailed); !errors.Is(err, store.ErrStatusRegression) {
		t.Fatalf("status flip err = %v, want ErrStatusRegression", err)
	}

	loaded, err = st.LoadSession(ctx, sess.ID())
	if err != nil {
		t.Fatalf("LoadSession after complete: %v", err)
	}
	if loaded.Status() != session.StatusCompleted {
		t.Fatalf("status = %q, want completed", loaded.Status())
	}
}

func TestIdleSweepAndDelete(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	userID, err := st.CreateUser(ctx, "idle@example.com", "hash")
	if err != nil {
		t.Fatal(err)
	}
	sess := session.New("", userID)
	if err := st.CreateSession(ctx, sess.ID(), userID); err != nil {
		t.Fatal(err)
	}

	ids, err := st.IdleSessionIDs(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("IdleSessionIDs: %v", err)
	}
	if len(ids) != 1 || ids[0] != sess.ID() {
		t.Fatalf("ids = %v, want [%s]", ids, sess.ID())
	}

	// fresh sessions stay out of the sweep
	ids, err = st.IdleSessionIDs(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 0 {
		t.Fatalf("ids = %v, want none", ids)
	}

	if err := st.DeleteSession(ctx, sess.ID()); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if _, err := st.LoadSession(ctx, sess.ID()); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound after delete", err)
	}
}
