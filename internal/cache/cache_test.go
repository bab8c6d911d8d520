package cache_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	tcRedis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/arman-khosravi/tabletalk/internal/cache"
	"github.com/arman-khosravi/tabletalk/internal/session"
)

func newTestCache(t *testing.T) *cache.Cache {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()
	redisC, err := tcRedis.RunContainer(ctx, testcontainers.WithWaitStrategy(wait.ForListeningPort("6379/tcp")))
	if err != nil {
		t.Fatalf("redis container: %v", err)
	}
	t.Cleanup(func() { _ = redisC.Terminate(ctx) })

	host, err := redisC.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := redisC.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	t.Cleanup(func() { _ = client.Close() })
	return cache.NewWithClient(client, time.Minute)
}

func TestMirrorAndLoad(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	sess := session.New("", "u-1")
	if err := sess.Append(session.Turn{Role: session.RoleUser, Content: "hello"}); err != nil {
		t.Fatal(err)
	}
	if err := sess.Append(session.Turn{Role: session.RoleAgent, Content: "hi there"}); err != nil {
		t.Fatal(err)
	}

	if err := c.Mirror(ctx, sess); err != nil {
		t.Fatalf("Mirror: %v", err)
	}

	got, err := c.Load(ctx, sess.ID())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.UserID() != "u-1" {
		t.Fatalf("user = %q, want u-1", got.UserID())
	}
	turns := got.Turns()
	if len(turns) != 2 || turns[0].Content != "hello" || turns[1].Content != "hi there" {
		t.Fatalf("turns = %+v", turns)
	}
}

func TestLoadMiss(t *testing.T) {
	c := newTestCache(t)
	_, err := c.Load(context.Background(), "no-such-session")
	if !errors.Is(err, cache.ErrMiss) {
		t.Fatalf("err = %v, want ErrMiss", err)
	}
}

func TestInvalidate(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	sess := session.New("", "u-1")
	if err := c.Mirror(ctx, sess); err != nil {
		t.Fatal(err)
	}
	if err := c.Invalidate(ctx, sess.ID()); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Load(ctx, sess.ID()); !errors.Is(err, cache.ErrMiss) {
		t.Fatalf("err = %v, want ErrMiss after invalidate", err)
	}
}

func TestLockContention(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	ok, err := c.AcquireLock(ctx, "janitor", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	ok, err = c.AcquireLock(ctx, "janitor", time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("second acquire succeeded while lock held")
	}
	if err := c.ReleaseLock(ctx, "janitor"); err != nil {
		t.Fatal(err)
	}
	ok, err = c.AcquireLock(ctx, "janitor", time.Minute)
	if err != nil || !ok {
		t.Fatalf("reacquire after release: ok=%v err=%v", ok, err)
	}
}
