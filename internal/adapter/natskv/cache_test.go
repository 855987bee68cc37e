package natskv

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/Strob0t/arbor/internal/port/cache"
)

func TestKVKey(t *testing.T) {
	if got := kvKey(cache.SnapshotKey("f1", 2)); got != "forest.f1.rev.2" {
		t.Errorf("kvKey = %q", got)
	}
}

func TestCache_RoundTrip(t *testing.T) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("requires NATS_URL")
	}
	ctx := context.Background()

	nc, err := nats.Connect(url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(nc.Close)
	js, err := jetstream.New(nc)
	if err != nil {
		t.Fatal(err)
	}
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{Bucket: "ARBOR_TEST_SNAPSHOTS", TTL: time.Minute})
	if err != nil {
		t.Fatal(err)
	}

	c := New(kv)
	key := cache.SnapshotKey("f1", 1)
	if err := c.Set(ctx, key, []byte("snap"), 0); err != nil {
		t.Fatal(err)
	}
	got, ok, err := c.Get(ctx, key)
	if err != nil || !ok || string(got) != "snap" {
		t.Fatalf("Get = %q %v %v", got, ok, err)
	}
	if err := c.Delete(ctx, key); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := c.Get(ctx, key); ok {
		t.Error("expected miss after Delete")
	}
}
