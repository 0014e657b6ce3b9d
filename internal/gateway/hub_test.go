package gateway

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"telecom-signaling/internal/accounts"
	"telecom-signaling/internal/presence"
	"telecom-signaling/pkg/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func startHub(t *testing.T, rdb redis.UniversalClient, reg *presence.Registry, instance string) *Hub {
	t.Helper()
	h := NewHub(rdb, reg, instance, logger.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = h.Run(ctx) }()
	select {
	case <-h.Ready():
	case <-time.After(2 * time.Second):
		t.Fatalf("hub %s never subscribed", instance)
	}
	return h
}

func recv(t *testing.T, c *client) Frame {
	t.Helper()
	select {
	case msg := <-c.send:
		var f Frame
		if err := json.Unmarshal(msg, &f); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return f
	case <-time.After(2 * time.Second):
		t.Fatalf("no frame for %s", c.userID)
		return Frame{}
	}
}

func TestHubRelaysAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	reg := presence.NewRegistry(rdb)
	ctx := context.Background()

	a := startHub(t, rdb, reg, "node-a")
	b := startHub(t, rdb, reg, "node-b")

	remote := newClient("c-remote", NamespaceTelecaller, "taker-1", nil, logger.Discard())
	b.add(remote)
	if _, err := reg.SetOnline(ctx, accounts.RoleCallTaker, "taker-1", b.Handle("c-remote")); err != nil {
		t.Fatalf("set online: %v", err)
	}

	if err := a.Notify(ctx, accounts.RoleCallTaker, "taker-1", "call:incoming", map[string]string{"callId": "c1"}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if f := recv(t, remote); f.Event != "call:incoming" || string(f.Data) != `{"callId":"c1"}` {
		t.Fatalf("unexpected relayed frame %s %s", f.Event, f.Data)
	}

	if err := a.Notify(ctx, accounts.RoleCallTaker, "nobody", "call:incoming", nil); err != ErrNotConnected {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestHubBroadcastReachesEveryInstanceOnce(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	reg := presence.NewRegistry(rdb)

	a := startHub(t, rdb, reg, "node-a")
	b := startHub(t, rdb, reg, "node-b")

	local := newClient("c1", NamespaceUser, "user-1", nil, logger.Discard())
	remote := newClient("c2", NamespaceUser, "user-2", nil, logger.Discard())
	taker := newClient("c3", NamespaceTelecaller, "taker-1", nil, logger.Discard())
	a.add(local)
	b.add(remote)
	b.add(taker)

	if err := a.Broadcast(context.Background(), accounts.RoleCaller, "callee:presence-changed", map[string]string{"calleeId": "taker-1"}); err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	recv(t, local)
	recv(t, remote)

	// The origin skips its own broadcast echo and other roles never see it.
	time.Sleep(50 * time.Millisecond)
	if n := len(local.send); n != 0 {
		t.Fatalf("local client got %d duplicate frames", n)
	}
	if n := len(taker.send); n != 0 {
		t.Fatalf("call-taker received a caller broadcast")
	}
}

func TestHubSupersedeClosesRemoteConnection(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	reg := presence.NewRegistry(rdb)

	a := startHub(t, rdb, reg, "node-a")
	b := startHub(t, rdb, reg, "node-b")

	old := newClient("c-old", NamespaceUser, "user-1", nil, logger.Discard())
	b.add(old)

	if err := a.Supersede(context.Background(), b.Handle("c-old")); err != nil {
		t.Fatalf("supersede: %v", err)
	}
	select {
	case <-old.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("remote connection was not closed")
	}
	if old.closeCode != closeSuperseded {
		t.Fatalf("expected close code %d, got %d", closeSuperseded, old.closeCode)
	}
}

func TestHubDeliverChecksIdentity(t *testing.T) {
	h := NewHub(nil, nil, "node-a", logger.Discard())
	c := newClient("c1", NamespaceUser, "user-1", nil, logger.Discard())
	h.add(c)

	if err := h.deliverLocal("c1", accounts.RoleCaller, "user-2", []byte(`{}`)); err != ErrNotConnected {
		t.Fatalf("expected ErrNotConnected for another identity, got %v", err)
	}
	if err := h.deliverLocal("c1", accounts.RoleCaller, "user-1", []byte(`{}`)); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	h.remove(c)
	if h.Len() != 0 {
		t.Fatalf("expected empty hub")
	}
}

func TestEnqueueDropsSlowConsumer(t *testing.T) {
	c := newClient("c1", NamespaceUser, "user-1", nil, logger.Discard())
	for i := 0; i < sendBuffer; i++ {
		if err := c.enqueue([]byte("x")); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	if err := c.enqueue([]byte("x")); err != ErrSlowConsumer {
		t.Fatalf("expected ErrSlowConsumer, got %v", err)
	}
	if err := c.enqueue([]byte("x")); err != ErrClientClosed {
		t.Fatalf("expected ErrClientClosed, got %v", err)
	}
}
