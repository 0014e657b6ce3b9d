package presence

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"telecom-signaling/internal/accounts"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRegistry(t *testing.T) (*Registry, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRegistry(rdb), mr
}

func TestParseHandle(t *testing.T) {
	h, err := ParseHandle("node-a/c1")
	if err != nil || h.Instance != "node-a" || h.ConnID != "c1" {
		t.Fatalf("unexpected parse: %+v %v", h, err)
	}
	for _, bad := range []string{"", "node-a", "/c1", "node-a/"} {
		if _, err := ParseHandle(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestSetOnline_SupersedesPreviousHandle(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()
	first := Handle{Instance: "a", ConnID: "1"}
	second := Handle{Instance: "b", ConnID: "2"}

	prev, err := r.SetOnline(ctx, accounts.RoleCallTaker, "t1", first)
	if err != nil || !prev.IsZero() {
		t.Fatalf("first online: prev=%v err=%v", prev, err)
	}
	prev, err = r.SetOnline(ctx, accounts.RoleCallTaker, "t1", second)
	if err != nil {
		t.Fatalf("second online: %v", err)
	}
	if prev != first {
		t.Fatalf("expected superseded handle %v, got %v", first, prev)
	}

	got, ok, err := r.GetHandle(ctx, accounts.RoleCallTaker, "t1")
	if err != nil || !ok || got != second {
		t.Fatalf("expected %v, got %v ok=%v err=%v", second, got, ok, err)
	}
	if n, _ := r.Count(ctx, accounts.RoleCallTaker); n != 1 {
		t.Fatalf("expected count 1, got %d", n)
	}
}

func TestSetOffline_StaleHandleDoesNotEvict(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()
	old := Handle{Instance: "a", ConnID: "old"}
	cur := Handle{Instance: "a", ConnID: "new"}

	_, _ = r.SetOnline(ctx, accounts.RoleCaller, "u1", old)
	_, _ = r.SetOnline(ctx, accounts.RoleCaller, "u1", cur)

	removed, err := r.SetOffline(ctx, accounts.RoleCaller, "u1", old)
	if err != nil {
		t.Fatalf("offline: %v", err)
	}
	if removed {
		t.Fatalf("stale disconnect must not remove the newer entry")
	}
	if on, _ := r.IsOnline(ctx, accounts.RoleCaller, "u1"); !on {
		t.Fatalf("expected u1 still online")
	}

	removed, err = r.SetOffline(ctx, accounts.RoleCaller, "u1", cur)
	if err != nil || !removed {
		t.Fatalf("expected removal, got %v %v", removed, err)
	}
	if on, _ := r.IsOnline(ctx, accounts.RoleCaller, "u1"); on {
		t.Fatalf("expected u1 offline")
	}
	if n, _ := r.Count(ctx, accounts.RoleCaller); n != 0 {
		t.Fatalf("expected count 0, got %d", n)
	}
}

func TestSetOffline_Unconditional(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()
	_, _ = r.SetOnline(ctx, accounts.RoleCaller, "u1", Handle{Instance: "a", ConnID: "1"})

	removed, err := r.SetOffline(ctx, accounts.RoleCaller, "u1", Handle{})
	if err != nil || !removed {
		t.Fatalf("expected unconditional removal, got %v %v", removed, err)
	}
	removed, err = r.SetOffline(ctx, accounts.RoleCaller, "u1", Handle{})
	if err != nil || removed {
		t.Fatalf("expected no-op on absent entry, got %v %v", removed, err)
	}
}

func TestRoles_AreIndependent(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()
	_, _ = r.SetOnline(ctx, accounts.RoleCaller, "x", Handle{Instance: "a", ConnID: "1"})

	if on, _ := r.IsOnline(ctx, accounts.RoleCallTaker, "x"); on {
		t.Fatalf("caller entry must not be visible under the call-taker role")
	}
}

func TestReset_ClearsEverything(t *testing.T) {
	r, mr := newTestRegistry(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, _ = r.SetOnline(ctx, accounts.RoleCaller, fmt.Sprintf("u%d", i), Handle{Instance: "a", ConnID: fmt.Sprint(i)})
		_, _ = r.SetOnline(ctx, accounts.RoleCallTaker, fmt.Sprintf("t%d", i), Handle{Instance: "a", ConnID: fmt.Sprint(i)})
	}
	mr.Set("unrelated", "keep")

	if _, err := r.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	for _, role := range []accounts.Role{accounts.RoleCaller, accounts.RoleCallTaker} {
		if n, _ := r.Count(ctx, role); n != 0 {
			t.Fatalf("expected empty %s registry, got %d", role, n)
		}
	}
	if !mr.Exists("unrelated") {
		t.Fatalf("reset must only touch presence keys")
	}
}

func TestSetOnline_ConcurrentSingleWinner(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = r.SetOnline(ctx, accounts.RoleCallTaker, "t1", Handle{Instance: "a", ConnID: fmt.Sprint(i)})
		}(i)
	}
	wg.Wait()

	if n, _ := r.Count(ctx, accounts.RoleCallTaker); n != 1 {
		t.Fatalf("expected exactly one entry, got %d", n)
	}
	if _, ok, _ := r.GetHandle(ctx, accounts.RoleCallTaker, "t1"); !ok {
		t.Fatalf("expected a surviving handle")
	}
}
