package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"telecom-signaling/internal/accounts"
	"telecom-signaling/internal/presence"

	"github.com/redis/go-redis/v9"
)

var ErrNotConnected = errors.New("gateway: participant not connected")

const (
	relayChannelPrefix = "signal:relay:"
	broadcastChannel   = "signal:broadcast"
)

// HandleLookup resolves a participant to its current connection handle.
type HandleLookup interface {
	GetHandle(ctx context.Context, role accounts.Role, id string) (presence.Handle, bool, error)
}

// Hub delivers events to connections. Connections owned by this instance are
// written directly; connections owned by another instance are reached through
// that instance's Redis relay channel.
type Hub struct {
	instance string
	rdb      redis.UniversalClient
	handles  HandleLookup
	log      *slog.Logger

	mu      sync.RWMutex
	clients map[string]*client

	ready     chan struct{}
	readyOnce sync.Once
}

func NewHub(rdb redis.UniversalClient, handles HandleLookup, instance string, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		instance: instance,
		rdb:      rdb,
		handles:  handles,
		log:      log,
		clients:  make(map[string]*client),
		ready:    make(chan struct{}),
	}
}

type relayKind string

const (
	relayDeliver relayKind = "deliver"
	relayClose   relayKind = "close"
)

type relayMessage struct {
	Kind   relayKind       `json:"kind"`
	Origin string          `json:"origin"`
	ConnID string          `json:"connId,omitempty"`
	Role   accounts.Role   `json:"role"`
	UserID string          `json:"userId,omitempty"`
	Frame  json.RawMessage `json:"frame,omitempty"`
}

func relayChannel(instance string) string { return relayChannelPrefix + instance }

// Handle builds the presence handle of a local connection.
func (h *Hub) Handle(connID string) presence.Handle {
	return presence.Handle{Instance: h.instance, ConnID: connID}
}

// Notify implements session.Notifier.
func (h *Hub) Notify(ctx context.Context, role accounts.Role, id, event string, payload any) error {
	handle, ok, err := h.handles.GetHandle(ctx, role, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotConnected
	}
	msg, err := encodeFrame(event, payload)
	if err != nil {
		return fmt.Errorf("gateway: encode %s: %w", event, err)
	}
	if handle.Instance == h.instance {
		return h.deliverLocal(handle.ConnID, role, id, msg)
	}
	return h.publish(ctx, relayChannel(handle.Instance), relayMessage{
		Kind: relayDeliver, ConnID: handle.ConnID, Role: role, UserID: id, Frame: msg,
	})
}

// Broadcast implements session.Notifier. Local connections are written
// directly; other instances pick the event up from the broadcast channel.
func (h *Hub) Broadcast(ctx context.Context, role accounts.Role, event string, payload any) error {
	msg, err := encodeFrame(event, payload)
	if err != nil {
		return fmt.Errorf("gateway: encode %s: %w", event, err)
	}
	h.broadcastLocal(role, msg)
	return h.publish(ctx, broadcastChannel, relayMessage{Kind: relayDeliver, Role: role, Frame: msg})
}

// Supersede closes the connection behind a handle that was replaced.
func (h *Hub) Supersede(ctx context.Context, old presence.Handle) error {
	if old.Instance == h.instance {
		h.closeLocal(old.ConnID)
		return nil
	}
	return h.publish(ctx, relayChannel(old.Instance), relayMessage{Kind: relayClose, ConnID: old.ConnID})
}

func (h *Hub) publish(ctx context.Context, channel string, m relayMessage) error {
	m.Origin = h.instance
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if err := h.rdb.Publish(ctx, channel, b).Err(); err != nil {
		return fmt.Errorf("gateway: publish: %w", err)
	}
	return nil
}

// Run consumes this instance's relay channel and the broadcast channel until
// ctx is done.
func (h *Hub) Run(ctx context.Context) error {
	sub := h.rdb.Subscribe(ctx, relayChannel(h.instance), broadcastChannel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("gateway: subscribe: %w", err)
	}
	h.readyOnce.Do(func() { close(h.ready) })

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			h.handleRelay(m)
		}
	}
}

// Ready is closed once Run is subscribed.
func (h *Hub) Ready() <-chan struct{} { return h.ready }

func (h *Hub) handleRelay(m *redis.Message) {
	var rm relayMessage
	if err := json.Unmarshal([]byte(m.Payload), &rm); err != nil {
		h.log.Warn("bad relay message", "channel", m.Channel, "err", err)
		return
	}
	switch {
	case m.Channel == broadcastChannel:
		if rm.Origin != h.instance {
			h.broadcastLocal(rm.Role, rm.Frame)
		}
	case rm.Kind == relayClose:
		h.closeLocal(rm.ConnID)
	default:
		if err := h.deliverLocal(rm.ConnID, rm.Role, rm.UserID, rm.Frame); err != nil {
			h.log.Debug("relayed event dropped", "conn_id", rm.ConnID, "err", err)
		}
	}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.id] = c
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.clients[c.id]; ok && cur == c {
		delete(h.clients, c.id)
	}
}

func (h *Hub) get(connID string) (*client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.clients[connID]
	return c, ok
}

func (h *Hub) deliverLocal(connID string, role accounts.Role, userID string, msg []byte) error {
	c, ok := h.get(connID)
	if !ok || c.role() != role || c.userID != userID {
		return ErrNotConnected
	}
	return c.enqueue(msg)
}

func (h *Hub) broadcastLocal(role accounts.Role, msg []byte) {
	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		if c.role() == role {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		_ = c.enqueue(msg)
	}
}

func (h *Hub) closeLocal(connID string) {
	if c, ok := h.get(connID); ok {
		c.close(closeSuperseded, "superseded by a newer connection")
	}
}

// closeAll closes every local connection with the given close code.
func (h *Hub) closeAll(code int, text string) {
	h.mu.RLock()
	all := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		all = append(all, c)
	}
	h.mu.RUnlock()
	for _, c := range all {
		c.close(code, text)
	}
}

// Len is the number of connections held by this instance.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
