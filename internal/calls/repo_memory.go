package calls

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo mirrors the Postgres repository semantics in memory: live-call
// uniqueness on create and state-guarded transitions. Useful for tests.
type MemoryRepo struct {
	mu    sync.Mutex
	calls map[string]Call
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{calls: map[string]Call{}} }

func (r *MemoryRepo) Create(ctx context.Context, c Call) (Call, error) {
	if c.ID == "" || c.CallerID == "" || c.CallTakerID == "" || !c.Kind.Valid() {
		return Call{}, ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.calls {
		if !existing.State.Live() {
			continue
		}
		if existing.CallerID == c.CallerID {
			return Call{}, ErrCallerBusy
		}
		if existing.CallTakerID == c.CallTakerID {
			return Call{}, ErrCallTakerBusy
		}
	}
	c.State = StateRinging
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	c.UpdatedAt = c.CreatedAt
	r.calls[c.ID] = c
	return c, nil
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[id]
	if !ok {
		return Call{}, ErrNotFound
	}
	return c, nil
}

func (r *MemoryRepo) FindLive(ctx context.Context, side Side, participantID string) (Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.calls {
		if !c.State.Live() {
			continue
		}
		if (side == SideCaller && c.CallerID == participantID) || (side == SideCallTaker && c.CallTakerID == participantID) {
			return c, nil
		}
	}
	return Call{}, ErrNotFound
}

func (r *MemoryRepo) Transition(ctx context.Context, t Transition) (Call, error) {
	if err := t.Validate(); err != nil {
		return Call{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[t.CallID]
	if !ok || c.State != t.From {
		return Call{}, ErrNotFound
	}
	if (t.CallerID != "" && c.CallerID != t.CallerID) || (t.CallTakerID != "" && c.CallTakerID != t.CallTakerID) {
		return Call{}, ErrNotFound
	}
	at := t.At.UTC()
	c.State = t.To
	c.UpdatedAt = at
	switch {
	case t.To == StateAccepted:
		c.AcceptedAt = &at
	case t.To.Terminal():
		c.EndedAt = &at
		c.EndedBy = t.EndedBy
		c.EndReason = t.EndReason
		if t.To == StateCompleted {
			c.DurationSeconds = durationSeconds(c.AcceptedAt, at)
		}
	}
	r.calls[c.ID] = c
	return c, nil
}

func (r *MemoryRepo) ListByState(ctx context.Context, state State, createdBefore time.Time, limit int) ([]Call, error) {
	r.mu.Lock()
	out := make([]Call, 0)
	for _, c := range r.calls {
		if c.State == state && c.CreatedAt.Before(createdBefore) {
			out = append(out, c)
		}
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepo) ListCreated(ctx context.Context, from, to time.Time) ([]Call, error) {
	r.mu.Lock()
	out := make([]Call, 0)
	for _, c := range r.calls {
		if c.CreatedAt.Before(from) || !c.CreatedAt.Before(to) {
			continue
		}
		out = append(out, c)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Put stores a call as-is, bypassing invariants. Test seeding only.
func (r *MemoryRepo) Put(c Call) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[c.ID] = c
}
