package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"telecom-signaling/internal/accounts"
	"telecom-signaling/internal/auth"
	"telecom-signaling/internal/calls"
	"telecom-signaling/internal/presence"
	"telecom-signaling/internal/rbac"
	"telecom-signaling/internal/session"
	"telecom-signaling/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Namespace is a role-scoped channel group.
type Namespace struct {
	Name string
	// Role is the participant role; empty for the operator group.
	Role accounts.Role
	// ClaimRole is the token role required to join.
	ClaimRole string
}

var (
	NamespaceUser       = Namespace{Name: "user", Role: accounts.RoleCaller, ClaimRole: rbac.RoleUser}
	NamespaceTelecaller = Namespace{Name: "telecaller", Role: accounts.RoleCallTaker, ClaimRole: rbac.RoleTelecaller}
	NamespaceAdmin      = Namespace{Name: "admin", ClaimRole: rbac.RoleAdmin}
)

func (n Namespace) Path() string { return "/" + n.Name }

// Registry is the presence registry as seen by the gateway.
type Registry interface {
	SetOnline(ctx context.Context, role accounts.Role, id string, h presence.Handle) (presence.Handle, error)
	SetOffline(ctx context.Context, role accounts.Role, id string, h presence.Handle) (bool, error)
	Count(ctx context.Context, role accounts.Role) (int64, error)
}

// Sessions is the call session manager as seen by the gateway.
type Sessions interface {
	Initiate(ctx context.Context, callerID string, req session.InitiateRequest) (calls.Call, error)
	Accept(ctx context.Context, callTakerID, callID string) error
	Reject(ctx context.Context, callTakerID, callID string) error
	Cancel(ctx context.Context, callerID, callID string) error
	End(ctx context.Context, side calls.Side, enderID, callID string) error
	Connected(ctx context.Context, role accounts.Role, id string)
	HandleDisconnect(ctx context.Context, role accounts.Role, id string)
}

type AccountLookup interface {
	Get(ctx context.Context, id string) (accounts.Account, error)
}

type TokenVerifier interface {
	Verify(token string, now time.Time) (auth.Claims, error)
}

type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Timing controls keepalive and per-event deadlines.
type Timing struct {
	PingInterval    time.Duration
	PongWait        time.Duration
	WriteWait       time.Duration
	MaxMessageBytes int64
	EventTimeout    time.Duration
}

func DefaultTiming() Timing {
	return Timing{
		PingInterval:    25 * time.Second,
		PongWait:        60 * time.Second,
		WriteWait:       10 * time.Second,
		MaxMessageBytes: 64 << 10,
		EventTimeout:    15 * time.Second,
	}
}

type Deps struct {
	Hub      *Hub
	Registry Registry
	Sessions Sessions
	Accounts AccountLookup
	Verifier TokenVerifier

	ConnectLimit  Limiter
	InitiateLimit Limiter
	ActionLimit   Limiter

	Logger *slog.Logger
	Clock  func() time.Time
}

type Options struct {
	AllowedOrigins []string
	Timing         Timing
}

// Server is the connection gateway: it admits websocket connections into the
// role-scoped groups, registers them in the presence registry and dispatches
// their events to the session manager.
type Server struct {
	hub      *Hub
	registry Registry
	sessions Sessions
	accounts AccountLookup
	verifier TokenVerifier

	connectLimit  Limiter
	initiateLimit Limiter
	actionLimit   Limiter

	log    *slog.Logger
	now    func() time.Time
	timing Timing

	upgrader websocket.Upgrader

	baseCtx context.Context
	cancel  context.CancelFunc

	mu      sync.Mutex
	closing bool
	conns   sync.WaitGroup
}

func NewServer(d Deps, o Options) (*Server, error) {
	if d.Hub == nil || d.Registry == nil || d.Sessions == nil || d.Accounts == nil || d.Verifier == nil {
		return nil, errors.New("gateway: missing dependency")
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	t := o.Timing
	def := DefaultTiming()
	if t.PingInterval <= 0 {
		t.PingInterval = def.PingInterval
	}
	if t.PongWait <= 0 {
		t.PongWait = def.PongWait
	}
	if t.WriteWait <= 0 {
		t.WriteWait = def.WriteWait
	}
	if t.MaxMessageBytes <= 0 {
		t.MaxMessageBytes = def.MaxMessageBytes
	}
	if t.EventTimeout <= 0 {
		t.EventTimeout = def.EventTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		hub:           d.Hub,
		registry:      d.Registry,
		sessions:      d.Sessions,
		accounts:      d.Accounts,
		verifier:      d.Verifier,
		connectLimit:  d.ConnectLimit,
		initiateLimit: d.InitiateLimit,
		actionLimit:   d.ActionLimit,
		log:           d.Logger,
		now:           d.Clock,
		timing:        t,
		baseCtx:       ctx,
		cancel:        cancel,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(o.AllowedOrigins),
	}
	return s, nil
}

// originChecker allows any origin when the list is empty.
func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.TrimRight(strings.ToLower(o), "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// Native clients do not send Origin.
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		_, ok := set[strings.ToLower(u.Scheme+"://"+u.Host)]
		return ok
	}
}

// Register mounts the three groups on r.
func (s *Server) Register(r gin.IRoutes) {
	for _, ns := range []Namespace{NamespaceUser, NamespaceTelecaller, NamespaceAdmin} {
		r.GET(ns.Path(), s.Handler(ns))
	}
}

// Handler serves one group. It blocks for the lifetime of the connection.
func (s *Server) Handler(ns Namespace) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.enter() {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "server is shutting down"})
			return
		}
		defer s.conns.Done()

		a := &admission{r: c.Request, clientIP: c.ClientIP(), ns: ns}
		if err := s.admit(c.Request.Context(), a); err != nil {
			var ae *AdmissionError
			if errors.As(err, &ae) {
				logger.FromGin(c).Info("connection refused", "namespace", ns.Name, "status", ae.Status, "reason", ae.Reason)
				c.AbortWithStatusJSON(ae.Status, gin.H{"error": ae.Reason})
				return
			}
			logger.FromGin(c).Error("admission failed", "namespace", ns.Name, "err", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// Upgrade already wrote the HTTP error.
			logger.FromGin(c).Info("websocket upgrade failed", "err", err)
			return
		}

		s.serve(conn, ns, a.claims.UserID)
	}
}

// enter counts a request in unless Shutdown has begun. The check and the
// count share the lock Shutdown takes, so Wait never races an Add.
func (s *Server) enter() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.conns.Add(1)
	return true
}

// attach adds cl to the hub, or closes it when Shutdown already swept the
// hub; a connection upgraded during shutdown would otherwise stay open.
func (s *Server) attach(cl *client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		cl.close(websocket.CloseGoingAway, "server shutting down")
		return false
	}
	s.hub.add(cl)
	return true
}

func (s *Server) serve(conn *websocket.Conn, ns Namespace, userID string) {
	connID := uuid.NewString()
	log := s.log.With("conn_id", connID, "namespace", ns.Name, "user_id", userID)
	cl := newClient(connID, ns, userID, conn, log)
	handle := s.hub.Handle(connID)

	if !s.attach(cl) {
		cl.writePump(s.timing)
		return
	}
	go cl.writePump(s.timing)

	if ns.Role != "" {
		if err := s.register(cl, handle); err != nil {
			log.Error("presence registration failed", "err", err)
			cl.close(websocket.CloseInternalServerErr, "registration failed")
			s.hub.remove(cl)
			return
		}
	}
	log.Info("connected")

	var inflight sync.WaitGroup
	cl.readPump(s.timing, func(raw []byte) {
		inflight.Add(1)
		go func() {
			defer inflight.Done()
			s.dispatch(cl, raw)
		}()
	})

	cl.close(websocket.CloseNormalClosure, "")
	s.hub.remove(cl)
	inflight.Wait()

	if ns.Role != "" {
		s.unregister(cl, handle)
	}
	log.Info("disconnected")
}

func (s *Server) register(cl *client, handle presence.Handle) error {
	ctx, cancel := context.WithTimeout(s.baseCtx, s.timing.EventTimeout)
	defer cancel()

	prev, err := s.registry.SetOnline(ctx, cl.role(), cl.userID, handle)
	if err != nil {
		return err
	}
	if !prev.IsZero() {
		cl.log.Info("superseding previous connection", "previous", prev.String())
		if err := s.hub.Supersede(ctx, prev); err != nil {
			cl.log.Warn("could not close superseded connection", "err", err)
		}
	}
	s.sessions.Connected(ctx, cl.role(), cl.userID)
	return nil
}

// unregister removes the presence entry only if it still points at this
// connection; cleanup runs only for the connection that was current.
func (s *Server) unregister(cl *client, handle presence.Handle) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timing.EventTimeout)
	defer cancel()

	removed, err := s.registry.SetOffline(ctx, cl.role(), cl.userID, handle)
	if err != nil {
		cl.log.Error("presence removal failed", "err", err)
		return
	}
	if !removed {
		cl.log.Debug("connection was superseded; skipping cleanup")
		return
	}
	s.sessions.HandleDisconnect(ctx, cl.role(), cl.userID)
}

// Shutdown stops admitting connections, closes the open ones and waits for
// their cleanup to finish or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	s.hub.closeAll(websocket.CloseGoingAway, "server shutting down")

	done := make(chan struct{})
	go func() {
		s.conns.Wait()
		close(done)
	}()
	defer s.cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
