package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"telecom-signaling/internal/accounts"
	"telecom-signaling/internal/auth"
	"telecom-signaling/pkg/logger"
)

// AdmissionError rejects a connection before the websocket upgrade.
type AdmissionError struct {
	Status int
	Reason string
}

func (e *AdmissionError) Error() string {
	return fmt.Sprintf("gateway: admission denied (%d): %s", e.Status, e.Reason)
}

func deny(status int, reason string) error {
	return &AdmissionError{Status: status, Reason: reason}
}

// admission carries what the guards learn about a connection attempt.
type admission struct {
	r        *http.Request
	clientIP string
	ns       Namespace

	claims  auth.Claims
	account accounts.Account
}

type guard func(ctx context.Context, a *admission) error

// guards run in order; the first failure rejects the connection.
func (s *Server) guards() []guard {
	return []guard{
		s.guardConnectionRate,
		s.guardCredential,
		s.guardRole,
		s.guardActiveAccount,
		s.guardApproval,
	}
}

func (s *Server) admit(ctx context.Context, a *admission) error {
	for _, g := range s.guards() {
		if err := g(ctx, a); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) guardConnectionRate(ctx context.Context, a *admission) error {
	if s.connectLimit == nil {
		return nil
	}
	ok, err := s.connectLimit.Allow(ctx, a.clientIP)
	if err != nil {
		// Fail open: a Redis hiccup must not lock every client out.
		logger.From(ctx).Warn("connection rate limit check failed", "client_ip", a.clientIP, "err", err)
		return nil
	}
	if !ok {
		return deny(http.StatusTooManyRequests, "Too many connection attempts. Please try again later.")
	}
	return nil
}

func (s *Server) guardCredential(ctx context.Context, a *admission) error {
	tok := auth.TokenFromRequest(a.r)
	if tok == "" {
		return deny(http.StatusUnauthorized, "Authentication token required")
	}
	claims, err := s.verifier.Verify(tok, s.now())
	if err != nil {
		return deny(http.StatusUnauthorized, "Invalid or expired token")
	}
	a.claims = claims
	return nil
}

func (s *Server) guardRole(ctx context.Context, a *admission) error {
	if a.claims.Role != a.ns.ClaimRole {
		return deny(http.StatusForbidden, "Access denied")
	}
	return nil
}

func (s *Server) guardActiveAccount(ctx context.Context, a *admission) error {
	if a.ns.Role == "" {
		// Operators are not participant accounts.
		return nil
	}
	acct, err := s.accounts.Get(ctx, a.claims.UserID)
	if errors.Is(err, accounts.ErrNotFound) {
		return deny(http.StatusForbidden, "Your account is not available. Please contact support.")
	}
	if err != nil {
		return fmt.Errorf("gateway: account lookup: %w", err)
	}
	if acct.Role != a.ns.Role || !acct.IsActive() {
		return deny(http.StatusForbidden, "Your account is not available. Please contact support.")
	}
	a.account = acct
	return nil
}

func (s *Server) guardApproval(ctx context.Context, a *admission) error {
	if a.ns.Role != accounts.RoleCallTaker {
		return nil
	}
	if !a.account.IsApprovedCallTaker() {
		return deny(http.StatusForbidden, "Your profile is pending approval.")
	}
	return nil
}
