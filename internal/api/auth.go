package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/metaneutrons/snapdog2-sub010/internal/auth"
	"github.com/metaneutrons/snapdog2-sub010/internal/infrastructure/config"
)

// ticketTTL is how long a WebSocket ticket is valid.
const ticketTTL = 60 * time.Second

// ticketStore holds pending WebSocket authentication tickets.
// Tickets are single-use and expire after ticketTTL.
type ticketStore struct {
	tickets map[string]ticketEntry
	mu      sync.Mutex
}

type ticketEntry struct {
	subject   string
	expiresAt time.Time
}

func newTicketStore() *ticketStore {
	return &ticketStore{tickets: make(map[string]ticketEntry)}
}

// issue stores a fresh ticket for subject.
func (ts *ticketStore) issue(subject string) string {
	ticket := generateTicket()
	ts.mu.Lock()
	ts.tickets[ticket] = ticketEntry{subject: subject, expiresAt: time.Now().Add(ticketTTL)}
	ts.mu.Unlock()
	return ticket
}

// consume checks a ticket and removes it (single-use).
func (ts *ticketStore) consume(ticket string) (ticketEntry, bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	entry, ok := ts.tickets[ticket]
	if !ok {
		return ticketEntry{}, false
	}
	delete(ts.tickets, ticket)
	return entry, time.Now().Before(entry.expiresAt)
}

// cleanExpired removes expired tickets from the store.
func (ts *ticketStore) cleanExpired(now time.Time) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for ticket, entry := range ts.tickets {
		if now.After(entry.expiresAt) {
			delete(ts.tickets, ticket)
		}
	}
}

// cleanLoop runs cleanExpired periodically until the context is cancelled.
func (ts *ticketStore) cleanLoop(ctx context.Context) {
	ticker := time.NewTicker(ticketTTL)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			ts.cleanExpired(now)
		}
	}
}

// handleWSTicket generates a single-use WebSocket authentication ticket.
// The client uses this ticket to authenticate the WebSocket connection
// without exposing the JWT in the URL.
func (s *Server) handleWSTicket(w http.ResponseWriter, r *http.Request) {
	subject := "anonymous"
	if claims := claimsFrom(r.Context()); claims != nil {
		subject = claims.Subject
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ticket":     s.tickets.issue(subject),
		"expires_in": int(ticketTTL.Seconds()),
	})
}

// ticketBytes is the number of random bytes used for WebSocket tickets.
const ticketBytes = 32

// generateTicket creates a cryptographically random ticket string.
func generateTicket() string {
	b := make([]byte, ticketBytes)
	//nolint:errcheck // crypto/rand.Read always returns len(b) on supported platforms
	rand.Read(b)
	return hex.EncodeToString(b)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	Role      auth.Role `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
}

// handleLogin exchanges a username and password for a bearer token.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" {
		writeBadRequest(w, "body must be {\"username\": ..., \"password\": ...}")
		return
	}

	role, err := s.users.Authenticate(req.Username, req.Password)
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		s.logger.Warn("login failed", "user", req.Username, "remote", r.RemoteAddr)
		writeUnauthorized(w, "invalid username or password")
		return
	case err != nil:
		s.logger.Error("login error", "user", req.Username, "error", err)
		writeInternalError(w, "login failed")
		return
	}

	ttl := config.Hours(s.cfg.Auth.TokenTTL)
	if ttl <= 0 {
		ttl = auth.DefaultTokenTTL
	}
	token, err := auth.IssueToken(req.Username, role, s.cfg.Auth.JWTSecret, s.cfg.Auth.Issuer, ttl)
	if err != nil {
		s.logger.Error("issuing token", "user", req.Username, "error", err)
		writeInternalError(w, "login failed")
		return
	}

	s.logger.Info("login", "user", req.Username, "role", role)
	writeJSON(w, http.StatusOK, loginResponse{Token: token, Role: role, ExpiresAt: time.Now().Add(ttl).UTC()})
}

// usersFrom builds the login accounts, or nil when logins are off.
func usersFrom(cfg config.AuthConfig) (*auth.Users, error) {
	if !cfg.Enabled || len(cfg.Users) == 0 {
		return nil, nil
	}
	accounts := make([]auth.User, 0, len(cfg.Users))
	for _, u := range cfg.Users {
		accounts = append(accounts, auth.User{Name: u.Name, PasswordHash: u.PasswordHash, Role: auth.Role(u.Role)})
	}
	return auth.NewUsers(accounts)
}
