package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/MGASALUCAS/deepxray/internal/store"
)

type contextKey string

const usernameKey contextKey = "username"

// Authenticator owns user credentials and the in-memory session tokens.
// Tokens are opaque bearer values minted at login and lost on restart.
type Authenticator struct {
	store *store.Store

	mu     sync.RWMutex
	tokens map[string]string
}

func NewAuthenticator(st *store.Store) *Authenticator {
	return &Authenticator{
		store:  st,
		tokens: make(map[string]string),
	}
}

type credentialsRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	FullName   string `json:"full_name,omitempty"`
	Role       string `json:"role,omitempty"`
	ClinicName string `json:"clinic_name,omitempty"`
}

type authResponse struct {
	Success bool   `json:"success"`
	Token   string `json:"token"`
	Role    string `json:"role,omitempty"`
}

func (a *Authenticator) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, "invalid_request", err.Error(), http.StatusBadRequest)
		return
	}
	if req.Username == "" || req.Password == "" {
		sendError(w, "invalid_request", "username and password are required", http.StatusBadRequest)
		return
	}

	role := req.Role
	if role == "" {
		role = "clinician"
	}
	switch role {
	case "clinician", "radiologist", "receptionist":
	default:
		sendError(w, "invalid_request", "invalid role", http.StatusBadRequest)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		sendError(w, "internal_error", err.Error(), http.StatusInternalServerError)
		return
	}

	user := store.User{
		Username:     req.Username,
		PasswordHash: string(hash),
		FullName:     req.FullName,
		Role:         role,
		ClinicName:   req.ClinicName,
		CreatedAt:    time.Now().UTC(),
	}
	if err := a.store.CreateUser(r.Context(), user); err != nil {
		sendError(w, "user_exists", "could not create user", http.StatusConflict)
		return
	}

	token, err := a.issueToken(req.Username)
	if err != nil {
		sendError(w, "internal_error", err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, authResponse{Success: true, Token: token, Role: role})
}

func (a *Authenticator) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, "invalid_request", err.Error(), http.StatusBadRequest)
		return
	}

	user, err := a.store.GetUser(r.Context(), req.Username)
	if errors.Is(err, sql.ErrNoRows) {
		sendError(w, "invalid_credentials", "Invalid username or password", http.StatusUnauthorized)
		return
	}
	if err != nil {
		sendError(w, "internal_error", err.Error(), http.StatusInternalServerError)
		return
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		sendError(w, "invalid_credentials", "Invalid username or password", http.StatusUnauthorized)
		return
	}

	token, err := a.issueToken(user.Username)
	if err != nil {
		sendError(w, "internal_error", err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, authResponse{Success: true, Token: token, Role: user.Role})
}

func (a *Authenticator) issueToken(username string) (string, error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	token := "dx-" + hex.EncodeToString(raw)

	a.mu.Lock()
	a.tokens[token] = username
	a.mu.Unlock()
	return token, nil
}

// Middleware validates the Authorization header and stashes the
// authenticated username in the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			sendError(w, "unauthorized", "Missing Authorization header", http.StatusUnauthorized)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			sendError(w, "unauthorized", "Invalid Authorization header format", http.StatusUnauthorized)
			return
		}

		a.mu.RLock()
		username, ok := a.tokens[parts[1]]
		a.mu.RUnlock()
		if !ok {
			sendError(w, "unauthorized", "Invalid or expired token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), usernameKey, username)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestUser(r *http.Request) string {
	if u, ok := r.Context().Value(usernameKey).(string); ok {
		return u
	}
	return ""
}
