package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	logger "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"strategyexecutor/internal/auth"
	"strategyexecutor/internal/model"
)

// AuthDeps is the narrow persistence seam /auth/register and
// /auth/login call through.
type AuthDeps interface {
	Create(ctx context.Context, user *model.User) error
	FindByEmail(ctx context.Context, email string) (*model.User, error)
}

type registerPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// RegisterHandler creates a new User with a bcrypt-hashed password and
// returns a fresh token pair.
func RegisterHandler(deps AuthDeps, issuer *auth.Issuer, log *logger.Entry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload registerPayload
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&payload); err != nil {
			badRequest(w, "invalid payload")
			return
		}
		payload.Email = strings.TrimSpace(strings.ToLower(payload.Email))
		if payload.Email == "" || len(payload.Password) < 8 {
			badRequest(w, "email is required and password must be at least 8 characters")
			return
		}

		existing, err := deps.FindByEmail(r.Context(), payload.Email)
		if err != nil {
			internalError(w, log, "lookup user by email failed", err)
			return
		}
		if existing != nil {
			writeError(w, http.StatusConflict, "CONFLICT", "an account with this email already exists", nil)
			return
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(payload.Password), bcrypt.DefaultCost)
		if err != nil {
			internalError(w, log, "hash password failed", err)
			return
		}

		user := &model.User{
			ID:           model.NewID(),
			Email:        payload.Email,
			PasswordHash: string(hash),
			Role:         model.RoleTrader,
		}
		if err := deps.Create(r.Context(), user); err != nil {
			internalError(w, log, "create user failed", err)
			return
		}

		pair := issuer.Issue(user.ID)
		writeJSON(w, http.StatusCreated, tokenResponse{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken})
	}
}

// LoginHandler verifies email/password and issues a fresh token pair.
func LoginHandler(deps AuthDeps, issuer *auth.Issuer, log *logger.Entry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload loginPayload
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&payload); err != nil {
			badRequest(w, "invalid payload")
			return
		}
		payload.Email = strings.TrimSpace(strings.ToLower(payload.Email))

		user, err := deps.FindByEmail(r.Context(), payload.Email)
		if err != nil {
			internalError(w, log, "lookup user by email failed", err)
			return
		}
		if user == nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid email or password", nil)
			return
		}
		if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(payload.Password)); err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid email or password", nil)
			return
		}

		pair := issuer.Issue(user.ID)
		writeJSON(w, http.StatusOK, tokenResponse{AccessToken: pair.AccessToken, RefreshToken: pair.RefreshToken})
	}
}

// MeHandler returns the authenticated user's profile.
func MeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			unauthorized(w)
			return
		}
		writeJSON(w, http.StatusOK, user)
	}
}
