package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"strategyexecutor/internal/auth"
	"strategyexecutor/internal/model"
)

type memUserStore struct {
	users map[string]*model.User
}

func newMemUserStore() *memUserStore {
	return &memUserStore{users: map[string]*model.User{}}
}

func (m *memUserStore) Create(_ context.Context, user *model.User) error {
	m.users[user.Email] = user
	return nil
}

func (m *memUserStore) FindByEmail(_ context.Context, email string) (*model.User, error) {
	return m.users[email], nil
}

func testIssuer(t *testing.T) *auth.Issuer {
	t.Helper()
	issuer, err := auth.NewIssuer(auth.Config{
		SigningKeyB64:   "Pjk+k4hske5KkKtbaKSVDOgpllRl+0EI6oCAdx88XqI=",
		AccessTokenTTL:  time.Hour,
		RefreshTokenTTL: 24 * time.Hour,
	})
	require.NoError(t, err)
	return issuer
}

func postJSON(t *testing.T, handler http.HandlerFunc, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(raw))
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func TestRegisterHandler_IssuesTokenPair(t *testing.T) {
	store := newMemUserStore()
	handler := RegisterHandler(store, testIssuer(t), testLog())

	rec := postJSON(t, handler, map[string]string{"email": "Trader@Example.com", "password": "hunter2hunter2"})
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp tokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.AccessToken)
	require.NotEmpty(t, resp.RefreshToken)

	// email is normalized before persisting
	require.Contains(t, store.users, "trader@example.com")
}

func TestRegisterHandler_DuplicateEmailConflicts(t *testing.T) {
	store := newMemUserStore()
	issuer := testIssuer(t)
	handler := RegisterHandler(store, issuer, testLog())

	first := postJSON(t, handler, map[string]string{"email": "a@b.com", "password": "hunter2hunter2"})
	require.Equal(t, http.StatusCreated, first.Code)

	second := postJSON(t, handler, map[string]string{"email": "a@b.com", "password": "hunter2hunter2"})
	require.Equal(t, http.StatusConflict, second.Code)

	var envelope ErrorResponse
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &envelope))
	require.Equal(t, "CONFLICT", envelope.Error.Code)
}

func TestLoginHandler_RoundTrip(t *testing.T) {
	store := newMemUserStore()
	issuer := testIssuer(t)

	rec := postJSON(t, RegisterHandler(store, issuer, testLog()), map[string]string{
		"email": "a@b.com", "password": "hunter2hunter2",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	login := postJSON(t, LoginHandler(store, issuer, testLog()), map[string]string{
		"email": "a@b.com", "password": "hunter2hunter2",
	})
	require.Equal(t, http.StatusOK, login.Code)

	wrong := postJSON(t, LoginHandler(store, issuer, testLog()), map[string]string{
		"email": "a@b.com", "password": "not-the-password",
	})
	require.Equal(t, http.StatusUnauthorized, wrong.Code)
}

func TestRegisterHandler_RejectsShortPassword(t *testing.T) {
	handler := RegisterHandler(newMemUserStore(), testIssuer(t), testLog())
	rec := postJSON(t, handler, map[string]string{"email": "a@b.com", "password": "short"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
