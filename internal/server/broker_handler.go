package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	logger "github.com/sirupsen/logrus"

	"strategyexecutor/internal/auth"
	"strategyexecutor/internal/broker"
	"strategyexecutor/internal/model"
	"strategyexecutor/internal/vault"
)

// LinkStore is the narrow BrokerLink persistence seam the broker
// handlers call through.
type LinkStore interface {
	Create(ctx context.Context, link *model.BrokerLink) error
	Get(ctx context.Context, linkID model.ID) (*model.BrokerLink, error)
	ListByUser(ctx context.Context, userID model.ID) ([]model.BrokerLink, error)
	Delete(ctx context.Context, linkID model.ID) error
	UpdateStatus(ctx context.Context, linkID model.ID, status model.BrokerStatus) error
}

// AccountCreator is the narrow Account persistence seam used when a
// broker connection is first established.
type AccountCreator interface {
	Create(ctx context.Context, account *model.Account) error
}

// BrokerDeps wires the Broker Adapter Registry and Credential
// Vault behind the HTTP surface.
type BrokerDeps struct {
	Links    LinkStore
	Accounts AccountCreator
	Vault    *vault.Vault
	Registry *broker.Registry
}

// SupportedBrokersHandler lists the broker_kind values the registry
// can connect. PaperTrading is always present.
func SupportedBrokersHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []string{string(broker.KindPaper)})
	}
}

type connectBrokerPayload struct {
	BrokerKind       string  `json:"broker_kind"`
	ClientCode       string  `json:"client_code"`
	APIKey           string  `json:"api_key"`
	APISecret        string  `json:"api_secret"`
	Passphrase       string  `json:"passphrase,omitempty"`
	TOTPSeed         string  `json:"totp_seed,omitempty"`
	AccountRef       string  `json:"account_ref"`
	Currency         string  `json:"currency,omitempty"`
}

// ConnectBrokerHandler creates a BrokerLink, seals its credentials in
// the vault, and creates the one Account the link starts with.
func ConnectBrokerHandler(deps BrokerDeps, log *logger.Entry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			unauthorized(w)
			return
		}

		var payload connectBrokerPayload
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&payload); err != nil {
			badRequest(w, "invalid payload")
			return
		}
		if payload.BrokerKind == "" || payload.ClientCode == "" {
			badRequest(w, "broker_kind and client_code are required")
			return
		}

		link := &model.BrokerLink{
			ID:         model.NewID(),
			UserID:     user.ID,
			BrokerKind: payload.BrokerKind,
			ClientCode: payload.ClientCode,
			Status:     model.BrokerStatusDisconnected,
		}

		ciphertext, err := deps.Vault.Store(link, vault.Secrets{
			APIKey:     payload.APIKey,
			APISecret:  payload.APISecret,
			Passphrase: payload.Passphrase,
			TOTPSeed:   payload.TOTPSeed,
		})
		if err != nil {
			internalError(w, log, "seal broker credentials failed", err)
			return
		}
		link.EncryptedCredentials = ciphertext

		if err := deps.Links.Create(r.Context(), link); err != nil {
			internalError(w, log, "create broker link failed", err)
			return
		}

		currency := payload.Currency
		if currency == "" {
			currency = "INR"
		}
		account := &model.Account{
			ID:               model.NewID(),
			BrokerLinkID:     link.ID,
			BrokerAccountRef: payload.AccountRef,
			Currency:         currency,
		}
		if err := deps.Accounts.Create(r.Context(), account); err != nil {
			internalError(w, log, "create account failed", err)
			return
		}

		writeJSON(w, http.StatusCreated, link)
	}
}

// ListBrokersHandler lists the authenticated user's BrokerLinks.
func ListBrokersHandler(deps BrokerDeps, log *logger.Entry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			unauthorized(w)
			return
		}
		links, err := deps.Links.ListByUser(r.Context(), user.ID)
		if err != nil {
			internalError(w, log, "list broker links failed", err)
			return
		}
		writeJSON(w, http.StatusOK, links)
	}
}

func parseLinkID(w http.ResponseWriter, r *http.Request) (model.ID, bool) {
	id, err := model.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		badRequest(w, "invalid broker link id")
		return model.ZeroID, false
	}
	return id, true
}

// BrokerLoginHandler checks a BrokerLink's session by issuing a Margin
// call through the registry, which reuses a stored unexpired session or
// else connects a new one (it does not re-authenticate when the adapter
// reports ErrSessionExpired), then records the resulting status. The
// margin figure itself is discarded.
func BrokerLoginHandler(deps BrokerDeps, log *logger.Entry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		linkID, ok := parseLinkID(w, r)
		if !ok {
			return
		}
		link, err := deps.Links.Get(r.Context(), linkID)
		if err != nil {
			internalError(w, log, "load broker link failed", err)
			return
		}
		if link == nil {
			notFound(w, "broker link not found")
			return
		}
		if _, err := deps.Registry.Margin(r.Context(), broker.Kind(link.BrokerKind), *link); err != nil {
			_ = deps.Links.UpdateStatus(r.Context(), linkID, model.BrokerStatusError)
			writeDomainError(w, log, "broker login failed", err)
			return
		}
		_ = deps.Links.UpdateStatus(r.Context(), linkID, model.BrokerStatusConnected)
		writeJSON(w, http.StatusOK, map[string]string{"status": "connected"})
	}
}

// BrokerLogoutHandler marks the link disconnected. The registry itself
// has no explicit per-link logout entry point beyond the adapter's
// Logout, which only applies to a live session; disconnecting here is
// a status transition the next adapter call will re-establish from.
func BrokerLogoutHandler(deps BrokerDeps, log *logger.Entry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		linkID, ok := parseLinkID(w, r)
		if !ok {
			return
		}
		if err := deps.Links.UpdateStatus(r.Context(), linkID, model.BrokerStatusDisconnected); err != nil {
			internalError(w, log, "update broker link status failed", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "disconnected"})
	}
}

// DeleteBrokerHandler removes a BrokerLink (cascading to its Accounts
// cascade) and forgets its vault-held credentials.
func DeleteBrokerHandler(deps BrokerDeps, log *logger.Entry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		linkID, ok := parseLinkID(w, r)
		if !ok {
			return
		}
		link, err := deps.Links.Get(r.Context(), linkID)
		if err != nil {
			internalError(w, log, "load broker link failed", err)
			return
		}
		if link == nil {
			notFound(w, "broker link not found")
			return
		}
		deps.Vault.Forget(link)
		if err := deps.Links.Delete(r.Context(), linkID); err != nil {
			internalError(w, log, "delete broker link failed", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// BrokerPositionsHandler proxies the adapter's Positions capability.
func BrokerPositionsHandler(deps BrokerDeps, log *logger.Entry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		linkID, ok := parseLinkID(w, r)
		if !ok {
			return
		}
		link, err := deps.Links.Get(r.Context(), linkID)
		if err != nil || link == nil {
			notFound(w, "broker link not found")
			return
		}
		positions, err := deps.Registry.Positions(r.Context(), broker.Kind(link.BrokerKind), *link)
		if err != nil {
			writeDomainError(w, log, "fetch broker positions failed", err)
			return
		}
		writeJSON(w, http.StatusOK, positions)
	}
}

// BrokerHoldingsHandler proxies the adapter's Holdings capability.
func BrokerHoldingsHandler(deps BrokerDeps, log *logger.Entry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		linkID, ok := parseLinkID(w, r)
		if !ok {
			return
		}
		link, err := deps.Links.Get(r.Context(), linkID)
		if err != nil || link == nil {
			notFound(w, "broker link not found")
			return
		}
		holdings, err := deps.Registry.Holdings(r.Context(), broker.Kind(link.BrokerKind), *link)
		if err != nil {
			writeDomainError(w, log, "fetch broker holdings failed", err)
			return
		}
		writeJSON(w, http.StatusOK, holdings)
	}
}

type convertPositionPayload struct {
	Symbol        string `json:"symbol"`
	TargetProduct string `json:"target_product"`
}

// BrokerConvertHandler proxies the adapter's optional PositionConverter
// capability.
func BrokerConvertHandler(deps BrokerDeps, log *logger.Entry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		linkID, ok := parseLinkID(w, r)
		if !ok {
			return
		}
		var payload convertPositionPayload
		decoder := json.NewDecoder(r.Body)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&payload); err != nil {
			badRequest(w, "invalid payload")
			return
		}
		link, err := deps.Links.Get(r.Context(), linkID)
		if err != nil || link == nil {
			notFound(w, "broker link not found")
			return
		}
		if err := deps.Registry.ConvertPosition(r.Context(), broker.Kind(link.BrokerKind), *link, payload.Symbol, payload.TargetProduct); err != nil {
			writeDomainError(w, log, "convert position failed", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "converted"})
	}
}
