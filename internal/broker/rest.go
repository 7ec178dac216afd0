package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	logger "github.com/sirupsen/logrus"

	"strategyexecutor/internal/model"
)

// RESTOptions carries the broker-specific knobs a REST-speaking
// adapter needs. These quirks (header names, signing scheme, TOTP
// requirement) live here rather than widening the Adapter interface.
type RESTOptions struct {
	BrokerKind      Kind
	BaseURL         string
	RequiresTOTP    bool
	SignHeaderName  string
	ExpiryHeaderName string
	Sign            func(method, path, body string, apiSecret string, expiry int64) string
}

// RESTAdapter is a generic REST broker adapter, with the signature
// scheme and headers supplied by RESTOptions instead of hardcoded per
// exchange.
type RESTAdapter struct {
	opts RESTOptions
	http *resty.Client
	log  *logger.Entry
}

func NewRESTAdapter(opts RESTOptions, log *logger.Entry) *RESTAdapter {
	if log == nil {
		log = logger.NewEntry(logger.StandardLogger())
	}
	client := resty.New().
		SetBaseURL(opts.BaseURL).
		SetTimeout(15 * time.Second).
		SetRetryCount(1).
		SetRetryWaitTime(250 * time.Millisecond).
		SetRetryMaxWaitTime(1 * time.Second).
		AddRetryCondition(isRetryableResp)

	return &RESTAdapter{opts: opts, http: client, log: log.WithField("adapter", string(opts.BrokerKind))}
}

// isRetryableResp decides the transport retry: 5xx, 429, and 408 are
// worth one transport-level retry;
// everything else (including 4xx business rejections) is final.
func isRetryableResp(r *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	if r == nil {
		return false
	}
	code := r.StatusCode()
	return (code >= 500 && code <= 599) || code == 429 || code == 408
}

func (a *RESTAdapter) Kind() Kind { return a.opts.BrokerKind }

func (a *RESTAdapter) Connect(ctx context.Context, creds Credentials) (Session, error) {
	if a.opts.RequiresTOTP && creds.TOTPCode == "" {
		return Session{}, fmt.Errorf("broker %s: TOTP code required to connect", a.opts.BrokerKind)
	}
	req := a.http.R().SetContext(ctx).
		SetHeader("x-api-key", creds.APIKey)
	resp, err := req.Post("/session/login")
	if err != nil {
		return Session{}, fmt.Errorf("broker %s: connect: %w", a.opts.BrokerKind, err)
	}
	if resp.StatusCode() == 401 {
		return Session{}, ErrSessionExpired
	}
	if resp.StatusCode() >= 400 {
		return Session{}, &RejectionError{Message: string(resp.Body())}
	}

	var payload struct {
		Token     string `json:"token"`
		ExpiresIn int64  `json:"expires_in_seconds"`
	}
	if err := json.Unmarshal(resp.Body(), &payload); err != nil {
		return Session{}, fmt.Errorf("broker %s: decode login response: %w", a.opts.BrokerKind, err)
	}
	return Session{Token: payload.Token, ExpiresAt: time.Now().Add(time.Duration(payload.ExpiresIn) * time.Second)}, nil
}

func (a *RESTAdapter) Refresh(ctx context.Context, session Session) (Session, error) {
	resp, err := a.http.R().SetContext(ctx).SetHeader("Authorization", "Bearer "+session.Token).Post("/session/refresh")
	if err != nil {
		return Session{}, fmt.Errorf("broker %s: refresh: %w", a.opts.BrokerKind, err)
	}
	if resp.StatusCode() == 401 {
		return Session{}, ErrSessionExpired
	}
	session.ExpiresAt = time.Now().Add(30 * time.Minute)
	return session, nil
}

func (a *RESTAdapter) Logout(ctx context.Context, session Session) error {
	_, err := a.http.R().SetContext(ctx).SetHeader("Authorization", "Bearer "+session.Token).Post("/session/logout")
	return err
}

func (a *RESTAdapter) Place(ctx context.Context, session Session, intent OrderIntent) (PlaceResult, error) {
	body := map[string]any{
		"account":   intent.AccountRef,
		"symbol":    intent.Symbol,
		"side":      intent.Side,
		"quantity":  intent.Quantity,
		"orderType": intent.OrderType,
		"clientTag": intent.ClientTag,
	}
	if intent.Price != nil {
		body["price"] = *intent.Price
	}

	resp, err := a.authed(session).SetContext(ctx).SetBody(body).Post("/orders")
	if err != nil {
		return PlaceResult{}, fmt.Errorf("broker %s: place: %w", a.opts.BrokerKind, err)
	}
	if resp.StatusCode() == 401 {
		return PlaceResult{}, ErrSessionExpired
	}
	if resp.StatusCode() >= 400 {
		return PlaceResult{Status: model.LegRejected}, &RejectionError{Message: string(resp.Body())}
	}

	var payload struct {
		OrderID string  `json:"order_id"`
		Status  string  `json:"status"`
		Fill    *float64 `json:"fill_price,omitempty"`
	}
	if err := json.Unmarshal(resp.Body(), &payload); err != nil {
		return PlaceResult{}, fmt.Errorf("broker %s: decode place response: %w", a.opts.BrokerKind, err)
	}

	status := model.LegAccepted
	if payload.Status == "filled" {
		status = model.LegFilled
	}
	return PlaceResult{BrokerOrderID: payload.OrderID, Status: status, FillPrice: payload.Fill}, nil
}

func (a *RESTAdapter) Modify(ctx context.Context, session Session, brokerOrderID string, patch OrderPatch) error {
	_, err := a.authed(session).SetContext(ctx).SetBody(patch).Put("/orders/" + brokerOrderID)
	return err
}

func (a *RESTAdapter) Cancel(ctx context.Context, session Session, brokerOrderID string) error {
	_, err := a.authed(session).SetContext(ctx).Delete("/orders/" + brokerOrderID)
	return err
}

func (a *RESTAdapter) Positions(ctx context.Context, session Session) ([]PositionSnapshot, error) {
	resp, err := a.authed(session).SetContext(ctx).Get("/positions")
	if err != nil {
		return nil, err
	}
	var out []PositionSnapshot
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, fmt.Errorf("broker %s: decode positions: %w", a.opts.BrokerKind, err)
	}
	return out, nil
}

func (a *RESTAdapter) Holdings(ctx context.Context, session Session) ([]HoldingSnapshot, error) {
	resp, err := a.authed(session).SetContext(ctx).Get("/holdings")
	if err != nil {
		return nil, err
	}
	var out []HoldingSnapshot
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, fmt.Errorf("broker %s: decode holdings: %w", a.opts.BrokerKind, err)
	}
	return out, nil
}

func (a *RESTAdapter) Margin(ctx context.Context, session Session) (MarginSnapshot, error) {
	resp, err := a.authed(session).SetContext(ctx).Get("/margin")
	if err != nil {
		return MarginSnapshot{}, err
	}
	var out MarginSnapshot
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return MarginSnapshot{}, fmt.Errorf("broker %s: decode margin: %w", a.opts.BrokerKind, err)
	}
	return out, nil
}

func (a *RESTAdapter) authed(session Session) *resty.Request {
	return a.http.R().SetHeader("Authorization", "Bearer "+session.Token)
}
