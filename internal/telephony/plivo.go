package telephony

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const plivoBaseURL = "https://api.plivo.com/v1"

type PlivoConfig struct {
	AuthID    string
	AuthToken string
	BaseURL   string
	Timeout   time.Duration
	// CallsPerSecond paces API requests to the account's CPS limit.
	CallsPerSecond float64
}

// PlivoProvider talks to the Plivo REST API.
type PlivoProvider struct {
	authID    string
	authToken string
	baseURL   string
	client    *http.Client
	limiter   *rate.Limiter
}

func NewPlivoProvider(cfg PlivoConfig) (*PlivoProvider, error) {
	if cfg.AuthID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("%w: plivo auth id and token required", ErrNotConfigured)
	}
	p := &PlivoProvider{
		authID:    cfg.AuthID,
		authToken: cfg.AuthToken,
		baseURL:   strings.TrimSuffix(cfg.BaseURL, "/"),
		client:    &http.Client{Timeout: cfg.Timeout},
	}
	if p.baseURL == "" {
		p.baseURL = plivoBaseURL
	}
	if cfg.Timeout <= 0 {
		p.client.Timeout = 30 * time.Second
	}
	cps := cfg.CallsPerSecond
	if cps <= 0 {
		cps = 2
	}
	p.limiter = rate.NewLimiter(rate.Limit(cps), 1)
	return p, nil
}

func (p *PlivoProvider) Name() string { return "plivo" }

type plivoCallRequest struct {
	From         string `json:"from"`
	To           string `json:"to"`
	AnswerURL    string `json:"answer_url"`
	AnswerMethod string `json:"answer_method"`
	HangupURL    string `json:"hangup_url,omitempty"`
	HangupMethod string `json:"hangup_method,omitempty"`
}

type plivoCallResponse struct {
	Message     string `json:"message"`
	RequestUUID string `json:"request_uuid"`
	APIID       string `json:"api_id"`
	Error       string `json:"error"`
}

func (p *PlivoProvider) Dial(ctx context.Context, req DialRequest) (DialResult, error) {
	body := plivoCallRequest{
		From:         req.From,
		To:           req.To,
		AnswerURL:    req.AnswerURL,
		AnswerMethod: http.MethodPost,
		HangupURL:    req.HangupURL,
	}
	if body.HangupURL != "" {
		body.HangupMethod = http.MethodPost
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return DialResult{}, err
	}

	var out plivoCallResponse
	if err := p.do(ctx, http.MethodPost, p.accountURL("Call/"), payload, &out); err != nil {
		return DialResult{}, err
	}
	if out.RequestUUID == "" {
		return DialResult{}, fmt.Errorf("telephony: plivo response missing request_uuid")
	}
	return DialResult{ProviderCallID: out.RequestUUID}, nil
}

func (p *PlivoProvider) Hangup(ctx context.Context, providerCallID string) error {
	if providerCallID == "" {
		return fmt.Errorf("telephony: plivo hangup: empty call id")
	}
	return p.do(ctx, http.MethodDelete, p.accountURL("Call/"+url.PathEscape(providerCallID)+"/"), nil, nil)
}

func (p *PlivoProvider) AnswerXML(req AnswerRequest) (string, error) {
	return RenderPlivoAnswer(req)
}

// ParseCallback reads Plivo's form-encoded answer and hangup callbacks.
func (p *PlivoProvider) ParseCallback(r *http.Request) (CallbackEvent, error) {
	if err := r.ParseForm(); err != nil {
		return CallbackEvent{}, err
	}
	return CallbackEvent{
		ProviderCallID: strings.TrimSpace(r.PostFormValue("CallUUID")),
		Status:         strings.TrimSpace(r.PostFormValue("CallStatus")),
		Cause:          strings.TrimSpace(r.PostFormValue("HangupCause")),
		Source:         strings.TrimSpace(r.PostFormValue("HangupSource")),
	}, nil
}

func (p *PlivoProvider) accountURL(path string) string {
	return p.baseURL + "/Account/" + url.PathEscape(p.authID) + "/" + path
}

func (p *PlivoProvider) do(ctx context.Context, method, u string, payload []byte, out any) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	req.SetBasicAuth(p.authID, p.authToken)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("telephony: plivo %s: %w", method, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("telephony: plivo read: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("telephony: plivo status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("telephony: plivo decode: %w", err)
	}
	return nil
}
