package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const defaultTwilioBaseURL = "https://api.twilio.com"

type TwilioConfig struct {
	AccountSID string
	AuthToken  string

	// BaseURL overrides the REST endpoint (tests, regional edges).
	BaseURL string

	// AnswerURL serves the TwiML that connects an answered call to the agent stream.
	AnswerURL string
	// StatusCallbackURL receives call progress events.
	StatusCallbackURL string

	CountryISO2 string
	Timeout     time.Duration
}

func (c TwilioConfig) withDefaults() TwilioConfig {
	out := c
	if out.BaseURL == "" {
		out.BaseURL = defaultTwilioBaseURL
	}
	out.BaseURL = strings.TrimRight(out.BaseURL, "/")
	if out.CountryISO2 == "" {
		out.CountryISO2 = "US"
	}
	if out.Timeout <= 0 {
		out.Timeout = 10 * time.Second
	}
	return out
}

// TwilioProvider drives outbound calls through the Twilio REST API.
type TwilioProvider struct {
	cfg  TwilioConfig
	http *http.Client
}

func NewTwilioProvider(cfg TwilioConfig, client *http.Client) (*TwilioProvider, error) {
	cfg = cfg.withDefaults()
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, errors.New("telephony: twilio account sid and auth token are required")
	}
	if cfg.AnswerURL == "" || cfg.StatusCallbackURL == "" {
		return nil, errors.New("telephony: twilio answer and status callback urls are required")
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &TwilioProvider{cfg: cfg, http: client}, nil
}

func (p *TwilioProvider) Name() string { return "twilio" }

// TwilioError is the error body returned by the REST API.
type TwilioError struct {
	HTTPStatus int    `json:"status"`
	Code       int    `json:"code"`
	Message    string `json:"message"`
	MoreInfo   string `json:"more_info"`
}

func (e *TwilioError) Error() string {
	return fmt.Sprintf("telephony: twilio %d (code %d): %s", e.HTTPStatus, e.Code, e.Message)
}

func (p *TwilioProvider) accountURL(path string) string {
	return p.cfg.BaseURL + "/2010-04-01/Accounts/" + url.PathEscape(p.cfg.AccountSID) + path
}

func (p *TwilioProvider) do(ctx context.Context, method, endpoint string, form url.Values, out any) error {
	var body io.Reader
	if form != nil && method != http.MethodGet {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	req.SetBasicAuth(p.cfg.AccountSID, p.cfg.AuthToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return fmt.Errorf("telephony: twilio %s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		te := &TwilioError{HTTPStatus: resp.StatusCode}
		if jerr := json.Unmarshal(raw, te); jerr != nil || te.Message == "" {
			te.Message = strings.TrimSpace(string(raw))
		}
		te.HTTPStatus = resp.StatusCode
		return te
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func (p *TwilioProvider) HealthCheck(ctx context.Context) error {
	return p.do(ctx, http.MethodGet, p.accountURL(".json"), nil, nil)
}

// PlaceCall creates an outbound call. Our call id rides on both callback URLs
// so status events can be matched without the provider id.
func (p *TwilioProvider) PlaceCall(ctx context.Context, req PlaceCallRequest) (PlaceCallResult, error) {
	if err := req.Validate(); err != nil {
		return PlaceCallResult{}, err
	}
	form := url.Values{}
	form.Set("To", req.To)
	form.Set("From", req.From)
	form.Set("Url", withQuery(p.cfg.AnswerURL, "call_id", req.CallID))
	form.Set("StatusCallback", withQuery(p.cfg.StatusCallbackURL, "call_id", req.CallID))
	form.Set("StatusCallbackMethod", http.MethodPost)
	for _, ev := range []string{"initiated", "ringing", "answered", "completed"} {
		form.Add("StatusCallbackEvent", ev)
	}

	var out struct {
		Sid string `json:"sid"`
	}
	if err := p.do(ctx, http.MethodPost, p.accountURL("/Calls.json"), form, &out); err != nil {
		return PlaceCallResult{}, err
	}
	if out.Sid == "" {
		return PlaceCallResult{}, errors.New("telephony: twilio returned no call sid")
	}
	return PlaceCallResult{ProviderCallID: out.Sid}, nil
}

func (p *TwilioProvider) Hangup(ctx context.Context, providerCallID string) error {
	if providerCallID == "" {
		return ErrInvalidRequest
	}
	form := url.Values{}
	form.Set("Status", "completed")
	return p.do(ctx, http.MethodPost, p.accountURL("/Calls/"+url.PathEscape(providerCallID)+".json"), form, nil)
}

// Transfer redirects a live call with inline TwiML that dials destination.
func (p *TwilioProvider) Transfer(ctx context.Context, providerCallID, destination string) error {
	if providerCallID == "" || destination == "" {
		return ErrInvalidRequest
	}
	twiml, err := RenderDial(destination)
	if err != nil {
		return err
	}
	form := url.Values{}
	form.Set("Twiml", twiml)
	return p.do(ctx, http.MethodPost, p.accountURL("/Calls/"+url.PathEscape(providerCallID)+".json"), form, nil)
}

// BuyNumbers searches local numbers in the area code and purchases up to Count of them.
// A partial purchase returns the numbers bought together with the error.
func (p *TwilioProvider) BuyNumbers(ctx context.Context, req BuyNumbersRequest) (BuyNumbersResult, error) {
	if req.Count <= 0 {
		return BuyNumbersResult{}, ErrInvalidRequest
	}
	country := req.CountryISO2
	if country == "" {
		country = p.cfg.CountryISO2
	}

	q := url.Values{}
	q.Set("PageSize", strconv.Itoa(req.Count))
	q.Set("VoiceEnabled", "true")
	if req.AreaCode != "" {
		q.Set("AreaCode", req.AreaCode)
	}
	var avail struct {
		Numbers []struct {
			PhoneNumber string `json:"phone_number"`
		} `json:"available_phone_numbers"`
	}
	search := p.accountURL("/AvailablePhoneNumbers/"+url.PathEscape(country)+"/Local.json") + "?" + q.Encode()
	if err := p.do(ctx, http.MethodGet, search, nil, &avail); err != nil {
		return BuyNumbersResult{}, err
	}

	var out BuyNumbersResult
	for _, n := range avail.Numbers {
		if len(out.Numbers) == req.Count {
			break
		}
		form := url.Values{}
		form.Set("PhoneNumber", n.PhoneNumber)
		var bought struct {
			Sid         string `json:"sid"`
			PhoneNumber string `json:"phone_number"`
		}
		if err := p.do(ctx, http.MethodPost, p.accountURL("/IncomingPhoneNumbers.json"), form, &bought); err != nil {
			return out, err
		}
		out.Numbers = append(out.Numbers, PurchasedNumber{Number: bought.PhoneNumber, ProviderNumberID: bought.Sid})
	}
	return out, nil
}

func withQuery(raw, key, value string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}
