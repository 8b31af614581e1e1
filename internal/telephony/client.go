// Package telephony adapts the carrier's control API and media stream to the
// call engine.
//
// The [Client] places and terminates calls over the carrier's REST interface.
// The [MediaChannel] wraps the bidirectional WebSocket media stream the
// carrier opens against the answer webhook's directive, translating the
// carrier's JSON envelopes to and from raw µ-law frames.
package telephony

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultBaseURL = "https://api.twilio.com"

	// placementTimeout is how long the carrier lets the phone ring before
	// giving up on the placement.
	placementTimeout = 30
)

// Option is a functional option for configuring the Client.
type Option func(*Client)

// WithBaseURL overrides the carrier API base URL, mainly for tests.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSuffix(u, "/")
	}
}

// WithHTTPClient overrides the HTTP client used for control requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// Client issues control-plane requests (place call, hang up) against the
// carrier's REST API. It is safe for concurrent use.
type Client struct {
	accountSID string
	authToken  string
	fromNumber string
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a telephony Client. All three credentials are required.
func NewClient(accountSID, authToken, fromNumber string, opts ...Option) (*Client, error) {
	if accountSID == "" {
		return nil, fmt.Errorf("telephony: accountSID must not be empty")
	}
	if authToken == "" {
		return nil, fmt.Errorf("telephony: authToken must not be empty")
	}
	if fromNumber == "" {
		return nil, fmt.Errorf("telephony: fromNumber must not be empty")
	}
	c := &Client{
		accountSID: accountSID,
		authToken:  authToken,
		fromNumber: fromNumber,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// PlaceCallParams carries everything needed to dial a prospect.
type PlaceCallParams struct {
	// To is the prospect's phone number in E.164 form.
	To string

	// AnswerURL is hit by the carrier when the call is answered; it must
	// return the media-stream directive.
	AnswerURL string

	// StatusURL receives call lifecycle status callbacks.
	StatusURL string

	// AMDURL receives the asynchronous answering-machine-detection result.
	AMDURL string
}

// callResource is the subset of the carrier's call resource we read back.
type callResource struct {
	SID     string `json:"sid"`
	Status  string `json:"status"`
	Message string `json:"message"` // set on error responses
	Code    int    `json:"code"`
}

// PlaceCall dials an outbound call and returns the carrier-assigned call
// handle (SID). Answering-machine detection runs asynchronously so the call
// connects without waiting for the verdict.
func (c *Client) PlaceCall(ctx context.Context, p PlaceCallParams) (string, error) {
	if p.To == "" {
		return "", fmt.Errorf("telephony: place call: target number must not be empty")
	}

	form := url.Values{
		"To":             {p.To},
		"From":           {c.fromNumber},
		"Url":            {p.AnswerURL},
		"StatusCallback": {p.StatusURL},
		"StatusCallbackEvent": {
			"initiated", "ringing", "answered", "completed",
		},
		"Timeout":          {strconv.Itoa(placementTimeout)},
		"MachineDetection": {"Enable"},
		"AsyncAmd":         {"true"},
	}
	if p.AMDURL != "" {
		form.Set("AsyncAmdStatusCallback", p.AMDURL)
	}

	res, err := c.postForm(ctx, c.callsURL(), form)
	if err != nil {
		return "", fmt.Errorf("telephony: place call: %w", err)
	}
	return res.SID, nil
}

// Hangup terminates an in-progress call by forcing its status to completed.
func (c *Client) Hangup(ctx context.Context, callSID string) error {
	if callSID == "" {
		return fmt.Errorf("telephony: hangup: callSID must not be empty")
	}
	form := url.Values{"Status": {"completed"}}
	if _, err := c.postForm(ctx, c.callURL(callSID), form); err != nil {
		return fmt.Errorf("telephony: hangup %s: %w", callSID, err)
	}
	return nil
}

// callsURL is the collection endpoint for placing calls.
func (c *Client) callsURL() string {
	return fmt.Sprintf("%s/2010-04-01/Accounts/%s/Calls.json", c.baseURL, c.accountSID)
}

// callURL is the instance endpoint for an existing call.
func (c *Client) callURL(callSID string) string {
	return fmt.Sprintf("%s/2010-04-01/Accounts/%s/Calls/%s.json", c.baseURL, c.accountSID, callSID)
}

// postForm issues an authenticated form POST and decodes the call resource.
func (c *Client) postForm(ctx context.Context, endpoint string, form url.Values) (*callResource, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.SetBasicAuth(c.accountSID, c.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var res callResource
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := res.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, fmt.Errorf("carrier returned %d: %s", resp.StatusCode, msg)
	}
	return &res, nil
}
