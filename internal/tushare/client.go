package tushare

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"datahub/internal/util"
)

// DefaultBaseURL is the public Tushare Pro endpoint.
const DefaultBaseURL = "http://api.tushare.pro"

var (
	// ErrAuth reports a missing or rejected API token. It is fatal for a run.
	ErrAuth = errors.New("tushare: authentication failed")

	// ErrProvider matches every error code returned by the provider.
	ErrProvider = errors.New("tushare: provider error")
)

// APIError is a non-zero result code returned by the provider.
type APIError struct {
	API  string
	Code int
	Msg  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("tushare %s: code %d: %s", e.API, e.Code, e.Msg)
}

// Is matches ErrProvider for any code and ErrAuth for the provider's token
// errors.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrProvider:
		return true
	case ErrAuth:
		return e.Code == -2001 || e.Code == 40101
	}
	return false
}

type request struct {
	APIName string `json:"api_name"`
	Token   string `json:"token"`
	Params  Params `json:"params"`
	Fields  string `json:"fields"`
}

type response struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data *struct {
		Fields []string `json:"fields"`
		Items  [][]any  `json:"items"`
	} `json:"data"`
}

// Client talks to the Tushare Pro HTTP API. Every call waits on a shared
// rate limiter so concurrent gatherers stay inside the account's
// per-minute quota.
type Client struct {
	http    *resty.Client
	baseURL string
	token   string
	limiter *rate.Limiter
	log     *slog.Logger
}

// NewClient creates a Client. An empty token is rejected with ErrAuth.
func NewClient(token, baseURL string, perMinute int, timeout time.Duration) (*Client, error) {
	if token == "" {
		return nil, fmt.Errorf("missing api token: %w", ErrAuth)
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	hc := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:    hc,
		baseURL: baseURL,
		token:   token,
		limiter: util.NewRateLimiter(perMinute),
		log:     slog.Default().With("component", "tushare"),
	}, nil
}

// Query posts one API call and decodes the tabular payload.
func (c *Client) Query(ctx context.Context, api string, params Params) (*Table, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	if params == nil {
		params = Params{}
	}

	start := time.Now()
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(request{APIName: api, Token: c.token, Params: params}).
		Post(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("tushare %s: %w", api, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("tushare %s: http status %d", api, resp.StatusCode())
	}

	t, err := decodeResponse(api, resp.Body())
	if err != nil {
		return nil, err
	}
	c.log.Debug("query done", "api", api, "rows", t.Len(), "elapsed", time.Since(start))
	return t, nil
}

func decodeResponse(api string, body []byte) (*Table, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var out response
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("tushare %s: decoding response: %w", api, err)
	}
	if out.Code != 0 {
		return nil, &APIError{API: api, Code: out.Code, Msg: out.Msg}
	}
	if out.Data == nil {
		return NewTable(nil, nil), nil
	}
	return NewTable(out.Data.Fields, out.Data.Items), nil
}
