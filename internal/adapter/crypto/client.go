// Package crypto implements the adapter.Venue capability set for a
// generic crypto spot/futures exchange speaking a Binance-shaped REST +
// websocket API: HMAC-SHA256-signed order management over REST, public
// and private data over a websocket stream. Grounded on the teacher
// repo's tradernet adapter (single Venue implementation wrapping a
// transport client) and on the retrieved polymarket-mm example's resty
// REST client (rate limiting, retry-on-5xx, base URL) and gorilla
// websocket feed (ping loop, backoff reconnect, typed dispatch).
package crypto

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/aristath/sentinel/internal/domain"
)

const (
	defaultBaseURL = "https://api.exchange.example"
	requestTimeout = 10 * time.Second
)

// Client is the low-level signed-HTTP client for the exchange's REST API.
// Every private request is HMAC-signed the way the venue requires:
// query-string sorted by key, concatenated, signed with the account
// secret, appended as a "signature" parameter.
type Client struct {
	apiKey    string
	apiSecret string
	http      *resty.Client
	log       zerolog.Logger
}

// NewClient builds a Client with retry-on-5xx and a bounded timeout,
// matching the polymarket-mm example's resty configuration.
func NewClient(apiKey, apiSecret, baseURL string, log zerolog.Logger) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(requestTimeout).
		SetRetryCount(3).
		SetRetryWaitTime(250 * time.Millisecond).
		SetRetryMaxWaitTime(3 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		})
	return &Client{apiKey: apiKey, apiSecret: apiSecret, http: httpClient, log: log.With().Str("component", "crypto_client").Logger()}
}

// SignedGet issues a signed GET against path with params, decoding the
// JSON response into out.
func (c *Client) SignedGet(ctx context.Context, path string, params map[string]string, out interface{}) error {
	return c.signedDo(ctx, http.MethodGet, path, params, out)
}

// SignedPost issues a signed POST against path with params, decoding the
// JSON response into out.
func (c *Client) SignedPost(ctx context.Context, path string, params map[string]string, out interface{}) error {
	return c.signedDo(ctx, http.MethodPost, path, params, out)
}

// SignedDelete issues a signed DELETE against path with params, decoding
// the JSON response into out.
func (c *Client) SignedDelete(ctx context.Context, path string, params map[string]string, out interface{}) error {
	return c.signedDo(ctx, http.MethodDelete, path, params, out)
}

func (c *Client) signedDo(ctx context.Context, method, path string, params map[string]string, out interface{}) error {
	if params == nil {
		params = map[string]string{}
	}
	params["timestamp"] = strconv.FormatInt(time.Now().UnixMilli(), 10)
	query := signedQueryString(params, c.apiSecret)

	req := c.http.R().SetContext(ctx).SetHeader("X-API-KEY", c.apiKey)
	if out != nil {
		req.SetResult(out)
	}

	fullPath := path + "?" + query
	var resp *resty.Response
	var err error
	switch method {
	case http.MethodGet:
		resp, err = req.Get(fullPath)
	case http.MethodPost:
		resp, err = req.Post(fullPath)
	case http.MethodDelete:
		resp, err = req.Delete(fullPath)
	default:
		return fmt.Errorf("crypto: unsupported method %s", method)
	}
	if err != nil {
		return classifyTransportError(path, err)
	}
	if resp.StatusCode() >= 400 {
		return classifyStatusError(path, resp.StatusCode(), resp.String())
	}
	return nil
}

// signedQueryString renders params in sorted-key order (the exchange's
// canonical signing form) and appends an HMAC-SHA256 signature of the
// resulting string keyed by secret.
func signedQueryString(params map[string]string, secret string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	// Deterministic signing order: sort lexically, matching the venue's
	// documented canonicalization.
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	values := url.Values{}
	for _, k := range keys {
		values.Set(k, params[k])
	}
	query := values.Encode()
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(query))
	sig := hex.EncodeToString(mac.Sum(nil))
	return query + "&signature=" + sig
}

func classifyTransportError(op string, err error) error {
	return domain.NewError(domain.ErrNetwork, "crypto."+op, "transport failure", err)
}

func classifyStatusError(op string, status int, body string) error {
	category := domain.ErrVenueDown
	switch {
	case status == http.StatusTooManyRequests:
		category = domain.ErrRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		category = domain.ErrAuth
	case status >= 400 && status < 500:
		category = domain.ErrRejected
	}
	truncated := body
	if len(truncated) > 300 {
		truncated = truncated[:300]
	}
	return domain.NewError(category, "crypto."+op, fmt.Sprintf("venue status %d: %s", status, strings.TrimSpace(truncated)), nil)
}
