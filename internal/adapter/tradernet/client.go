// Package tradernet implements the adapter.Venue capability set for the
// Tradernet/Freedom24 broker: an HTTP command API signed with the venue's
// HMAC handshake, plus a websocket market-status/tick stream. The
// connection is owned by one reader task; callers submit commands through
// a request/response channel so the HTTP side stays single-threaded and
// rate-limited, matching the teacher's SDK client.
package tradernet

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultBaseURL    = "https://freedom24.com"
	requestQueueDepth = 100
	rateLimitDelay    = 1500 * time.Millisecond
	httpTimeout       = 30 * time.Second
)

// requestJob is one unit of work handed to the single worker goroutine.
type requestJob struct {
	cmd    string
	params interface{}
	result chan requestResult
}

type requestResult struct {
	value interface{}
	err   error
}

// Client is the low-level signed-HTTP client for Tradernet's command API.
// All authenticated requests funnel through one worker goroutine so the
// venue's rate limit is respected regardless of caller concurrency.
type Client struct {
	publicKey  string
	privateKey string
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger

	requestQueue chan requestJob
	stopChan     chan struct{}
	workerDone   chan struct{}
	closeOnce    sync.Once
}

// NewClient constructs a Client and starts its single request-processing
// worker. Close must be called to release the worker goroutine.
func NewClient(publicKey, privateKey string, log zerolog.Logger) *Client {
	c := &Client{
		publicKey:    publicKey,
		privateKey:   privateKey,
		baseURL:      defaultBaseURL,
		httpClient:   &http.Client{Timeout: httpTimeout},
		log:          log,
		requestQueue: make(chan requestJob, requestQueueDepth),
		stopChan:     make(chan struct{}),
		workerDone:   make(chan struct{}),
	}
	go c.worker()
	return c
}

// Close gracefully shuts down the rate-limiting worker. Idempotent.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.stopChan)
		close(c.requestQueue)
		<-c.workerDone
	})
}

// worker processes exactly one request at a time, sleeping rateLimitDelay
// between calls so the client never exceeds the venue's rate limit.
func (c *Client) worker() {
	defer close(c.workerDone)
	for job := range c.requestQueue {
		value, err := c.doSigned(job.cmd, job.params)
		job.result <- requestResult{value: value, err: err}
		select {
		case <-c.stopChan:
			return
		case <-time.After(rateLimitDelay):
		}
	}
}

// Call enqueues a signed command and blocks until the worker processes it
// or ctx is cancelled. Returns a queue-full error immediately rather than
// blocking the caller indefinitely if the worker has fallen behind.
func (c *Client) Call(ctx context.Context, cmd string, params interface{}) (interface{}, error) {
	job := requestJob{cmd: cmd, params: params, result: make(chan requestResult, 1)}
	select {
	case c.requestQueue <- job:
	default:
		return nil, fmt.Errorf("tradernet: request queue full, command %s dropped", cmd)
	}
	select {
	case res := <-job.result:
		return res.value, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// doSigned reproduces the venue's authentication handshake: JSON-stringify
// params with no spaces and no key sorting, concatenate with a unix-second
// timestamp, HMAC-SHA256 the result with the private key, and attach the
// signature/timestamp/public-key as headers.
func (c *Client) doSigned(cmd string, params interface{}) (interface{}, error) {
	if c.publicKey == "" || c.privateKey == "" {
		return nil, fmt.Errorf("tradernet: keypair is not valid")
	}

	payload, err := stringify(params)
	if err != nil {
		return nil, fmt.Errorf("tradernet: failed to stringify params: %w", err)
	}

	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	message := payload + timestamp
	signature := sign(c.privateKey, message)

	requestURL := fmt.Sprintf("%s/api/%s", c.baseURL, cmd)
	req, err := http.NewRequest(http.MethodPost, requestURL, bytes.NewReader([]byte(payload)))
	if err != nil {
		return nil, fmt.Errorf("tradernet: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; SentinelAdapter/1.0)")
	req.Header.Set("X-NtApi-PublicKey", c.publicKey)
	req.Header.Set("X-NtApi-Timestamp", timestamp)
	req.Header.Set("X-NtApi-Sig", signature)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tradernet: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("tradernet: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		truncated := body
		if len(truncated) > 500 {
			truncated = truncated[:500]
		}
		return nil, fmt.Errorf("tradernet: venue returned status %d: %s", resp.StatusCode, truncated)
	}

	var raw interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("tradernet: decode response: %w", err)
	}
	return raw, nil
}

// stringify renders params as compact JSON: no spaces, field order as
// declared, matching the byte-for-byte payload the venue expects to verify
// the signature against.
func stringify(params interface{}) (string, error) {
	if params == nil {
		return "{}", nil
	}
	b, err := json.Marshal(params)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// sign computes the venue's request signature: hex-encoded HMAC-SHA256 of
// message keyed by the account's private key.
func sign(privateKey, message string) string {
	mac := hmac.New(sha256.New, []byte(privateKey))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}
