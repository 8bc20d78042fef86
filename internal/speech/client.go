package speech

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/auralabs/aura-core/internal/config"
	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	DefaultEndpoint   = "https://speech.googleapis.com"
	DefaultAPIVersion = "v1beta1"

	syncRecognizeMethod = "syncrecognize"
)

// Client issues synchronous recognition requests against the speech API.
type Client struct {
	httpClient  *http.Client
	endpoint    string
	apiVersion  string
	apiKey      string
	bearerToken string
	timeout     time.Duration
	cacheSize   int
	cache       *lru.Cache[string, []Alternative]
	log         *slog.Logger
}

type Option func(*Client)

// WithHTTPClient overrides the transport, mainly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithEndpoint points the client at a non-default API host.
func WithEndpoint(endpoint string) Option {
	return func(c *Client) { c.endpoint = endpoint }
}

func WithAPIVersion(version string) Option {
	return func(c *Client) { c.apiVersion = version }
}

// WithAPIKey authenticates requests via the key query parameter.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithBearerToken authenticates requests via the Authorization header.
func WithBearerToken(token string) Option {
	return func(c *Client) { c.bearerToken = token }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithCache enables an in-memory LRU of recognition results keyed by
// request digest. Size 0 disables caching.
func WithCache(size int) Option {
	return func(c *Client) { c.cacheSize = size }
}

func WithLogger(log *slog.Logger) Option {
	return func(c *Client) { c.log = log }
}

func NewClient(opts ...Option) (*Client, error) {
	c := &Client{
		httpClient: http.DefaultClient,
		endpoint:   DefaultEndpoint,
		apiVersion: DefaultAPIVersion,
		timeout:    30 * time.Second,
		log:        slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.endpoint == "" {
		return nil, fmt.Errorf("speech: endpoint must not be empty")
	}
	if c.apiVersion == "" {
		return nil, fmt.Errorf("speech: api version must not be empty")
	}
	if c.cacheSize > 0 {
		cache, err := lru.New[string, []Alternative](c.cacheSize)
		if err != nil {
			return nil, fmt.Errorf("speech: create result cache: %w", err)
		}
		c.cache = cache
	}
	return c, nil
}

// FromConfig builds a client from the gateway cloud section.
func FromConfig(cfg config.CloudConfig, log *slog.Logger) (*Client, error) {
	return NewClient(
		WithEndpoint(cfg.Endpoint),
		WithAPIVersion(cfg.APIVersion),
		WithAPIKey(cfg.APIKey),
		WithBearerToken(cfg.BearerToken),
		WithTimeout(time.Duration(cfg.TimeoutMS)*time.Millisecond),
		WithCache(cfg.CacheSize),
		WithLogger(log),
	)
}

// APIURL builds the method URL: {endpoint}/{version}/speech:{method}.
func (c *Client) APIURL(method string) string {
	return fmt.Sprintf("%s/%s/speech:%s", c.endpoint, c.apiVersion, method)
}

// Recognize performs synchronous speech recognition and returns the
// alternatives of the single result the service is contracted to send.
// Zero results or more than one result is an error.
func (c *Client) Recognize(ctx context.Context, cfg RecognitionConfig, audio Audio) ([]Alternative, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := audio.Validate(); err != nil {
		return nil, err
	}

	body, err := EncodeRequestBody(cfg, audio)
	if err != nil {
		return nil, fmt.Errorf("speech: encode request: %w", err)
	}

	key := requestDigest(body)
	if c.cache != nil {
		if alts, ok := c.cache.Get(key); ok {
			return append([]Alternative(nil), alts...), nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.requestURL(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("speech: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.bearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("speech: syncrecognize request: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("speech: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, decodeAPIError(resp.StatusCode, payload)
	}

	var parsed RecognizeResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return nil, fmt.Errorf("speech: decode response: %w", err)
	}
	if len(parsed.Results) != 1 {
		return nil, fmt.Errorf("%w: got %d", ErrResultCount, len(parsed.Results))
	}

	alts := parsed.Results[0].Alternatives
	if c.cache != nil {
		c.cache.Add(key, append([]Alternative(nil), alts...))
	}
	c.log.Debug("syncrecognize complete",
		slog.Int("alternatives", len(alts)),
		slog.Duration("latency", time.Since(start)))
	return alts, nil
}

func (c *Client) requestURL() string {
	u := c.APIURL(syncRecognizeMethod)
	if c.apiKey == "" {
		return u
	}
	return u + "?key=" + url.QueryEscape(c.apiKey)
}

func requestDigest(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

func decodeAPIError(status int, payload []byte) error {
	apiErr := &APIError{StatusCode: status}
	var we wireError
	if err := json.Unmarshal(payload, &we); err == nil && we.Error.Message != "" {
		apiErr.Message = we.Error.Message
		apiErr.Status = we.Error.Status
	} else if len(payload) > 0 {
		apiErr.Message = string(payload)
	}
	return apiErr
}
