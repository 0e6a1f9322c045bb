package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"airdrop-claim/internal/felt"

	"github.com/google/go-querystring/query"
	cache "github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

const (
	pathAllocationAmount = "get_allocation_amount"
	pathCalldata         = "get_calldata"
	pathRoot             = "get_root"

	maxBodySize = 1 << 20
)

var requestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "backend_requests_total",
		Help: "A counter of allocation backend requests by path and outcome",
	},
	[]string{"path", "outcome"},
)

func init() {
	prometheus.MustRegister(requestsTotal)
}

// ClaimCalldata is the amount and Merkle proof needed to claim for one address.
// Address is only set by backends that return it alongside the proof.
type ClaimCalldata struct {
	Amount  string   `json:"amount"`
	Proof   []string `json:"proof"`
	Address string   `json:"address,omitempty"`
}

// queryOptions is rendered into the backend's query string.
type queryOptions struct {
	Address string `url:"address,omitempty"`
	Round   int    `url:"round,omitempty"`
}

// Client reads allocations and claim calldata from the allocation backend.
type Client struct {
	baseURL *url.URL
	round   int
	http    *http.Client
	roots   *cache.Cache
}

// New returns a Client for the backend rooted at baseURL. A round of 0 asks the
// backend for its latest round.
func New(baseURL string, round int, httpClient *http.Client) (*Client, error) {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse backend url: %w", err)
	}
	if round < 0 {
		return nil, fmt.Errorf("round cannot be negative")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		baseURL: parsed,
		round:   round,
		http:    httpClient,
		roots:   cache.New(10*time.Minute, 20*time.Minute),
	}, nil
}

// FetchAllocationAmount returns the total amount address is eligible for.
func (c *Client) FetchAllocationAmount(ctx context.Context, address string) (*big.Int, error) {
	var raw json.RawMessage
	if err := c.get(ctx, pathAllocationAmount, queryOptions{Address: address, Round: c.round}, &raw); err != nil {
		return nil, err
	}
	amount, err := decodeAmount(raw)
	if err != nil {
		return nil, c.invalid(pathAllocationAmount, err)
	}
	return amount, nil
}

// FetchClaimCalldata returns the amount and proof to claim with for address.
func (c *Client) FetchClaimCalldata(ctx context.Context, address string) (*ClaimCalldata, error) {
	var wire struct {
		Amount  json.RawMessage `json:"amount"`
		Proof   []string        `json:"proof"`
		Address string          `json:"address"`
	}
	if err := c.get(ctx, pathCalldata, queryOptions{Address: address, Round: c.round}, &wire); err != nil {
		return nil, err
	}
	amount, err := amountText(wire.Amount)
	if err != nil {
		return nil, c.invalid(pathCalldata, err)
	}
	return &ClaimCalldata{
		Amount:  amount,
		Proof:   wire.Proof,
		Address: wire.Address,
	}, nil
}

// FetchRoot returns the Merkle root of the configured round. Roots of an
// explicit round never change and are served from cache after the first read.
func (c *Client) FetchRoot(ctx context.Context) (string, error) {
	cacheKey := "root_" + strconv.Itoa(c.round)
	if c.round > 0 {
		if root, found := c.roots.Get(cacheKey); found {
			return root.(string), nil
		}
	}

	var root string
	if err := c.get(ctx, pathRoot, queryOptions{Round: c.round}, &root); err != nil {
		return "", err
	}
	if root == "" {
		return "", c.invalid(pathRoot, fmt.Errorf("empty root"))
	}
	root = felt.PadHex(root)

	if c.round > 0 {
		c.roots.Set(cacheKey, root, cache.DefaultExpiration)
	}
	return root, nil
}

func (c *Client) get(ctx context.Context, path string, opts queryOptions, out interface{}) error {
	logger := zerolog.Ctx(ctx)

	qs, err := query.Values(opts)
	if err != nil {
		return fmt.Errorf("failed to generate query string: %w", err)
	}
	resolved := c.baseURL.ResolveReference(&url.URL{Path: path, RawQuery: qs.Encode()})

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resolved.String(), nil)
	if err != nil {
		return &Error{Kind: ErrBackendUnavailable, Path: path, Cause: err}
	}
	req.Header.Set("Accept", "application/json")

	logger.Debug().Str("url", resolved.String()).Msg("backend request")
	resp, err := c.http.Do(req)
	if err != nil {
		requestsTotal.WithLabelValues(path, "unavailable").Inc()
		return &Error{Kind: ErrBackendUnavailable, Path: path, Cause: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		requestsTotal.WithLabelValues(path, "unavailable").Inc()
		return &Error{Kind: ErrBackendUnavailable, Path: path, Status: resp.StatusCode, Cause: err}
	}

	switch {
	case resp.StatusCode >= 500:
		requestsTotal.WithLabelValues(path, "unavailable").Inc()
		return &Error{Kind: ErrBackendUnavailable, Path: path, Status: resp.StatusCode, Message: errorMessage(body)}
	case resp.StatusCode >= 300:
		requestsTotal.WithLabelValues(path, "rejected").Inc()
		return &Error{Kind: ErrBackendResponseInvalid, Path: path, Status: resp.StatusCode, Message: errorMessage(body)}
	}

	if err := json.Unmarshal(body, out); err != nil {
		requestsTotal.WithLabelValues(path, "invalid").Inc()
		return &Error{Kind: ErrBackendResponseInvalid, Path: path, Status: resp.StatusCode, Cause: err}
	}
	requestsTotal.WithLabelValues(path, "ok").Inc()
	return nil
}

func (c *Client) invalid(path string, err error) error {
	requestsTotal.WithLabelValues(path, "invalid").Inc()
	return &Error{Kind: ErrBackendResponseInvalid, Path: path, Cause: err}
}

// errorMessage extracts the backend's error text, which it sends as a JSON string.
func errorMessage(body []byte) string {
	var msg string
	if err := json.Unmarshal(body, &msg); err == nil {
		return msg
	}
	return strings.TrimSpace(string(body[:min(len(body), 512)]))
}

// amountText accepts an amount sent as a JSON string or number. A missing or
// null amount yields "".
func amountText(raw json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	if err := dec.Decode(&n); err != nil {
		return "", fmt.Errorf("amount is neither a string nor a number: %w", err)
	}
	return n.String(), nil
}

func decodeAmount(raw json.RawMessage) (*big.Int, error) {
	text, err := amountText(raw)
	if err != nil {
		return nil, err
	}
	if text == "" {
		return nil, fmt.Errorf("amount is empty")
	}
	return felt.ToBig(text)
}
