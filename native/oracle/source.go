package oracle

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Quote is a single price observation: ETH value (wad) of one whole token
// (1e18 base units) plus the timestamp reported by the upstream source.
type Quote struct {
	Price     *big.Int
	Timestamp uint64
}

// Clone returns a defensive copy so callers cannot mutate shared state.
func (q Quote) Clone() Quote {
	clone := Quote{Timestamp: q.Timestamp}
	if q.Price != nil {
		clone.Price = new(big.Int).Set(q.Price)
	}
	return clone
}

// Source resolves the ETH-denominated price of an asset. Implementations must
// be safe for concurrent use.
type Source interface {
	Name() string
	Quote(asset common.Address) (Quote, error)
}

// ErrNoQuote indicates a source holds no observation for the asset.
var ErrNoQuote = errors.New("oracle: no quote available")

// FixedSource is an in-memory source used for tests and manual overrides
// during incident response. Quotes never go stale: the timestamp is stamped
// with the clock supplied at query time by the registry.
type FixedSource struct {
	mu     sync.RWMutex
	name   string
	prices map[common.Address]*big.Int
	now    func() uint64
}

func NewFixedSource(name string, now func() uint64) *FixedSource {
	return &FixedSource{
		name:   strings.ToLower(strings.TrimSpace(name)),
		prices: make(map[common.Address]*big.Int),
		now:    now,
	}
}

func (s *FixedSource) Name() string { return s.name }

// Set stores the wad ETH price for one whole token of the asset.
func (s *FixedSource) Set(asset common.Address, price *big.Int) {
	if s == nil || price == nil {
		return
	}
	s.mu.Lock()
	s.prices[asset] = new(big.Int).Set(price)
	s.mu.Unlock()
}

func (s *FixedSource) Quote(asset common.Address) (Quote, error) {
	if s == nil {
		return Quote{}, fmt.Errorf("oracle: fixed source not configured")
	}
	s.mu.RLock()
	price, ok := s.prices[asset]
	s.mu.RUnlock()
	if !ok {
		return Quote{}, ErrNoQuote
	}
	ts := uint64(0)
	if s.now != nil {
		ts = s.now()
	}
	return Quote{Price: new(big.Int).Set(price), Timestamp: ts}, nil
}

// FeedSource holds quotes pushed by an off-protocol reporter. Unlike
// FixedSource the pushed timestamp is preserved so the registry can enforce
// the staleness window against it.
type FeedSource struct {
	mu     sync.RWMutex
	name   string
	quotes map[common.Address]Quote
}

func NewFeedSource(name string) *FeedSource {
	return &FeedSource{
		name:   strings.ToLower(strings.TrimSpace(name)),
		quotes: make(map[common.Address]Quote),
	}
}

func (s *FeedSource) Name() string { return s.name }

// Push records an observation for the asset.
func (s *FeedSource) Push(asset common.Address, price *big.Int, timestamp uint64) error {
	if s == nil {
		return fmt.Errorf("oracle: feed source not configured")
	}
	if price == nil || price.Sign() <= 0 {
		return fmt.Errorf("oracle: feed price must be positive")
	}
	s.mu.Lock()
	s.quotes[asset] = Quote{Price: new(big.Int).Set(price), Timestamp: timestamp}
	s.mu.Unlock()
	return nil
}

func (s *FeedSource) Quote(asset common.Address) (Quote, error) {
	if s == nil {
		return Quote{}, fmt.Errorf("oracle: feed source not configured")
	}
	s.mu.RLock()
	quote, ok := s.quotes[asset]
	s.mu.RUnlock()
	if !ok {
		return Quote{}, ErrNoQuote
	}
	return quote.Clone(), nil
}

// HTTPDoer abstracts http.Client for ease of testing.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPSource fetches quotes from a JSON price endpoint. The endpoint is
// queried as GET <endpoint>?asset=<hex address> and must answer with
// {"price":"<decimal wad>","timestamp":<unix seconds>}.
type HTTPSource struct {
	name     string
	client   HTTPDoer
	endpoint string
	apiKey   string
}

func NewHTTPSource(name string, client HTTPDoer, endpoint, apiKey string) *HTTPSource {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPSource{
		name:     strings.ToLower(strings.TrimSpace(name)),
		client:   client,
		endpoint: strings.TrimSpace(endpoint),
		apiKey:   strings.TrimSpace(apiKey),
	}
}

func (s *HTTPSource) Name() string { return s.name }

func (s *HTTPSource) Quote(asset common.Address) (Quote, error) {
	if s == nil || s.endpoint == "" {
		return Quote{}, fmt.Errorf("oracle: http source not configured")
	}
	req, err := http.NewRequest(http.MethodGet, s.endpoint, nil)
	if err != nil {
		return Quote{}, err
	}
	values := url.Values{}
	values.Set("asset", strings.ToLower(asset.Hex()))
	req.URL.RawQuery = values.Encode()
	if s.apiKey != "" {
		req.Header.Set("x-api-key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return Quote{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Quote{}, fmt.Errorf("oracle: %s status %d: %s", s.name, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var payload struct {
		Price     string `json:"price"`
		Timestamp uint64 `json:"timestamp"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Quote{}, fmt.Errorf("oracle: %s decode: %w", s.name, err)
	}
	price, ok := new(big.Int).SetString(strings.TrimSpace(payload.Price), 10)
	if !ok || price.Sign() <= 0 {
		return Quote{}, fmt.Errorf("oracle: %s invalid price %q", s.name, payload.Price)
	}
	return Quote{Price: price, Timestamp: payload.Timestamp}, nil
}
