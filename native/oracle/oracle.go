package oracle

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"nusd/crypto"
)

// Quote captures a price observation for a collateral asset along with the
// precision the feed reports in and the timestamp the upstream source assigned.
// Quotes are read at call time, used immediately, and never persisted.
type Quote struct {
	Answer    *big.Int
	Decimals  uint8
	UpdatedAt time.Time
	Source    string
}

// Clone returns a deep copy of the quote to prevent accidental mutations.
func (q Quote) Clone() Quote {
	clone := Quote{Decimals: q.Decimals, UpdatedAt: q.UpdatedAt, Source: q.Source}
	if q.Answer != nil {
		clone.Answer = new(big.Int).Set(q.Answer)
	}
	return clone
}

// Feed resolves the latest price observation for the asset it is bound to.
type Feed interface {
	Latest() (Quote, error)
}

var (
	// ErrFeedNotFound indicates that no price feed is registered for the asset.
	ErrFeedNotFound = errors.New("oracle: no feed registered for asset")
	// ErrInvalidPrice indicates the feed reported a nil or non-positive answer.
	ErrInvalidPrice = errors.New("oracle: feed reported non-positive price")
	// ErrStaleQuote indicates the freshest available observation is older than
	// the configured freshness window.
	ErrStaleQuote = errors.New("oracle: quote older than freshness window")
)

// internal fixed-point scale shared with the issuance engine (1e18).
var priceScale = big.NewInt(1_000_000_000_000_000_000)

const internalDecimals = 18

// normalizedPrice rescales the feed answer from the feed's precision to the
// internal 1e18 scale. Feeds reporting more than 18 decimals are floored on
// the way down; an answer that floors to zero is unusable and rejected.
func normalizedPrice(q Quote) (*big.Int, error) {
	if q.Answer == nil || q.Answer.Sign() <= 0 {
		return nil, fmt.Errorf("%w (source %q)", ErrInvalidPrice, q.Source)
	}
	if q.Decimals == internalDecimals {
		return new(big.Int).Set(q.Answer), nil
	}
	if q.Decimals < internalDecimals {
		exp := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(internalDecimals-q.Decimals)), nil)
		return new(big.Int).Mul(q.Answer, exp), nil
	}
	exp := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(q.Decimals-internalDecimals)), nil)
	scaled := new(big.Int).Quo(q.Answer, exp)
	if scaled.Sign() <= 0 {
		return nil, fmt.Errorf("%w (source %q)", ErrInvalidPrice, q.Source)
	}
	return scaled, nil
}

// Adapter binds each supported collateral asset to exactly one price feed and
// performs the precision-normalised conversions the issuance engine depends
// on. The registry is fixed at construction.
type Adapter struct {
	assets  []crypto.Address
	feeds   map[crypto.Address]Feed
	maxAge  time.Duration
	nowFunc func() time.Time
}

// NewAdapter wires the ordered asset list to the feed list. Both slices must
// have equal length and every entry must be non-zero/non-nil.
func NewAdapter(assets []crypto.Address, feeds []Feed, maxAge time.Duration) (*Adapter, error) {
	if len(assets) != len(feeds) {
		return nil, fmt.Errorf("oracle: asset and feed counts differ (%d vs %d)", len(assets), len(feeds))
	}
	registry := make(map[crypto.Address]Feed, len(assets))
	ordered := make([]crypto.Address, 0, len(assets))
	for i, asset := range assets {
		if asset.IsZero() {
			return nil, fmt.Errorf("oracle: zero asset address at index %d", i)
		}
		if feeds[i] == nil {
			return nil, fmt.Errorf("oracle: nil feed for asset %s", asset)
		}
		if _, exists := registry[asset]; exists {
			return nil, fmt.Errorf("oracle: duplicate feed for asset %s", asset)
		}
		registry[asset] = feeds[i]
		ordered = append(ordered, asset)
	}
	return &Adapter{
		assets:  ordered,
		feeds:   registry,
		maxAge:  maxAge,
		nowFunc: time.Now,
	}, nil
}

// MaxQuoteAge reports the configured freshness window. Zero disables the check.
func (a *Adapter) MaxQuoteAge() time.Duration {
	if a == nil {
		return 0
	}
	return a.maxAge
}

// Assets returns the registered collateral assets in construction order.
func (a *Adapter) Assets() []crypto.Address {
	if a == nil {
		return nil
	}
	out := make([]crypto.Address, len(a.assets))
	copy(out, a.assets)
	return out
}

// Quote reads and validates the latest observation for the asset. Non-positive
// answers and observations outside the freshness window are rejected.
func (a *Adapter) Quote(asset crypto.Address) (Quote, error) {
	if a == nil {
		return Quote{}, ErrFeedNotFound
	}
	feed, ok := a.feeds[asset]
	if !ok {
		return Quote{}, fmt.Errorf("%w: %s", ErrFeedNotFound, asset)
	}
	quote, err := feed.Latest()
	if err != nil {
		return Quote{}, err
	}
	if quote.Answer == nil || quote.Answer.Sign() <= 0 {
		return Quote{}, fmt.Errorf("%w (source %q)", ErrInvalidPrice, quote.Source)
	}
	if a.maxAge > 0 {
		cutoff := a.nowFunc().Add(-a.maxAge)
		if quote.UpdatedAt.Before(cutoff) {
			return Quote{}, fmt.Errorf("%w (source %q, observed %s)", ErrStaleQuote, quote.Source, quote.UpdatedAt.UTC().Format(time.RFC3339))
		}
	}
	return quote.Clone(), nil
}

// ValueUSD converts an amount in the asset's native precision into its USD
// value on the internal 1e18 scale. The result rounds down so collateral is
// never overstated.
func (a *Adapter) ValueUSD(asset crypto.Address, amount *big.Int) (*big.Int, error) {
	if amount == nil || amount.Sign() == 0 {
		// A zero amount is worth zero regardless of feed health.
		return big.NewInt(0), nil
	}
	quote, err := a.Quote(asset)
	if err != nil {
		return nil, err
	}
	price, err := normalizedPrice(quote)
	if err != nil {
		return nil, err
	}
	value := new(big.Int).Mul(amount, price)
	return value.Quo(value, priceScale), nil
}

// AmountFromUSD converts a USD value on the internal 1e18 scale into a
// quantity of the asset. The result rounds down so a claim is never
// overstated.
func (a *Adapter) AmountFromUSD(asset crypto.Address, usd *big.Int) (*big.Int, error) {
	if usd == nil || usd.Sign() == 0 {
		return big.NewInt(0), nil
	}
	quote, err := a.Quote(asset)
	if err != nil {
		return nil, err
	}
	price, err := normalizedPrice(quote)
	if err != nil {
		return nil, err
	}
	amount := new(big.Int).Mul(usd, priceScale)
	return amount.Quo(amount, price), nil
}

// --- Feed implementations ---

// ManualFeed provides an in-memory feed used for tests and operator overrides
// during incident response. The stored quote is returned verbatim; validation
// happens in the adapter so tests can exercise rejection paths.
type ManualFeed struct {
	mu    sync.RWMutex
	quote Quote
	set   bool
}

// NewManualFeed constructs an empty manual feed instance.
func NewManualFeed() *ManualFeed {
	return &ManualFeed{}
}

// Set stores the supplied answer with the feed precision and timestamp.
func (m *ManualFeed) Set(answer *big.Int, decimals uint8, ts time.Time) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quote = Quote{Decimals: decimals, UpdatedAt: ts, Source: "manual"}
	if answer != nil {
		m.quote.Answer = new(big.Int).Set(answer)
	}
	m.set = true
}

// SetDecimal parses a decimal price string (e.g. "2000.50") into an answer at
// the supplied feed precision.
func (m *ManualFeed) SetDecimal(price string, decimals uint8, ts time.Time) error {
	if m == nil {
		return fmt.Errorf("oracle: manual feed not configured")
	}
	trimmed := strings.TrimSpace(price)
	if trimmed == "" {
		return fmt.Errorf("oracle: price required")
	}
	rat, ok := new(big.Rat).SetString(trimmed)
	if !ok {
		return fmt.Errorf("oracle: invalid price %q", price)
	}
	if rat.Sign() <= 0 {
		return fmt.Errorf("oracle: price must be positive")
	}
	exp := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	scaled := new(big.Rat).Mul(rat, new(big.Rat).SetInt(exp))
	answer := new(big.Int).Quo(scaled.Num(), scaled.Denom())
	m.Set(answer, decimals, ts)
	return nil
}

// Latest returns the stored quote.
func (m *ManualFeed) Latest() (Quote, error) {
	if m == nil {
		return Quote{}, fmt.Errorf("oracle: manual feed not configured")
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.set {
		return Quote{}, fmt.Errorf("oracle: manual feed has no observation")
	}
	return m.quote.Clone(), nil
}

// HTTPDoer abstracts http.Client for ease of testing.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPFeed polls a JSON price endpoint. The endpoint must respond with
// {"price": "<integer>", "decimals": <uint>, "timestamp": <unix seconds>}.
type HTTPFeed struct {
	client   HTTPDoer
	endpoint string
	source   string
}

// NewHTTPFeed constructs an HTTP feed adapter. When the client is nil
// http.DefaultClient is used.
func NewHTTPFeed(client HTTPDoer, endpoint, source string) *HTTPFeed {
	if client == nil {
		client = http.DefaultClient
	}
	trimmed := strings.TrimSpace(source)
	if trimmed == "" {
		trimmed = "http"
	}
	return &HTTPFeed{client: client, endpoint: strings.TrimSpace(endpoint), source: trimmed}
}

func (f *HTTPFeed) Latest() (Quote, error) {
	if f == nil || f.endpoint == "" {
		return Quote{}, fmt.Errorf("oracle: http feed not configured")
	}
	req, err := http.NewRequest(http.MethodGet, f.endpoint, nil)
	if err != nil {
		return Quote{}, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return Quote{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Quote{}, fmt.Errorf("oracle: http feed status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var payload struct {
		Price     string `json:"price"`
		Decimals  uint8  `json:"decimals"`
		Timestamp int64  `json:"timestamp"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Quote{}, fmt.Errorf("oracle: http feed decode: %w", err)
	}
	answer, ok := new(big.Int).SetString(strings.TrimSpace(payload.Price), 10)
	if !ok {
		return Quote{}, fmt.Errorf("oracle: http feed invalid price %q", payload.Price)
	}
	return Quote{
		Answer:    answer,
		Decimals:  payload.Decimals,
		UpdatedAt: time.Unix(payload.Timestamp, 0),
		Source:    f.source,
	}, nil
}

// Aggregator consults ranked feeds in order and returns the first valid
// observation inside its own freshness window. It satisfies Feed so it can
// stand in wherever a single source would.
type Aggregator struct {
	mu      sync.RWMutex
	ranked  []Feed
	maxAge  time.Duration
	nowFunc func() time.Time
}

// NewAggregator builds an aggregator over the ranked feed list.
func NewAggregator(ranked []Feed, maxAge time.Duration) *Aggregator {
	feeds := make([]Feed, 0, len(ranked))
	for _, f := range ranked {
		if f != nil {
			feeds = append(feeds, f)
		}
	}
	return &Aggregator{ranked: feeds, maxAge: maxAge, nowFunc: time.Now}
}

// Latest returns the first fresh, positive observation in rank order.
func (g *Aggregator) Latest() (Quote, error) {
	if g == nil {
		return Quote{}, ErrFeedNotFound
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	var cutoff time.Time
	if g.maxAge > 0 {
		cutoff = g.nowFunc().Add(-g.maxAge)
	}
	var lastErr error
	for _, feed := range g.ranked {
		quote, err := feed.Latest()
		if err != nil {
			lastErr = err
			continue
		}
		if quote.Answer == nil || quote.Answer.Sign() <= 0 {
			lastErr = fmt.Errorf("%w (source %q)", ErrInvalidPrice, quote.Source)
			continue
		}
		if g.maxAge > 0 && quote.UpdatedAt.Before(cutoff) {
			lastErr = fmt.Errorf("%w (source %q)", ErrStaleQuote, quote.Source)
			continue
		}
		return quote, nil
	}
	if lastErr != nil {
		return Quote{}, lastErr
	}
	return Quote{}, ErrFeedNotFound
}
