package oracle

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"nusd/crypto"
)

type feedFunc func() (Quote, error)

func (f feedFunc) Latest() (Quote, error) { return f() }

func testAsset(t *testing.T, fill byte) crypto.Address {
	t.Helper()
	raw := make([]byte, crypto.AddressLength)
	for i := range raw {
		raw[i] = fill
	}
	return crypto.NewAddress(raw)
}

func fixedQuote(answer int64, decimals uint8, at time.Time) Quote {
	return Quote{Answer: big.NewInt(answer), Decimals: decimals, UpdatedAt: at, Source: "test"}
}

func TestManualFeedRoundTrip(t *testing.T) {
	feed := NewManualFeed()
	if _, err := feed.Latest(); err == nil {
		t.Fatalf("expected error before first observation")
	}
	now := time.Now().UTC()
	feed.Set(big.NewInt(200_000_000_000), 8, now)
	quote, err := feed.Latest()
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if quote.Answer.Cmp(big.NewInt(200_000_000_000)) != 0 {
		t.Fatalf("unexpected answer: %v", quote.Answer)
	}
	if quote.Decimals != 8 || !quote.UpdatedAt.Equal(now) || quote.Source != "manual" {
		t.Fatalf("unexpected quote metadata: %+v", quote)
	}
	quote.Answer.SetInt64(1)
	again, err := feed.Latest()
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if again.Answer.Cmp(big.NewInt(200_000_000_000)) != 0 {
		t.Fatalf("stored quote mutated through returned copy: %v", again.Answer)
	}
}

func TestManualFeedSetDecimal(t *testing.T) {
	feed := NewManualFeed()
	now := time.Now().UTC()
	if err := feed.SetDecimal("2000.50", 8, now); err != nil {
		t.Fatalf("set decimal: %v", err)
	}
	quote, err := feed.Latest()
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if quote.Answer.Cmp(big.NewInt(200_050_000_000)) != 0 {
		t.Fatalf("unexpected answer: %v", quote.Answer)
	}
	if err := feed.SetDecimal("-1", 8, now); err == nil {
		t.Fatalf("expected rejection of negative price")
	}
	if err := feed.SetDecimal("nonsense", 8, now); err == nil {
		t.Fatalf("expected rejection of malformed price")
	}
}

func TestAdapterConstructionValidation(t *testing.T) {
	asset := testAsset(t, 0x01)
	feed := NewManualFeed()
	if _, err := NewAdapter([]crypto.Address{asset}, nil, 0); err == nil {
		t.Fatalf("expected length mismatch error")
	}
	if _, err := NewAdapter([]crypto.Address{crypto.ZeroAddress}, []Feed{feed}, 0); err == nil {
		t.Fatalf("expected zero address error")
	}
	if _, err := NewAdapter([]crypto.Address{asset}, []Feed{nil}, 0); err == nil {
		t.Fatalf("expected nil feed error")
	}
	if _, err := NewAdapter([]crypto.Address{asset, asset}, []Feed{feed, feed}, 0); err == nil {
		t.Fatalf("expected duplicate asset error")
	}
	adapter, err := NewAdapter([]crypto.Address{asset}, []Feed{feed}, time.Hour)
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	if adapter.MaxQuoteAge() != time.Hour {
		t.Fatalf("unexpected freshness window: %v", adapter.MaxQuoteAge())
	}
	assets := adapter.Assets()
	if len(assets) != 1 || assets[0] != asset {
		t.Fatalf("unexpected asset registry: %v", assets)
	}
}

func TestAdapterQuoteValidation(t *testing.T) {
	asset := testAsset(t, 0x02)
	other := testAsset(t, 0x03)
	now := time.Now().UTC()
	feed := NewManualFeed()
	adapter, err := NewAdapter([]crypto.Address{asset}, []Feed{feed}, time.Hour)
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	adapter.nowFunc = func() time.Time { return now }

	if _, err := adapter.Quote(other); !errors.Is(err, ErrFeedNotFound) {
		t.Fatalf("expected ErrFeedNotFound, got %v", err)
	}
	feed.Set(big.NewInt(0), 8, now)
	if _, err := adapter.Quote(asset); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("expected ErrInvalidPrice for zero answer, got %v", err)
	}
	feed.Set(big.NewInt(-5), 8, now)
	if _, err := adapter.Quote(asset); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("expected ErrInvalidPrice for negative answer, got %v", err)
	}
	feed.Set(big.NewInt(100_000_000), 8, now.Add(-2*time.Hour))
	if _, err := adapter.Quote(asset); !errors.Is(err, ErrStaleQuote) {
		t.Fatalf("expected ErrStaleQuote, got %v", err)
	}
	feed.Set(big.NewInt(100_000_000), 8, now.Add(-30*time.Minute))
	quote, err := adapter.Quote(asset)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if quote.Answer.Cmp(big.NewInt(100_000_000)) != 0 {
		t.Fatalf("unexpected answer: %v", quote.Answer)
	}
}

func TestAdapterDisabledFreshnessWindow(t *testing.T) {
	asset := testAsset(t, 0x04)
	feed := NewManualFeed()
	adapter, err := NewAdapter([]crypto.Address{asset}, []Feed{feed}, 0)
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	feed.Set(big.NewInt(100_000_000), 8, time.Now().Add(-365*24*time.Hour))
	if _, err := adapter.Quote(asset); err != nil {
		t.Fatalf("expected ancient quote accepted with window disabled: %v", err)
	}
}

func TestAdapterNormalizesDecimals(t *testing.T) {
	asset := testAsset(t, 0x05)
	now := time.Now().UTC()
	feed := NewManualFeed()
	adapter, err := NewAdapter([]crypto.Address{asset}, []Feed{feed}, 0)
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}

	// $2000 reported with 8 feed decimals; 2 whole tokens.
	feed.Set(big.NewInt(200_000_000_000), 8, now)
	amount, _ := new(big.Int).SetString("2000000000000000000", 10)
	value, err := adapter.ValueUSD(asset, amount)
	if err != nil {
		t.Fatalf("value usd: %v", err)
	}
	want, _ := new(big.Int).SetString("4000000000000000000000", 10)
	if value.Cmp(want) != 0 {
		t.Fatalf("unexpected value: got %v want %v", value, want)
	}

	// Same price reported with 18 feed decimals must agree.
	price18, _ := new(big.Int).SetString("2000000000000000000000", 10)
	feed.Set(price18, 18, now)
	value, err = adapter.ValueUSD(asset, amount)
	if err != nil {
		t.Fatalf("value usd: %v", err)
	}
	if value.Cmp(want) != 0 {
		t.Fatalf("18-decimal feed disagrees: got %v want %v", value, want)
	}

	// Feeds beyond 18 decimals are floored on normalisation.
	feed.Set(big.NewInt(199), 20, now)
	oneToken, _ := new(big.Int).SetString("1000000000000000000", 10)
	value, err = adapter.ValueUSD(asset, oneToken)
	if err != nil {
		t.Fatalf("value usd: %v", err)
	}
	if value.Cmp(big.NewInt(1)) != 0 {
		t.Fatalf("expected floored value 1, got %v", value)
	}
	feed.Set(big.NewInt(99), 20, now)
	if _, err := adapter.ValueUSD(asset, oneToken); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("expected ErrInvalidPrice when normalisation floors to zero, got %v", err)
	}
}

func TestAdapterRoundsDownBothWays(t *testing.T) {
	asset := testAsset(t, 0x06)
	now := time.Now().UTC()
	feed := NewManualFeed()
	adapter, err := NewAdapter([]crypto.Address{asset}, []Feed{feed}, 0)
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}

	// $0.50 price: 3 base units are worth 1.5 USD units, floored to 1.
	feed.Set(big.NewInt(50_000_000), 8, now)
	value, err := adapter.ValueUSD(asset, big.NewInt(3))
	if err != nil {
		t.Fatalf("value usd: %v", err)
	}
	if value.Cmp(big.NewInt(1)) != 0 {
		t.Fatalf("expected floored value 1, got %v", value)
	}

	// $3 price: 1 USD unit buys 0.33 base units, floored to 0.
	feed.Set(big.NewInt(300_000_000), 8, now)
	amount, err := adapter.AmountFromUSD(asset, big.NewInt(1))
	if err != nil {
		t.Fatalf("amount from usd: %v", err)
	}
	if amount.Sign() != 0 {
		t.Fatalf("expected floored amount 0, got %v", amount)
	}

	// $2000 price: $110 claims exactly 0.055 tokens.
	feed.Set(big.NewInt(200_000_000_000), 8, now)
	usd, _ := new(big.Int).SetString("110000000000000000000", 10)
	amount, err = adapter.AmountFromUSD(asset, usd)
	if err != nil {
		t.Fatalf("amount from usd: %v", err)
	}
	wantAmount, _ := new(big.Int).SetString("55000000000000000", 10)
	if amount.Cmp(wantAmount) != 0 {
		t.Fatalf("unexpected amount: got %v want %v", amount, wantAmount)
	}
}

func TestAdapterZeroAmountShortCircuits(t *testing.T) {
	asset := testAsset(t, 0x07)
	feed := NewManualFeed()
	adapter, err := NewAdapter([]crypto.Address{asset}, []Feed{feed}, 0)
	if err != nil {
		t.Fatalf("new adapter: %v", err)
	}
	// No observation stored: zero conversions still succeed.
	value, err := adapter.ValueUSD(asset, big.NewInt(0))
	if err != nil || value.Sign() != 0 {
		t.Fatalf("expected zero value, got %v (%v)", value, err)
	}
	amount, err := adapter.AmountFromUSD(asset, nil)
	if err != nil || amount.Sign() != 0 {
		t.Fatalf("expected zero amount, got %v (%v)", amount, err)
	}
}

func TestHTTPFeed(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"price":     "200000000000",
			"decimals":  8,
			"timestamp": now.Unix(),
		})
	}))
	defer server.Close()
	feed := NewHTTPFeed(server.Client(), server.URL, "vendor")
	quote, err := feed.Latest()
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if quote.Answer.Cmp(big.NewInt(200_000_000_000)) != 0 {
		t.Fatalf("unexpected answer: %v", quote.Answer)
	}
	if quote.Decimals != 8 || !quote.UpdatedAt.Equal(now) || quote.Source != "vendor" {
		t.Fatalf("unexpected quote metadata: %+v", quote)
	}
}

func TestHTTPFeedRejectsBadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	}))
	defer server.Close()
	feed := NewHTTPFeed(server.Client(), server.URL, "vendor")
	if _, err := feed.Latest(); err == nil {
		t.Fatalf("expected error for non-200 status")
	}
}

func TestAggregatorPriorityFallback(t *testing.T) {
	now := time.Now().UTC()
	manual := NewManualFeed()
	manual.Set(big.NewInt(125_000_000), 8, now)
	agg := NewAggregator([]Feed{
		feedFunc(func() (Quote, error) { return Quote{}, fmt.Errorf("primary down") }),
		manual,
	}, 5*time.Minute)
	agg.nowFunc = func() time.Time { return now }
	quote, err := agg.Latest()
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if quote.Source != "manual" {
		t.Fatalf("expected manual source, got %s", quote.Source)
	}
}

func TestAggregatorSkipsStaleAndInvalid(t *testing.T) {
	now := time.Now().UTC()
	stale := NewManualFeed()
	stale.Set(big.NewInt(100_000_000), 8, now.Add(-time.Hour))
	invalid := feedFunc(func() (Quote, error) {
		return fixedQuote(-1, 8, now), nil
	})
	fresh := NewManualFeed()
	fresh.Set(big.NewInt(100_000_000), 8, now)
	agg := NewAggregator([]Feed{stale, invalid, fresh}, 5*time.Minute)
	agg.nowFunc = func() time.Time { return now }
	quote, err := agg.Latest()
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if quote.Answer.Cmp(big.NewInt(100_000_000)) != 0 || !quote.UpdatedAt.Equal(now) {
		t.Fatalf("unexpected quote: %+v", quote)
	}

	empty := NewAggregator([]Feed{stale}, 5*time.Minute)
	empty.nowFunc = func() time.Time { return now }
	if _, err := empty.Latest(); !errors.Is(err, ErrStaleQuote) {
		t.Fatalf("expected ErrStaleQuote, got %v", err)
	}
}
