package poller

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"nusd/services/oracled/config"
)

const maxFeedResponseBytes = 1 << 20

// Poller fetches prices from configured upstream feeds, applies sanity
// bounds, and pushes accepted answers to the node's operator price endpoint.
type Poller struct {
	client  *http.Client
	nodeURL string
	token   string
	feeds   []config.FeedConfig
	logger  *slog.Logger

	mu   sync.Mutex
	last map[string]float64
}

// New constructs a poller. token authenticates against the node's mutating
// RPC surface.
func New(nodeURL, token string, feeds []config.FeedConfig, logger *slog.Logger) (*Poller, error) {
	nodeURL = strings.TrimSpace(nodeURL)
	if nodeURL == "" {
		return nil, fmt.Errorf("poller: node url required")
	}
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("poller: rpc token required")
	}
	if len(feeds) == 0 {
		return nil, fmt.Errorf("poller: at least one feed required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		client:  &http.Client{Timeout: 10 * time.Second, Transport: otelhttp.NewTransport(http.DefaultTransport)},
		nodeURL: nodeURL,
		token:   token,
		feeds:   feeds,
		logger:  logger,
		last:    make(map[string]float64),
	}, nil
}

// Run polls every configured feed on its own cadence until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, feed := range p.feeds {
		wg.Add(1)
		go func(feed config.FeedConfig) {
			defer wg.Done()
			ticker := time.NewTicker(feed.Interval())
			defer ticker.Stop()
			p.pollOnce(ctx, feed)
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					p.pollOnce(ctx, feed)
				}
			}
		}(feed)
	}
	wg.Wait()
}

func (p *Poller) pollOnce(ctx context.Context, feed config.FeedConfig) {
	price, err := p.fetch(ctx, feed)
	if err != nil {
		p.logger.Warn("feed fetch failed", "symbol", feed.Symbol, "error", err)
		return
	}
	if err := p.check(feed, price); err != nil {
		p.logger.Warn("feed answer rejected", "symbol", feed.Symbol, "price", price, "error", err)
		return
	}
	if err := p.push(ctx, feed, price); err != nil {
		p.logger.Error("price push failed", "symbol", feed.Symbol, "error", err)
		return
	}
	parsed, _ := strconv.ParseFloat(price, 64)
	p.mu.Lock()
	p.last[feed.Asset] = parsed
	p.mu.Unlock()
	p.logger.Info("price published", "symbol", feed.Symbol, "price", price)
}

func (p *Poller) fetch(ctx context.Context, feed config.FeedConfig) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feed.URL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("upstream status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedResponseBytes))
	if err != nil {
		return "", err
	}
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("decode feed response: %w", err)
	}
	raw, ok := payload[feed.PriceField]
	if !ok {
		return "", fmt.Errorf("feed response missing field %q", feed.PriceField)
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return strings.TrimSpace(asString), nil
	}
	var asNumber float64
	if err := json.Unmarshal(raw, &asNumber); err == nil {
		return strconv.FormatFloat(asNumber, 'f', -1, 64), nil
	}
	return "", fmt.Errorf("feed field %q is neither string nor number", feed.PriceField)
}

// check enforces the configured sanity bounds: the answer must be a positive
// decimal, inside the absolute price band, and within the allowed deviation
// from the previously accepted answer.
func (p *Poller) check(feed config.FeedConfig, price string) error {
	value, err := strconv.ParseFloat(price, 64)
	if err != nil {
		return fmt.Errorf("not a decimal: %w", err)
	}
	if value <= 0 || math.IsInf(value, 0) || math.IsNaN(value) {
		return fmt.Errorf("answer %s out of range", price)
	}
	if feed.MinPrice > 0 && value < feed.MinPrice {
		return fmt.Errorf("answer %s below floor %g", price, feed.MinPrice)
	}
	if feed.MaxPrice > 0 && value > feed.MaxPrice {
		return fmt.Errorf("answer %s above ceiling %g", price, feed.MaxPrice)
	}
	if feed.MaxDeviationBPS > 0 {
		p.mu.Lock()
		previous, seen := p.last[feed.Asset]
		p.mu.Unlock()
		if seen && previous > 0 {
			deviation := math.Abs(value-previous) / previous * 10_000
			if deviation > float64(feed.MaxDeviationBPS) {
				return fmt.Errorf("answer %s deviates %.0f bps from %g (limit %d)", price, deviation, previous, feed.MaxDeviationBPS)
			}
		}
	}
	return nil
}

type rpcEnvelope struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      int               `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
}

type rpcResponse struct {
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (p *Poller) push(ctx context.Context, feed config.FeedConfig, price string) error {
	params, err := json.Marshal(map[string]any{
		"asset":    feed.Asset,
		"price":    price,
		"decimals": feed.Decimals,
	})
	if err != nil {
		return err
	}
	body, err := json.Marshal(rpcEnvelope{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "oracle_setPrice",
		Params:  []json.RawMessage{params},
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.nodeURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.token)
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedResponseBytes))
	if err != nil {
		return err
	}
	var decoded rpcResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return fmt.Errorf("decode rpc response: %w", err)
	}
	if decoded.Error != nil {
		return fmt.Errorf("rpc error %d: %s", decoded.Error.Code, decoded.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("rpc status %d", resp.StatusCode)
	}
	return nil
}
