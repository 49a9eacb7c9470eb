package modules

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"nusd/core/events"
	"nusd/crypto"
	"nusd/native/oracle"
	"nusd/native/vault"
	"nusd/observability"
)

// OracleModule exposes the manual price-override surface and quote queries.
// Overrides only reach assets backed by a manual feed; assets served by HTTP
// or aggregated feeds reject pushes.
type OracleModule struct {
	engine  *vault.Engine
	manual  map[crypto.Address]*oracle.ManualFeed
	emitter events.Emitter

	nowFunc func() time.Time
}

// NewOracleModule wires the module around the engine's oracle view and the
// subset of feeds operators may override.
func NewOracleModule(engine *vault.Engine, manual map[crypto.Address]*oracle.ManualFeed, emitter events.Emitter) *OracleModule {
	feeds := make(map[crypto.Address]*oracle.ManualFeed, len(manual))
	for asset, feed := range manual {
		if feed != nil {
			feeds[asset] = feed
		}
	}
	return &OracleModule{engine: engine, manual: feeds, emitter: emitter, nowFunc: time.Now}
}

type oracleSetPriceParams struct {
	Asset     string `json:"asset"`
	Price     string `json:"price"`
	Decimals  *uint8 `json:"decimals,omitempty"`
	Timestamp *int64 `json:"timestamp,omitempty"`
}

type oracleQuoteParams struct {
	Asset string `json:"asset"`
}

// SetPriceResult acknowledges a manual price override.
type SetPriceResult struct {
	Asset     string `json:"asset"`
	Answer    string `json:"answer"`
	Decimals  uint8  `json:"decimals"`
	UpdatedAt string `json:"updatedAt"`
}

// QuoteResult renders a validated price observation.
type QuoteResult struct {
	Asset      string `json:"asset"`
	Answer     string `json:"answer"`
	Decimals   uint8  `json:"decimals"`
	Source     string `json:"source"`
	UpdatedAt  string `json:"updatedAt"`
	AgeSeconds int64  `json:"ageSeconds"`
}

const defaultOverrideDecimals = 8

func (m *OracleModule) now() time.Time {
	if m != nil && m.nowFunc != nil {
		return m.nowFunc()
	}
	return time.Now()
}

func (m *OracleModule) observe(method string, start time.Time, modErr *ModuleError) *ModuleError {
	status := http.StatusOK
	if modErr != nil {
		status = modErr.HTTPStatus
	}
	observability.ModuleMetrics().Observe("oracle", method, status, m.now().Sub(start))
	return modErr
}

// SetPrice stores an operator override on the asset's manual feed and emits
// the corresponding stream event.
func (m *OracleModule) SetPrice(raw json.RawMessage) (*SetPriceResult, *ModuleError) {
	start := m.now()
	if m == nil || m.engine == nil {
		return nil, &ModuleError{HTTPStatus: http.StatusInternalServerError, Code: codeServerError, Message: "oracle module not available"}
	}
	var params oracleSetPriceParams
	if modErr := decodeParams(raw, &params); modErr != nil {
		return nil, m.observe("setPrice", start, modErr)
	}
	asset, modErr := parseAddress(params.Asset, "asset")
	if modErr != nil {
		return nil, m.observe("setPrice", start, modErr)
	}
	feed, ok := m.manual[asset]
	if !ok {
		modErr = &ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: "asset has no operator-writable feed"}
		return nil, m.observe("setPrice", start, modErr)
	}
	decimals := uint8(defaultOverrideDecimals)
	if params.Decimals != nil {
		if *params.Decimals == 0 || *params.Decimals > 18 {
			modErr = &ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: "decimals must be between 1 and 18"}
			return nil, m.observe("setPrice", start, modErr)
		}
		decimals = *params.Decimals
	}
	observedAt := m.now()
	if params.Timestamp != nil {
		if *params.Timestamp <= 0 {
			modErr = &ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: "timestamp must be positive unix seconds"}
			return nil, m.observe("setPrice", start, modErr)
		}
		observedAt = time.Unix(*params.Timestamp, 0)
	}
	if err := feed.SetDecimal(params.Price, decimals, observedAt); err != nil {
		modErr = &ModuleError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidParams, Message: err.Error()}
		return nil, m.observe("setPrice", start, modErr)
	}
	quote, err := feed.Latest()
	if err != nil {
		return nil, m.observe("setPrice", start, &ModuleError{HTTPStatus: http.StatusInternalServerError, Code: codeServerError, Message: err.Error()})
	}
	if m.emitter != nil {
		m.emitter.Emit(events.OraclePriceUpdated{
			Asset:     asset,
			Answer:    quote.Answer,
			Decimals:  quote.Decimals,
			Source:    quote.Source,
			UpdatedAt: quote.UpdatedAt,
		})
	}
	observability.OracleMetrics().RecordPush(asset.String())
	m.observe("setPrice", start, nil)
	return &SetPriceResult{
		Asset:     params.Asset,
		Answer:    quote.Answer.String(),
		Decimals:  quote.Decimals,
		UpdatedAt: quote.UpdatedAt.UTC().Format(time.RFC3339),
	}, nil
}

// GetQuote reads the validated latest observation for the asset.
func (m *OracleModule) GetQuote(raw json.RawMessage) (*QuoteResult, *ModuleError) {
	start := m.now()
	if m == nil || m.engine == nil {
		return nil, &ModuleError{HTTPStatus: http.StatusInternalServerError, Code: codeServerError, Message: "oracle module not available"}
	}
	var params oracleQuoteParams
	if modErr := decodeParams(raw, &params); modErr != nil {
		return nil, m.observe("getQuote", start, modErr)
	}
	asset, modErr := parseAddress(params.Asset, "asset")
	if modErr != nil {
		return nil, m.observe("getQuote", start, modErr)
	}
	quote, err := m.engine.Quote(asset)
	if err != nil {
		observability.OracleMetrics().RecordFailure(oracleFailureReason(err))
		modErr = &ModuleError{HTTPStatus: http.StatusBadGateway, Code: codeServerError, Message: err.Error()}
		if strings.Contains(err.Error(), "no feed registered") {
			modErr.HTTPStatus = http.StatusBadRequest
			modErr.Code = codeInvalidParams
		}
		return nil, m.observe("getQuote", start, modErr)
	}
	age := m.now().Sub(quote.UpdatedAt)
	if age < 0 {
		age = 0
	}
	observability.OracleMetrics().ObserveQuoteAge(asset.String(), age)
	m.observe("getQuote", start, nil)
	return &QuoteResult{
		Asset:      params.Asset,
		Answer:     quote.Answer.String(),
		Decimals:   quote.Decimals,
		Source:     quote.Source,
		UpdatedAt:  quote.UpdatedAt.UTC().Format(time.RFC3339),
		AgeSeconds: int64(age / time.Second),
	}, nil
}
