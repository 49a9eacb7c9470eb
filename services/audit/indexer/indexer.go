package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"nhooyr.io/websocket"

	"nusd/core/events"
	"nusd/services/audit/models"
)

// StreamFrame mirrors the payload delivered on the node's /ws/vault/events
// endpoint.
type StreamFrame struct {
	Sequence   uint64            `json:"sequence"`
	Cursor     string            `json:"cursor"`
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	Timestamp  int64             `json:"timestamp"`
}

// Indexer consumes the vault event stream and maintains derived collateral
// and debt ledgers alongside a verbatim event log.
type Indexer struct {
	db      *gorm.DB
	nodeURL string
	backoff time.Duration
	logger  *slog.Logger
}

// New constructs an indexer. nodeURL is the websocket endpoint for the vault
// event stream, e.g. ws://127.0.0.1:8080/ws/vault/events.
func New(db *gorm.DB, nodeURL string, backoff time.Duration, logger *slog.Logger) (*Indexer, error) {
	if db == nil {
		return nil, fmt.Errorf("indexer: database required")
	}
	nodeURL = strings.TrimSpace(nodeURL)
	if nodeURL == "" {
		return nil, fmt.Errorf("indexer: node url required")
	}
	if backoff <= 0 {
		backoff = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{db: db, nodeURL: nodeURL, backoff: backoff, logger: logger}, nil
}

// Run subscribes to the vault event stream and applies frames until the
// context is cancelled. Disconnects are retried with a fixed backoff, resuming
// from the last persisted cursor so no retained updates are lost.
func (ix *Indexer) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := ix.consume(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			ix.logger.Warn("event stream disconnected", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(ix.backoff):
		}
	}
}

func (ix *Indexer) consume(ctx context.Context) error {
	cursor, err := ix.loadCursor()
	if err != nil {
		return err
	}
	target := ix.nodeURL
	if cursor != "" {
		target = ix.nodeURL + "?cursor=" + url.QueryEscape(cursor)
	}
	conn, _, err := websocket.Dial(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", ix.nodeURL, err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "indexer stopped")

	ix.logger.Info("subscribed to vault events", "url", ix.nodeURL, "cursor", cursor)
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		var frame StreamFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			ix.logger.Warn("malformed stream frame", "error", err)
			continue
		}
		if err := ix.Apply(&frame); err != nil {
			ix.logger.Error("apply frame", "sequence", frame.Sequence, "type", frame.Type, "error", err)
		}
	}
}

// Apply records a stream frame and folds it into the derived ledgers. Frames
// whose sequence has already been recorded are skipped, making replays after a
// reconnect harmless.
func (ix *Indexer) Apply(frame *StreamFrame) error {
	if frame == nil {
		return fmt.Errorf("indexer: nil frame")
	}
	return ix.db.Transaction(func(tx *gorm.DB) error {
		var existing models.EventRecord
		err := tx.Where("sequence = ?", frame.Sequence).First(&existing).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		attrs, err := json.Marshal(frame.Attributes)
		if err != nil {
			return fmt.Errorf("encode attributes: %w", err)
		}
		record := models.EventRecord{
			ID:         uuid.New(),
			Sequence:   frame.Sequence,
			Cursor:     frame.Cursor,
			Digest:     frame.ID,
			Type:       frame.Type,
			Attributes: string(attrs),
			EmittedAt:  time.Unix(0, frame.Timestamp).UTC(),
		}
		if err := tx.Create(&record).Error; err != nil {
			return err
		}
		if err := ix.fold(tx, frame); err != nil {
			return err
		}
		return saveCursor(tx, frame)
	})
}

func (ix *Indexer) fold(tx *gorm.DB, frame *StreamFrame) error {
	switch frame.Type {
	case events.TypeCollateralDeposited:
		return adjustCollateral(tx, frame.Attributes["user"], frame.Attributes["asset"], frame.Attributes["amount"], false)
	case events.TypeCollateralRedeemed:
		return adjustCollateral(tx, frame.Attributes["owner"], frame.Attributes["asset"], frame.Attributes["amount"], true)
	case events.TypeDebtIssued:
		return adjustDebt(tx, frame.Attributes["user"], frame.Attributes["amount"], false)
	case events.TypeDebtBurned:
		return adjustDebt(tx, frame.Attributes["owner"], frame.Attributes["amount"], true)
	case events.TypePositionLiquidated:
		// Balance movement arrives via the paired burn and redeem events;
		// the liquidation record itself is retained in the event log only.
		return nil
	case events.TypeOraclePriceUpdated:
		return recordPrice(tx, frame.Attributes)
	default:
		ix.logger.Warn("unrecognised event type", "type", frame.Type, "sequence", frame.Sequence)
		return nil
	}
}

func adjustCollateral(tx *gorm.DB, owner, asset, amount string, negate bool) error {
	delta, err := parseAmount(amount)
	if err != nil {
		return err
	}
	if owner == "" || asset == "" {
		return fmt.Errorf("collateral event missing owner or asset")
	}
	var balance models.CollateralBalance
	err = tx.Where("owner = ? AND asset = ?", owner, asset).First(&balance).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		balance = models.CollateralBalance{ID: uuid.New(), Owner: owner, Asset: asset, Amount: "0"}
	case err != nil:
		return err
	}
	next, err := applyDelta(balance.Amount, delta, negate)
	if err != nil {
		return fmt.Errorf("collateral balance for %s/%s: %w", owner, asset, err)
	}
	balance.Amount = next
	return tx.Save(&balance).Error
}

func adjustDebt(tx *gorm.DB, owner, amount string, negate bool) error {
	delta, err := parseAmount(amount)
	if err != nil {
		return err
	}
	if owner == "" {
		return fmt.Errorf("debt event missing owner")
	}
	var balance models.DebtBalance
	err = tx.Where("owner = ?", owner).First(&balance).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		balance = models.DebtBalance{ID: uuid.New(), Owner: owner, Amount: "0"}
	case err != nil:
		return err
	}
	next, err := applyDelta(balance.Amount, delta, negate)
	if err != nil {
		return fmt.Errorf("debt balance for %s: %w", owner, err)
	}
	balance.Amount = next
	return tx.Save(&balance).Error
}

func recordPrice(tx *gorm.DB, attrs map[string]string) error {
	asset := strings.TrimSpace(attrs["asset"])
	answer := strings.TrimSpace(attrs["answer"])
	if asset == "" || answer == "" {
		return fmt.Errorf("price event missing asset or answer")
	}
	decimals := uint64(0)
	if raw := strings.TrimSpace(attrs["decimals"]); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 8)
		if err != nil {
			return fmt.Errorf("price event decimals: %w", err)
		}
		decimals = parsed
	}
	updatedAt := time.Time{}
	if raw := strings.TrimSpace(attrs["updatedAt"]); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return fmt.Errorf("price event timestamp: %w", err)
		}
		updatedAt = parsed
	}
	observation := models.PriceObservation{
		ID:        uuid.New(),
		Asset:     asset,
		Answer:    answer,
		Decimals:  uint8(decimals),
		Source:    strings.TrimSpace(attrs["source"]),
		UpdatedAt: updatedAt,
	}
	return tx.Create(&observation).Error
}

func saveCursor(tx *gorm.DB, frame *StreamFrame) error {
	var cursor models.StreamCursor
	err := tx.First(&cursor, 1).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		cursor = models.StreamCursor{ID: 1}
	case err != nil:
		return err
	}
	if frame.Sequence < cursor.Sequence {
		return nil
	}
	cursor.Cursor = frame.Cursor
	cursor.Sequence = frame.Sequence
	return tx.Save(&cursor).Error
}

func (ix *Indexer) loadCursor() (string, error) {
	var cursor models.StreamCursor
	err := ix.db.First(&cursor, 1).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return cursor.Cursor, nil
}

func parseAmount(raw string) (*big.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("event missing amount")
	}
	value, ok := new(big.Int).SetString(raw, 10)
	if !ok || value.Sign() < 0 {
		return nil, fmt.Errorf("invalid event amount %q", raw)
	}
	return value, nil
}

func applyDelta(current string, delta *big.Int, negate bool) (string, error) {
	base, ok := new(big.Int).SetString(current, 10)
	if !ok {
		return "", fmt.Errorf("corrupt stored balance %q", current)
	}
	var next *big.Int
	if negate {
		next = new(big.Int).Sub(base, delta)
		if next.Sign() < 0 {
			return "", fmt.Errorf("balance underflow: %s - %s", base, delta)
		}
	} else {
		next = new(big.Int).Add(base, delta)
	}
	return next.String(), nil
}
