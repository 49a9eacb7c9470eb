package snapshot

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
	"gorm.io/gorm"

	"nusd/services/audit/models"
)

// Writer exports the derived collateral and debt ledgers to parquet files for
// offline reconciliation.
type Writer struct {
	db        *gorm.DB
	outputDir string
	logger    *slog.Logger
	now       func() time.Time
}

// NewWriter constructs a snapshot writer rooted at outputDir.
func NewWriter(db *gorm.DB, outputDir string, logger *slog.Logger) (*Writer, error) {
	if db == nil {
		return nil, fmt.Errorf("snapshot: database required")
	}
	if outputDir == "" {
		return nil, fmt.Errorf("snapshot: output directory required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{db: db, outputDir: outputDir, logger: logger, now: time.Now}, nil
}

type balanceRow struct {
	Kind        string `parquet:"name=kind, type=BYTE_ARRAY, convertedtype=UTF8"`
	Owner       string `parquet:"name=owner, type=BYTE_ARRAY, convertedtype=UTF8"`
	Asset       string `parquet:"name=asset, type=BYTE_ARRAY, convertedtype=UTF8"`
	Amount      string `parquet:"name=amount, type=BYTE_ARRAY, convertedtype=UTF8"`
	Sequence    int64  `parquet:"name=stream_sequence, type=INT64"`
	GeneratedAt string `parquet:"name=generated_at, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// Export writes a single parquet file containing every derived balance plus
// the stream position it was computed at. Returns the path of the file.
func (w *Writer) Export() (string, error) {
	if err := os.MkdirAll(w.outputDir, 0o755); err != nil {
		return "", fmt.Errorf("snapshot: create output dir: %w", err)
	}
	now := w.now().UTC()

	var cursor models.StreamCursor
	if err := w.db.First(&cursor, 1).Error; err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", fmt.Errorf("snapshot: load cursor: %w", err)
	}
	var collateral []models.CollateralBalance
	if err := w.db.Order("owner, asset").Find(&collateral).Error; err != nil {
		return "", fmt.Errorf("snapshot: load collateral: %w", err)
	}
	var debt []models.DebtBalance
	if err := w.db.Order("owner").Find(&debt).Error; err != nil {
		return "", fmt.Errorf("snapshot: load debt: %w", err)
	}

	generated := now.Format(time.RFC3339)
	rows := make([]*balanceRow, 0, len(collateral)+len(debt))
	for _, entry := range collateral {
		rows = append(rows, &balanceRow{
			Kind:        "collateral",
			Owner:       entry.Owner,
			Asset:       entry.Asset,
			Amount:      entry.Amount,
			Sequence:    int64(cursor.Sequence),
			GeneratedAt: generated,
		})
	}
	for _, entry := range debt {
		rows = append(rows, &balanceRow{
			Kind:        "debt",
			Owner:       entry.Owner,
			Amount:      entry.Amount,
			Sequence:    int64(cursor.Sequence),
			GeneratedAt: generated,
		})
	}

	path := filepath.Join(w.outputDir, fmt.Sprintf("vault-balances-%s.parquet", now.Format("20060102T150405Z")))
	if err := writeParquet(path, rows); err != nil {
		return "", err
	}
	w.logger.Info("wrote balance snapshot", "path", path, "rows", len(rows))
	return path, nil
}

// Run exports a snapshot on every tick of interval until ctx is cancelled.
func (w *Writer) Run(done <-chan struct{}, interval time.Duration) {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if _, err := w.Export(); err != nil {
				w.logger.Error("snapshot export failed", "error", err)
			}
		}
	}
}

func writeParquet(path string, rows []*balanceRow) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("snapshot: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(balanceRow), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("snapshot: parquet schema: %w", err)
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, row := range rows {
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("snapshot: write row: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("snapshot: finalize parquet: %w", err)
	}
	return file.Close()
}
