package receipts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/lgulliver/intray/internal/common"
	"github.com/lgulliver/intray/internal/upload"
	"github.com/lgulliver/intray/pkg/types"
	"github.com/lgulliver/intray/pkg/utils"
	"github.com/rs/zerolog/log"
)

const (
	recentCacheKey = "receipts:recent"
	recentCacheTTL = 30 * time.Second

	// MaxListLimit caps the number of receipts returned by List
	MaxListLimit = 100
)

// Ledger persists a receipt for every completed upload
type Ledger struct {
	db    *common.Database
	cache *common.Cache
}

var _ upload.Recorder = (*Ledger)(nil)

// NewLedger creates a new ledger. cache may be nil.
func NewLedger(db *common.Database, cache *common.Cache) *Ledger {
	return &Ledger{
		db:    db,
		cache: cache,
	}
}

// Record stores a receipt for a completed upload, including the checksum of
// the stored file.
func (l *Ledger) Record(ctx context.Context, receipt upload.Receipt) error {
	checksum, err := checksumFile(receipt.Path)
	if err != nil {
		log.Warn().Err(err).Str("path", receipt.Path).Msg("failed to compute checksum")
	}

	record := &types.Receipt{
		Name:        receipt.Name,
		Path:        receipt.Path,
		Size:        receipt.Size,
		SHA256:      checksum,
		Chunked:     receipt.Chunked,
		CompletedAt: receipt.CompletedAt,
	}
	if err := l.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("failed to store receipt: %w", err)
	}

	if l.cache != nil {
		if err := l.cache.Delete(ctx, recentCacheKey); err != nil {
			log.Warn().Err(err).Msg("failed to invalidate receipts cache")
		}
	}

	log.Debug().
		Str("id", record.ID.String()).
		Str("path", record.Path).
		Str("sha256", checksum).
		Msg("receipt recorded")
	return nil
}

// List returns up to limit receipts, most recent first
func (l *Ledger) List(ctx context.Context, limit int) ([]types.Receipt, error) {
	if limit <= 0 || limit > MaxListLimit {
		limit = MaxListLimit
	}

	var recent []types.Receipt
	if l.cache != nil {
		err := l.cache.Get(ctx, recentCacheKey, &recent)
		if err == nil {
			return recent[:min(limit, len(recent))], nil
		}
		if !errors.Is(err, common.ErrCacheMiss) {
			log.Warn().Err(err).Msg("failed to read receipts cache")
		}
	}

	if err := l.db.WithContext(ctx).
		Order("completed_at DESC").
		Limit(MaxListLimit).
		Find(&recent).Error; err != nil {
		return nil, fmt.Errorf("failed to list receipts: %w", err)
	}

	if l.cache != nil {
		if err := l.cache.Set(ctx, recentCacheKey, recent, recentCacheTTL); err != nil {
			log.Warn().Err(err).Msg("failed to cache receipts")
		}
	}

	return recent[:min(limit, len(recent))], nil
}

func checksumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return utils.ComputeSHA256FromReader(f)
}
