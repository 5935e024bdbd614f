package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sugarbloom/api/internal/platform/storage"
)

// ObjectMover is the storage move primitive used to relocate uploaded assets.
type ObjectMover interface {
	MoveObject(ctx context.Context, bucket, sourceObject, destObject string) error
}

// AssetPromoterDeps bundles collaborators for NewAssetPromoter.
type AssetPromoterDeps struct {
	Mover      ObjectMover
	Bucket     string
	TempPrefix string
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type assetPromoter struct {
	mover      ObjectMover
	bucket     string
	tempPrefix string
	logger     func(context.Context, string, map[string]any)
}

// NewAssetPromoter wires dependencies into a concrete AssetPromoter.
func NewAssetPromoter(deps AssetPromoterDeps) (AssetPromoter, error) {
	if deps.Mover == nil {
		return nil, errors.New("asset promoter: object mover is required")
	}
	if strings.TrimSpace(deps.Bucket) == "" {
		return nil, errors.New("asset promoter: bucket is required")
	}

	tempPrefix := deps.TempPrefix
	if tempPrefix == "" {
		tempPrefix = storage.DefaultTempUploadPrefix
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &assetPromoter{
		mover:      deps.Mover,
		bucket:     deps.Bucket,
		tempPrefix: tempPrefix,
		logger:     logger,
	}, nil
}

// Promote moves a temporary upload into the permanent per-booking path.
// References outside the temporary namespace pass through untouched. A failed
// move returns the original reference so the booking keeps a usable value.
func (p *assetPromoter) Promote(ctx context.Context, bookingID, ref string) (string, bool, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" || !storage.IsTemporary(ref, p.tempPrefix) {
		return ref, false, nil
	}

	dest, err := storage.BuildBookingAssetPath(bookingID, storage.FileName(ref))
	if err != nil {
		return ref, false, fmt.Errorf("asset promoter: build destination: %w", err)
	}

	if err := p.mover.MoveObject(ctx, p.bucket, ref, dest); err != nil {
		p.logger(ctx, "asset.promote.failed", map[string]any{
			"bookingId": bookingID,
			"source":    ref,
			"error":     err.Error(),
		})
		return ref, false, fmt.Errorf("asset promoter: move object: %w", err)
	}

	p.logger(ctx, "asset.promoted", map[string]any{
		"bookingId": bookingID,
		"source":    ref,
		"dest":      dest,
	})
	return dest, true, nil
}
