package predict

import (
	"context"
	"errors"

	"github.com/foresight-labs/foresight/pkg/models"
	"github.com/foresight-labs/foresight/pkg/store"
)

// SystemUser is the synthetic owner of unattended pipeline runs. Positions
// sized for it always carry quantity zero.
const SystemUser = "system"

// ErrPriceUnavailable signals that no entry price could be determined for a
// target. Position creation skips silently on it.
var ErrPriceUnavailable = errors.New("price unavailable")

// PositionRequest asks the external positions collaborator to open a
// position for one (analyst, fork) view of a prediction.
type PositionRequest struct {
	PredictionID string                     `json:"prediction_id"`
	TargetID     string                     `json:"target_id"`
	AnalystSlug  string                     `json:"analyst_slug"`
	ForkType     models.ForkType            `json:"fork_type"`
	Direction    models.PredictionDirection `json:"direction"`
	Quantity     float64                    `json:"quantity"`
	EntryPrice   float64                    `json:"entry_price"`
	// QuantityReason explains a zero quantity in human-readable terms.
	QuantityReason string `json:"quantity_reason,omitempty"`
}

// PositionSink is the external positions collaborator.
type PositionSink interface {
	CreatePosition(ctx context.Context, req PositionRequest) error
}

// Portfolio is the balance a position is sized against.
type Portfolio struct {
	UserID  string
	Balance float64
}

// PortfolioProvider resolves the portfolio for a universe. May return
// ErrNotFound-style errors when no portfolio is configured.
type PortfolioProvider interface {
	Portfolio(ctx context.Context, universeID string) (*Portfolio, error)
}

// PriceSource supplies the entry price for a target. The default
// implementation reads the latest target snapshot's close.
type PriceSource interface {
	LatestPrice(ctx context.Context, target *models.Target) (float64, error)
}

// snapshotPriceSource prices from the latest stored market snapshot.
type snapshotPriceSource struct {
	snapshots store.TargetSnapshotRepository
}

// NewSnapshotPriceSource creates the default snapshot-backed price source.
func NewSnapshotPriceSource(snapshots store.TargetSnapshotRepository) PriceSource {
	return &snapshotPriceSource{snapshots: snapshots}
}

func (s *snapshotPriceSource) LatestPrice(ctx context.Context, target *models.Target) (float64, error) {
	snap, err := s.snapshots.Latest(ctx, target.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, ErrPriceUnavailable
		}
		return 0, err
	}
	if snap.Close <= 0 {
		return 0, ErrPriceUnavailable
	}
	return snap.Close, nil
}
