package store

import (
	"context"

	"github.com/rudransh-shrivastava/peer-share/internal/db"
)

// TransferRepository defines transfer history operations.
type TransferRepository interface {
	Record(ctx context.Context, rec db.TransferRecord) (db.TransferRecord, error)
	Get(ctx context.Context, id string) (db.TransferRecord, error)
	List(ctx context.Context, filter Filter) ([]db.TransferRecord, error)
	Clear(ctx context.Context) (int64, error)
}
