// Package projection maintains the user read model from the tagged event stream.
package projection

import (
	"context"
	"fmt"
	"log/slog"

	"accounts/internal/eventsourcing/entity"
	"accounts/internal/eventsourcing/journal"
	esprojection "accounts/internal/eventsourcing/projection"
	"accounts/internal/user/aggregate"
	"accounts/internal/user/models"
	"accounts/internal/user/store/readmodel"
)

// ReadModelName names the read-model projection's checkpoint.
const ReadModelName = "user-read-model"

// ReadModelID is the checkpoint identity of the read-model projection.
var ReadModelID = esprojection.ID{Name: ReadModelName, Tag: aggregate.Tag}

// ReadModelHandler upserts one row per user. Every event carries the full
// profile, so redelivery after a restart rewrites the same row.
type ReadModelHandler struct {
	codec  entity.EventCodec[models.Event]
	store  readmodel.Store
	logger *slog.Logger
}

var _ esprojection.Handler = (*ReadModelHandler)(nil)

func NewReadModelHandler(codec entity.EventCodec[models.Event], store readmodel.Store, logger *slog.Logger) *ReadModelHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReadModelHandler{codec: codec, store: store, logger: logger}
}

func (h *ReadModelHandler) Process(ctx context.Context, rec journal.Record) error {
	evt, err := h.codec.UnmarshalEvent(rec.Manifest, rec.Payload)
	if err != nil {
		return fmt.Errorf("decode %s seq %d: %w", rec.PersistenceID, rec.SequenceNr, err)
	}
	row := evt.ReadModel()
	if err := h.store.Upsert(ctx, row); err != nil {
		return err
	}
	h.logger.DebugContext(ctx, "read model updated",
		"username", row.Username.String(),
		"manifest", rec.Manifest,
		"offset", rec.Offset,
	)
	return nil
}
