package badgerstore

import (
	"time"

	"github.com/rabia-go/rabia/model"
)

// wireSavedState is the msgpack-friendly shape of model.SavedState. The
// protocol types themselves stay free of serialization tags; this is an
// ambient storage-boundary concern, not a protocol concern.
type wireSavedState struct {
	Snapshot           []byte
	LastCommittedPhase uint64
	PendingBatches     []wireBatch
}

type wireBatch struct {
	ID            string
	CorrelationID string
	Commands      [][]byte
	TimestampUnix int64
}

func toWireBatches(batches []model.Batch) []wireBatch {
	out := make([]wireBatch, 0, len(batches))
	for _, b := range batches {
		cmds := make([][]byte, 0, len(b.Commands))
		for _, c := range b.Commands {
			cmds = append(cmds, []byte(c))
		}
		out = append(out, wireBatch{
			ID:            string(b.ID),
			CorrelationID: string(b.CorrelationID),
			Commands:      cmds,
			TimestampUnix: b.Timestamp.UnixNano(),
		})
	}
	return out
}

func (w wireSavedState) toModel() model.SavedState {
	batches := make([]model.Batch, 0, len(w.PendingBatches))
	for _, wb := range w.PendingBatches {
		cmds := make([]model.Command, 0, len(wb.Commands))
		for _, c := range wb.Commands {
			cmds = append(cmds, model.Command(c))
		}
		batches = append(batches, model.Batch{
			ID:            model.BatchID(wb.ID),
			CorrelationID: model.CorrelationID(wb.CorrelationID),
			Commands:      cmds,
			Timestamp:     time.Unix(0, wb.TimestampUnix).UTC(),
		})
	}
	return model.SavedState{
		Snapshot:           w.Snapshot,
		LastCommittedPhase: model.Phase(w.LastCommittedPhase),
		PendingBatches:     batches,
	}
}
