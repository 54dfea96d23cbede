package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"causeway/internal/event"
	"causeway/internal/gate"
	"causeway/internal/graph"
	"causeway/internal/judge"
	"causeway/internal/logger"
)

// NodePayload is the add_node record body.
type NodePayload struct {
	Event event.Event `json:"event"`
}

// EdgePayload is the edge_upserted record body. It carries enough to re-run
// the exact Apply call, so replay reproduces weights bit-for-bit.
type EdgePayload struct {
	Pair      gate.CandidatePair     `json:"pair"`
	Judgment  judge.Judgment         `json:"judgment"`
	AppliedAt time.Time              `json:"applied_at"`
	Result    graph.EdgeUpdateResult `json:"result"`
}

// SweepPayload is the sweep record body.
type SweepPayload struct {
	At     time.Time `json:"at"`
	Pruned []string  `json:"pruned,omitempty"`
}

// Replay walks the full trail in write order and re-applies the mutating
// actions to an empty graph store. The store must be configured with the
// same calibration parameters that produced the trail.
func Replay(ctx context.Context, s *Store, g *graph.Store) error {
	var afterID int64
	applied := 0
	for {
		recs, err := s.ListAfter(ctx, afterID, 500)
		if err != nil {
			return fmt.Errorf("audit replay read: %w", err)
		}
		if len(recs) == 0 {
			break
		}
		for _, rec := range recs {
			afterID = rec.ID
			if err := replayOne(g, rec); err != nil {
				return fmt.Errorf("audit replay record %d (%s): %w", rec.ID, rec.Action, err)
			}
			applied++
		}
	}
	logger.Infof("audit replay complete: %d records, %d edges live", applied, g.EdgeCount())
	return nil
}

func replayOne(g *graph.Store, rec Record) error {
	switch rec.Action {
	case ActionAddNode:
		var p NodePayload
		if err := json.Unmarshal(rec.Payload, &p); err != nil {
			return err
		}
		return g.AddNode(p.Event)
	case ActionEdgeUpserted:
		var p EdgePayload
		if err := json.Unmarshal(rec.Payload, &p); err != nil {
			return err
		}
		_, err := g.Apply(p.Pair, p.Judgment, p.AppliedAt)
		return err
	case ActionSweep:
		var p SweepPayload
		if err := json.Unmarshal(rec.Payload, &p); err != nil {
			return err
		}
		g.Sweep(p.At)
		return nil
	default:
		// Decision-only records carry no graph state.
		return nil
	}
}
