// Package tracing provides nil-safe distributed tracing for the engine.
// A nil Tracer disables tracing entirely; every helper tolerates it so
// call sites need no guards of their own.
package tracing

import (
	"context"

	"github.com/opentracing/opentracing-go"
)

// Tracer starts spans for the operations worth tracing across the
// cluster: phase lifecycle, batch commit, and resynchronization.
type Tracer interface {
	// StartSpanFromContext starts a new root span named operationName,
	// returning a context carrying it.
	StartSpanFromContext(ctx context.Context, operationName string) (opentracing.Span, context.Context)
	// StartSpanFromParent starts a child span of parent.
	StartSpanFromParent(parent opentracing.Span, operationName string) opentracing.Span
}

// Operation names for traced spans. The engine emits ConsensusPhase (one
// per started phase) and StateMachineApply (one per applied commit); the
// other names are not emitted by the engine.
const (
	ConsensusPhase      = "consensus.phase"
	ConsensusRound1Vote = "consensus.round1_vote"
	ConsensusRound2Vote = "consensus.round2_vote"
	ConsensusDecision   = "consensus.decision"
	StateMachineApply   = "statemachine.apply"
	StorageSave         = "storage.save"
	StorageLoad         = "storage.load"
	SyncResync          = "sync.resync"
)

// StartSpan starts operationName on t, tolerating a nil Tracer.
func StartSpan(t Tracer, ctx context.Context, operationName string) (opentracing.Span, context.Context) {
	if t == nil {
		return nil, ctx
	}
	return t.StartSpanFromContext(ctx, operationName)
}

// StartChildSpan starts a child of parent, tolerating a nil Tracer or
// nil parent.
func StartChildSpan(t Tracer, parent opentracing.Span, operationName string) opentracing.Span {
	if t == nil || parent == nil {
		return nil
	}
	return t.StartSpanFromParent(parent, operationName)
}

// FinishSpan finishes span if it is non-nil.
func FinishSpan(span opentracing.Span) {
	if span == nil {
		return
	}
	span.Finish()
}
