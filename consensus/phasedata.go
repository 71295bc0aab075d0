// Package consensus implements the per-phase vote bookkeeping (PhaseData)
// and the bounded map of phases (Manager) that together realize the Rabia
// round structure: proposals, round-1 votes, round-2 votes, decision.
package consensus

import (
	"sort"
	"sync"

	"github.com/rabia-go/rabia/model"
)

// Outcome is what ProcessRound2Completion computes for a phase: either a
// decision, or an instruction to carry a locked value forward into the
// next phase without deciding this one.
type Outcome struct {
	// Decided is true iff the phase has a decision this round.
	Decided bool
	Value   model.StateValue
	Batch   model.Batch
	// CarryForward is set when Decided is false: it is the value that
	// phase P+1's round-1 votes must respect.
	CarryForward model.StateValue
	// Locked reports whether CarryForward actually reflects a locked
	// value (false when round 2 saw no definite votes at all, i.e.
	// nothing to carry).
	Locked bool
	// ViaCoin reports whether Decided was reached through the
	// deterministic coin flip rather than an fPlusOne supermajority.
	ViaCoin bool
}

// PhaseData is the per-phase tally owned by the Manager. Zero value is not
// useful; construct with newPhaseData.
type PhaseData struct {
	phase model.Phase

	mu sync.Mutex

	proposals   map[model.NodeID]model.Batch
	round1Votes map[model.NodeID]model.StateValue
	round2Votes map[model.NodeID]model.StateValue

	round1Counts map[model.StateValue]int
	round2Counts map[model.StateValue]int

	decided bool
}

func newPhaseData(phase model.Phase) *PhaseData {
	return &PhaseData{
		phase:        phase,
		proposals:    make(map[model.NodeID]model.Batch),
		round1Votes:  make(map[model.NodeID]model.StateValue),
		round2Votes:  make(map[model.NodeID]model.StateValue),
		round1Counts: make(map[model.StateValue]int),
		round2Counts: make(map[model.StateValue]int),
	}
}

// Phase returns the phase this data belongs to.
func (d *PhaseData) Phase() model.Phase {
	return d.phase
}

// RegisterProposal records sender's proposal. First writer wins: a later
// proposal from the same sender is silently ignored, keeping the operation
// idempotent in effect.
func (d *PhaseData) RegisterProposal(sender model.NodeID, batch model.Batch) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.proposals[sender]; ok {
		return
	}
	d.proposals[sender] = batch
}

// RegisterRound1Vote records sender's round-1 vote. A sender's second vote
// overwrites the first; the cached counts are kept consistent by moving
// one unit from the old bucket to the new one. value must be V0 or V1.
func (d *PhaseData) RegisterRound1Vote(sender model.NodeID, value model.StateValue) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if old, ok := d.round1Votes[sender]; ok {
		if old == value {
			return
		}
		d.round1Counts[old]--
	}
	d.round1Votes[sender] = value
	d.round1Counts[value]++
}

// RegisterRound2Vote records sender's round-2 vote, with the same
// overwrite semantics as RegisterRound1Vote. value may be V0, V1, or
// VQuestion.
func (d *PhaseData) RegisterRound2Vote(sender model.NodeID, value model.StateValue) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if old, ok := d.round2Votes[sender]; ok {
		if old == value {
			return
		}
		d.round2Counts[old]--
	}
	d.round2Votes[sender] = value
	d.round2Counts[value]++
}

// EvaluateInitialVote is called once when self enters round 1: it emits V1
// iff at least quorum of the proposals seen so far carry the same
// non-empty correlation ID, V0 otherwise. Empty batches are ignored when
// tallying.
func (d *PhaseData) EvaluateInitialVote(self model.NodeID, quorum int) model.StateValue {
	d.mu.Lock()
	defer d.mu.Unlock()

	matches := make(map[model.CorrelationID]int)
	for _, b := range d.proposals {
		if b.IsEmpty() {
			continue
		}
		matches[b.CorrelationID]++
		if matches[b.CorrelationID] >= quorum {
			return model.V1
		}
	}
	return model.V0
}

// EvaluateRound2Vote checks round-1 tallies in fixed order V0 then V1: if
// either has at least quorum votes, that value is emitted; otherwise
// VQuestion. Quorum intersection forbids both reaching quorum at once, so
// the V0-before-V1 order only matters in configurations that cannot occur
// in practice, but it must stay in lockstep with the protocol's
// machine-checked safety proof, which fixes this order.
func (d *PhaseData) EvaluateRound2Vote(quorum int) model.StateValue {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.round1Counts[model.V0] >= quorum {
		return model.V0
	}
	if d.round1Counts[model.V1] >= quorum {
		return model.V1
	}
	return model.VQuestion
}

// ProcessRound2Completion applies the decide/carry-forward rule: decide
// a value backed by fPlusOne round-2 votes, fall back to the coin when
// every observed vote is VQuestion, and otherwise carry the definite
// value forward without deciding.
func (d *PhaseData) ProcessRound2Completion(fPlusOne, quorum int) Outcome {
	d.mu.Lock()
	defer d.mu.Unlock()
	v1 := d.round2Counts[model.V1]
	v0 := d.round2Counts[model.V0]
	question := d.round2Counts[model.VQuestion]
	total := v1 + v0 + question

	if v1 >= fPlusOne {
		return Outcome{Decided: true, Value: model.V1, Batch: d.findAgreedProposalLocked(quorum)}
	}
	if v0 >= fPlusOne {
		return Outcome{Decided: true, Value: model.V0, Batch: model.EmptyBatch()}
	}
	if total > 0 && question == total {
		coin := model.CoinFlip(d.phase)
		if coin == model.V1 {
			return Outcome{Decided: true, Value: model.V1, Batch: d.findAgreedProposalLocked(quorum), ViaCoin: true}
		}
		return Outcome{Decided: true, Value: model.V0, Batch: model.EmptyBatch(), ViaCoin: true}
	}
	if v1 > 0 {
		// V1 takes priority when both definite values are present; quorum
		// intersection makes that configuration unreachable, but the
		// priority is fixed for determinism. The agreed batch rides
		// along so the next phase can re-propose the locked value.
		return Outcome{Decided: false, CarryForward: model.V1, Locked: true, Batch: d.findAgreedProposalLocked(quorum)}
	}
	if v0 > 0 {
		return Outcome{Decided: false, CarryForward: model.V0, Locked: true, Batch: model.EmptyBatch()}
	}
	// No votes observed yet; nothing to carry.
	return Outcome{Decided: false, Locked: false}
}

// FindAgreedProposal selects the batch with the most non-empty proposals,
// breaking ties by BatchID. Returns the canonical empty batch if there are
// no non-empty proposals.
func (d *PhaseData) FindAgreedProposal(quorum int) model.Batch {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.findAgreedProposalLocked(quorum)
}

func (d *PhaseData) findAgreedProposalLocked(_ int) model.Batch {
	counts := make(map[model.CorrelationID]int)
	samples := make(map[model.CorrelationID]model.Batch)
	for _, b := range d.proposals {
		if b.IsEmpty() {
			continue
		}
		counts[b.CorrelationID]++
		if existing, ok := samples[b.CorrelationID]; !ok || b.ID < existing.ID {
			samples[b.CorrelationID] = b
		}
	}
	if len(counts) == 0 {
		return model.EmptyBatch()
	}

	type candidate struct {
		corr  model.CorrelationID
		count int
		batch model.Batch
	}
	candidates := make([]candidate, 0, len(counts))
	for corr, count := range counts {
		candidates = append(candidates, candidate{corr: corr, count: count, batch: samples[corr]})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].count != candidates[j].count {
			return candidates[i].count > candidates[j].count
		}
		return candidates[i].batch.ID < candidates[j].batch.ID
	})
	return candidates[0].batch
}

// Round2VoteCount reports how many distinct senders have cast a round-2
// vote so far.
func (d *PhaseData) Round2VoteCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.round2Votes)
}

// MarkDecided atomically tests and sets the decided flag, returning true
// iff this call is the one that flips it from false to true.
func (d *PhaseData) MarkDecided() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.decided {
		return false
	}
	d.decided = true
	return true
}

// Decided reports whether this phase has already committed.
func (d *PhaseData) Decided() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.decided
}
