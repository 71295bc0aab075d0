package consensus

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rabia-go/rabia/model"
)

func TestRegisterProposalFirstWriterWins(t *testing.T) {
	pd := newPhaseData(0)
	b1 := model.MakeBatch([]model.Command{[]byte("x")})
	b2 := model.MakeBatch([]model.Command{[]byte("y")})

	pd.RegisterProposal("n1", b1)
	pd.RegisterProposal("n1", b2)

	require.Equal(t, b1, pd.proposals["n1"])
}

func TestRegisterRound1VoteOverwriteIsIdempotent(t *testing.T) {
	pd := newPhaseData(0)

	pd.RegisterRound1Vote("n1", model.V1)
	pd.RegisterRound1Vote("n1", model.V1)
	require.Equal(t, 1, pd.round1Counts[model.V1])
	require.Equal(t, 0, pd.round1Counts[model.V0])

	pd.RegisterRound1Vote("n1", model.V0)
	require.Equal(t, 0, pd.round1Counts[model.V1])
	require.Equal(t, 1, pd.round1Counts[model.V0])
}

func TestEvaluateInitialVoteQuorumAgreement(t *testing.T) {
	pd := newPhaseData(0)
	b := model.MakeBatch([]model.Command{[]byte("x")})
	pd.RegisterProposal("n1", b)
	pd.RegisterProposal("n2", b)
	pd.RegisterProposal("n3", model.MakeBatch([]model.Command{[]byte("z")}))

	// quorum=3 of 5: only 2 proposals match, not enough.
	require.Equal(t, model.V0, pd.EvaluateInitialVote("n1", 3))
	// quorum=2: two matching proposals is enough.
	require.Equal(t, model.V1, pd.EvaluateInitialVote("n1", 2))
}

func TestEvaluateInitialVoteIgnoresEmptyBatches(t *testing.T) {
	pd := newPhaseData(0)
	pd.RegisterProposal("n1", model.EmptyBatch())
	pd.RegisterProposal("n2", model.EmptyBatch())
	require.Equal(t, model.V0, pd.EvaluateInitialVote("n1", 1))
}

func TestEvaluateRound2VoteOrderV0BeforeV1(t *testing.T) {
	pd := newPhaseData(0)
	// Craft an otherwise-impossible configuration where both would reach
	// quorum, to pin the V0-before-V1 check order.
	pd.round1Counts[model.V0] = 3
	pd.round1Counts[model.V1] = 3
	require.Equal(t, model.V0, pd.EvaluateRound2Vote(3))
}

func TestEvaluateRound2VoteNoQuorumIsQuestion(t *testing.T) {
	pd := newPhaseData(0)
	pd.RegisterRound1Vote("n1", model.V1)
	pd.RegisterRound1Vote("n2", model.V0)
	require.Equal(t, model.VQuestion, pd.EvaluateRound2Vote(3))
}

func TestProcessRound2CompletionDecidesV1(t *testing.T) {
	pd := newPhaseData(0)
	b := model.MakeBatch([]model.Command{[]byte("x")})
	pd.RegisterProposal("n1", b)
	pd.RegisterRound2Vote("n1", model.V1)
	pd.RegisterRound2Vote("n2", model.V1)
	pd.RegisterRound2Vote("n3", model.V1)

	out := pd.ProcessRound2Completion(3, 3)
	require.True(t, out.Decided)
	require.Equal(t, model.V1, out.Value)
	require.Equal(t, b.ID, out.Batch.ID)
}

func TestProcessRound2CompletionDecidesV0(t *testing.T) {
	pd := newPhaseData(0)
	pd.RegisterRound2Vote("n1", model.V0)
	pd.RegisterRound2Vote("n2", model.V0)
	pd.RegisterRound2Vote("n3", model.V0)

	out := pd.ProcessRound2Completion(3, 3)
	require.True(t, out.Decided)
	require.Equal(t, model.V0, out.Value)
	require.True(t, out.Batch.IsEmpty())
}

func TestProcessRound2CompletionCoinFlipAllQuestion(t *testing.T) {
	pd := newPhaseData(0) // even phase -> coin is V0
	pd.RegisterRound2Vote("n1", model.VQuestion)
	pd.RegisterRound2Vote("n2", model.VQuestion)
	pd.RegisterRound2Vote("n3", model.VQuestion)

	out := pd.ProcessRound2Completion(3, 3)
	require.True(t, out.Decided)
	require.Equal(t, model.V0, out.Value)
	require.True(t, out.Batch.IsEmpty())
}

func TestProcessRound2CompletionCarriesForward(t *testing.T) {
	pd := newPhaseData(1) // odd phase -> coin is V1, must not matter here
	pd.RegisterRound2Vote("n1", model.V1)
	pd.RegisterRound2Vote("n2", model.VQuestion)
	pd.RegisterRound2Vote("n3", model.VQuestion)

	out := pd.ProcessRound2Completion(3, 3)
	require.False(t, out.Decided)
	require.True(t, out.Locked)
	require.Equal(t, model.V1, out.CarryForward)
}

func TestFindAgreedProposalMajorityAndTiebreak(t *testing.T) {
	pd := newPhaseData(0)
	a := model.Batch{ID: "a", CorrelationID: "corrA"}
	b1 := model.Batch{ID: "b1", CorrelationID: "corrB"}
	b2 := model.Batch{ID: "b2", CorrelationID: "corrB"}

	pd.RegisterProposal("n1", a)
	pd.RegisterProposal("n2", b1)
	pd.RegisterProposal("n3", b2)

	got := pd.FindAgreedProposal(2)
	require.Equal(t, model.CorrelationID("corrB"), got.CorrelationID)
	require.Equal(t, model.BatchID("b1"), got.ID) // tie-break: lowest BatchID
}

func TestFindAgreedProposalNoNonEmptyReturnsEmpty(t *testing.T) {
	pd := newPhaseData(0)
	pd.RegisterProposal("n1", model.EmptyBatch())
	got := pd.FindAgreedProposal(1)
	require.True(t, got.IsEmpty())
}

func TestMarkDecidedOnce(t *testing.T) {
	pd := newPhaseData(0)
	require.True(t, pd.MarkDecided())
	require.False(t, pd.MarkDecided())
	require.True(t, pd.Decided())
}

func TestCoinFlipDeterministicByPhase(t *testing.T) {
	require.Equal(t, model.V0, model.CoinFlip(0))
	require.Equal(t, model.V1, model.CoinFlip(1))
	require.Equal(t, model.V0, model.CoinFlip(2))
}
