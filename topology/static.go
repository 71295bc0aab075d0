package topology

import "github.com/rabia-go/rabia/model"

// Static is a fixed-membership Topology for tests and the example
// binary: the member set never changes, so quorum is always reachable
// once constructed.
type Static struct {
	self    model.NodeID
	members []model.NodeID
	f       int
	notify  chan QuorumStateNotification
}

// NewStatic builds a Static topology for a cluster of the given members,
// n = len(members) = 2f+1. self must be one of members.
func NewStatic(self model.NodeID, members []model.NodeID) *Static {
	n := len(members)
	f := (n - 1) / 2
	cp := make([]model.NodeID, len(members))
	copy(cp, members)
	t := &Static{
		self:    self,
		members: cp,
		f:       f,
		notify:  make(chan QuorumStateNotification, 1),
	}
	t.notify <- QuorumStateNotification{Kind: Established}
	return t
}

func (t *Static) Self() model.NodeID { return t.self }

func (t *Static) QuorumSize() int { return t.f + 1 }

func (t *Static) FPlusOne() int { return t.f + 1 }

func (t *Static) Members() []model.NodeID {
	cp := make([]model.NodeID, len(t.members))
	copy(cp, t.members)
	return cp
}

func (t *Static) QuorumStateNotifications() <-chan QuorumStateNotification {
	return t.notify
}

// Disappear and Reestablish let tests drive quorum-loss scenarios
// without a real reachability detector underneath.
func (t *Static) Disappear() {
	t.notify <- QuorumStateNotification{Kind: Disappeared}
}

func (t *Static) Reestablish() {
	t.notify <- QuorumStateNotification{Kind: Established}
}

// Close shuts down the notification channel.
func (t *Static) Close() {
	close(t.notify)
}
