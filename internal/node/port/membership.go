package port

import (
	"context"

	"github.com/anthanhphan/go-replicated-kv/pkg/membership"
	"github.com/anthanhphan/go-replicated-kv/pkg/shard"
)

//go:generate mockgen -destination=../service/mocks/membership_mock.go -package=mocks -source=membership.go

// MembershipPort defines the interface for cluster membership and failure detection.
type MembershipPort interface {
	// Join joins an existing cluster using a list of seed nodes.
	Join(seeds []string) error

	// Leave gracefully leaves the cluster.
	Leave() error

	// Members returns the routable members.
	Members() []shard.Node

	// LocalNode returns the local node information.
	LocalNode() shard.Node

	// Run drives the failure detector until ctx is done.
	Run(ctx context.Context)

	// Tracker exposes the membership view the node routes with.
	Tracker() *membership.Tracker
}

// MembershipView is the read side of the tracker the services use.
type MembershipView interface {
	Self() membership.State
	States() []membership.State
	IsAlive(nodeID string) bool
}

// RingPublisher exports ring snapshots to external routing clients.
type RingPublisher interface {
	PublishRing(ctx context.Context, export shard.Export) error
}
