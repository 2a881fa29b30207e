package distro

import (
	"context"
	"time"

	"github.com/ValentinKolb/dCR/lib/cluster"
	"github.com/ValentinKolb/dCR/lib/state"
)

// ----------------------------------------------------------------------------
// Defaults
// ----------------------------------------------------------------------------

const (
	// DefaultSyncDelay is the coalescing window for push replication: keys
	// dirtied within one window travel in a single batch.
	DefaultSyncDelay = 1000 * time.Millisecond
	// DefaultRetryDelay is the pause before a failed peer batch is resent
	// (once; afterwards repair is left to the verify rounds).
	DefaultRetryDelay = 3 * time.Second
	// DefaultVerifyInterval is the anti-entropy round cadence.
	DefaultVerifyInterval = 5 * time.Second
	// DefaultPeerTimeout bounds every single peer call (sync, verify, pull,
	// snapshot).
	DefaultPeerTimeout = 3 * time.Second
	// DefaultLoadRetryDelay is the pause between initial-load rounds when no
	// peer could serve a snapshot.
	DefaultLoadRetryDelay = 3 * time.Second
	// DefaultSweepInterval is the expiry sweeper cadence.
	DefaultSweepInterval = time.Second
	// DefaultTombstoneTTL is how long deletion markers are kept before they
	// are physically purged.
	DefaultTombstoneTTL = 60 * time.Second
	// DefaultInstanceTTLSec is the heartbeat budget for instances registered
	// without an explicit ttl: one missed budget marks the instance
	// unhealthy, two missed budgets delete it.
	DefaultInstanceTTLSec = 15
)

// ----------------------------------------------------------------------------
// Collaborator Interfaces
// ----------------------------------------------------------------------------

// IPeerClient is the transport seam of the distro protocol. The rpc client
// implements it; tests use in-process loopbacks. All calls address one peer
// and respect the context deadline.
type IPeerClient interface {
	// Sync pushes items to a peer which merges them into its local state.
	Sync(ctx context.Context, addr string, items []state.DataItem) error
	// Verify sends the digest (key -> version) of the key space this member
	// owns. The receiver repairs itself against the digest.
	Verify(ctx context.Context, addr string, origin string, digest map[string]uint64) error
	// Pull fetches the current items for the given keys.
	Pull(ctx context.Context, addr string, keys []string) ([]state.DataItem, error)
	// Snapshot fetches the peer's complete data set, tombstones included.
	Snapshot(ctx context.Context, addr string) ([]state.DataItem, error)
}

// IMembership provides the cluster view the ownership ring is computed from.
// Implemented by cluster.Manager.
type IMembership interface {
	// View returns the latest membership snapshot.
	View() cluster.View
	// Subscribe registers for view updates; the cancel function releases the
	// subscription.
	Subscribe() (<-chan cluster.View, func())
}

// ----------------------------------------------------------------------------
// Configuration
// ----------------------------------------------------------------------------

// Config configures the distro engine.
type Config struct {
	// MemberID is this member's cluster id. It keys the ownership ring and
	// is recorded as the origin of local writes.
	MemberID string

	SyncDelay      time.Duration // push coalescing window (default 1s)
	RetryDelay     time.Duration // pause before the single batch resend (default 3s)
	VerifyInterval time.Duration // anti-entropy cadence (default 5s)
	PeerTimeout    time.Duration // per-peer call deadline (default 3s)
	LoadRetryDelay time.Duration // pause between initial-load rounds (default 3s)
	SweepInterval  time.Duration // expiry sweeper cadence (default 1s)
	TombstoneTTL   time.Duration // retention of deletion markers (default 60s)
	InstanceTTLSec uint64        // heartbeat budget for instances without one (default 15)

	// OnChange, if set, is invoked for every accepted mutation of the local
	// state (local writes, merged peer deltas, sweeper verdicts). Feeds the
	// watch hub. Must not block.
	OnChange func(item state.DataItem)
}

// withDefaults fills unset fields.
func (c Config) withDefaults() Config {
	if c.SyncDelay <= 0 {
		c.SyncDelay = DefaultSyncDelay
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.VerifyInterval <= 0 {
		c.VerifyInterval = DefaultVerifyInterval
	}
	if c.PeerTimeout <= 0 {
		c.PeerTimeout = DefaultPeerTimeout
	}
	if c.LoadRetryDelay <= 0 {
		c.LoadRetryDelay = DefaultLoadRetryDelay
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	if c.TombstoneTTL <= 0 {
		c.TombstoneTTL = DefaultTombstoneTTL
	}
	if c.InstanceTTLSec == 0 {
		c.InstanceTTLSec = DefaultInstanceTTLSec
	}
	return c
}
