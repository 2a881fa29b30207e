package cluster

import (
	"context"
	"fmt"
	"time"
)

// --------------------------------------------------------------------------
// Member Model
// --------------------------------------------------------------------------

// MemberState describes the liveness verdict for a member.
type MemberState uint8

const (
	StateUp      MemberState = iota + 1 // member answers probes
	StateSuspect                        // consecutive probe failures, still owns its partitions
	StateDown                           // considered dead, excluded from ownership
)

func (s MemberState) String() string {
	switch s {
	case StateUp:
		return "up"
	case StateSuspect:
		return "suspect"
	case StateDown:
		return "down"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Member is one server of the cluster.
type Member struct {
	ID      string            `json:"id"`              // stable identifier, by convention the address
	Address string            `json:"address"`         // host:port of the peer rpc endpoint
	State   MemberState       `json:"state"`           // current liveness verdict
	Fails   int               `json:"fails,omitempty"` // consecutive failed probes
	SeenAt  int64             `json:"seenAt"`          // last successful probe (unix-milli)
	Meta    map[string]string `json:"meta,omitempty"`  // opaque extension data (e.g. raft address)
}

// View is an immutable membership snapshot. Members are sorted by ID.
type View struct {
	Version uint64   `json:"version"`
	Local   string   `json:"local"` // ID of the member holding this view
	Members []Member `json:"members"`
}

// Member returns the member with the given ID.
func (v *View) Member(id string) (Member, bool) {
	for _, m := range v.Members {
		if m.ID == id {
			return m, true
		}
	}
	return Member{}, false
}

// Alive returns all members not considered down. Suspect members count as
// alive so that a short probe hiccup does not reshuffle data ownership.
func (v *View) Alive() []Member {
	alive := make([]Member, 0, len(v.Members))
	for _, m := range v.Members {
		if m.State != StateDown {
			alive = append(alive, m)
		}
	}
	return alive
}

// Addresses returns the addresses of all members, in ID order.
func (v *View) Addresses() []string {
	addrs := make([]string, 0, len(v.Members))
	for _, m := range v.Members {
		addrs = append(addrs, m.Address)
	}
	return addrs
}

// --------------------------------------------------------------------------
// Pluggable Behaviour
// --------------------------------------------------------------------------

// ILookup resolves the configured member list. Resolving returns the full
// candidate set; the manager reconciles it against the current view.
type ILookup interface {
	// Name identifies the lookup strategy (static, file, addrsrv).
	Name() string

	// Resolve returns the currently configured members. Implementations
	// may cache; the manager calls this on every refresh interval.
	Resolve(ctx context.Context) ([]Member, error)

	// Close releases lookup resources.
	Close() error
}

// IPinger probes peer liveness. Implemented by the rpc client so that
// probes exercise the same transport real requests use.
type IPinger interface {
	Ping(ctx context.Context, addr string) error
}

// PingFunc adapts a function to the IPinger interface.
type PingFunc func(ctx context.Context, addr string) error

func (f PingFunc) Ping(ctx context.Context, addr string) error { return f(ctx, addr) }

// --------------------------------------------------------------------------
// Configuration
// --------------------------------------------------------------------------

const (
	DefaultProbeInterval   = 5 * time.Second
	DefaultProbeTimeout    = 2 * time.Second
	DefaultRefreshInterval = 30 * time.Second
	DefaultSuspectAfter    = 3
	DefaultDownAfter       = 6
)

// Config carries the membership manager settings.
type Config struct {
	LocalID      string // identifier of this server, by convention its address
	LocalAddress string // rpc address of this server

	ProbeInterval   time.Duration // liveness probe cadence (default 5s)
	ProbeTimeout    time.Duration // per-probe deadline (default 2s)
	RefreshInterval time.Duration // lookup re-resolve cadence (default 30s)
	SuspectAfter    int           // consecutive failures before suspect (default 3)
	DownAfter       int           // consecutive failures before down (default 6)
}

// withDefaults fills unset fields.
func (c Config) withDefaults() Config {
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = DefaultProbeInterval
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = DefaultProbeTimeout
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = DefaultRefreshInterval
	}
	if c.SuspectAfter <= 0 {
		c.SuspectAfter = DefaultSuspectAfter
	}
	if c.DownAfter <= c.SuspectAfter {
		c.DownAfter = c.SuspectAfter * 2
	}
	return c
}
