package server

import (
	"context"

	"github.com/ValentinKolb/dCR/lib/cluster"
	"github.com/ValentinKolb/dCR/lib/state"
	"github.com/ValentinKolb/dCR/rpc/common"
)

// IRPCServerAdapter is the interface for all RPC server adapters.
// One adapter serves one service id and holds its own dependencies
// (router, engines, hub).
type IRPCServerAdapter interface {
	// Handle handles a request and returns a response.
	// The context carries the per-request deadline derived from the
	// server timeout. If an error occurs, it is set in the response.
	Handle(ctx context.Context, req *common.Message) (resp *common.Message)
}

// IPeerHandler is the receiving side of the distro replication protocol.
// Implemented by the distro engine.
type IPeerHandler interface {
	// HandleSync merges a pushed batch, returns the number of accepted items.
	HandleSync(items []state.DataItem) int
	// HandleVerify repairs local state against a peer's ownership digest.
	HandleVerify(ctx context.Context, from string, digest map[string]uint64) (pulled, dropped int)
	// HandlePull returns the current items for the given keys.
	HandlePull(keys []string) []state.DataItem
	// HandleSnapshot returns the complete data set, tombstones included.
	HandleSnapshot() []state.DataItem
}

// IMemberView exposes the cluster membership snapshot.
// Implemented by the cluster manager.
type IMemberView interface {
	View() cluster.View
}
