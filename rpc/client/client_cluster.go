package client

import (
	"encoding/json"

	"github.com/ValentinKolb/dCR/lib/cluster"
	"github.com/ValentinKolb/dCR/lib/consistency"
	"github.com/ValentinKolb/dCR/rpc/common"
	"github.com/ValentinKolb/dCR/rpc/serializer"
	"github.com/ValentinKolb/dCR/rpc/transport"
)

// NewClusterClient creates a client for the cluster service. It connects the
// transport and returns an IClusterClient.
func NewClusterClient(
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (IClusterClient, error) {
	adapter, err := newClientAdapter(config, transport, serializer)
	if err != nil {
		return nil, err
	}
	return &clusterClient{adapter}, nil
}

type clusterClient struct {
	rpcClientAdapter
}

// --------------------------------------------------------------------------
// Interface Methods (docu see client.IClusterClient)
// --------------------------------------------------------------------------

func (c *clusterClient) Ping() error {
	_, err := c.invoke(common.NewPingRequest())
	return err
}

func (c *clusterClient) Members() (cluster.View, error) {
	resp, err := c.invoke(common.NewMembersRequest())
	if err != nil {
		return cluster.View{}, err
	}
	var view cluster.View
	if err := json.Unmarshal(resp.Value, &view); err != nil {
		return cluster.View{}, consistency.NewErrorf(consistency.ErrCInternal,
			"failed to decode membership view: %v", err)
	}
	return view, nil
}

func (c *clusterClient) Join(replicaID uint64, target string, nonVoting bool) error {
	_, err := c.invoke(common.NewJoinRequest(replicaID, target, nonVoting))
	return err
}

func (c *clusterClient) Leave(replicaID uint64) error {
	_, err := c.invoke(common.NewLeaveRequest(replicaID))
	return err
}

func (c *clusterClient) Info() (ClusterInfo, error) {
	resp, err := c.invoke(common.NewClusterInfoRequest())
	if err != nil {
		return ClusterInfo{}, err
	}
	var info ClusterInfo
	if err := json.Unmarshal(resp.Value, &info); err != nil {
		return ClusterInfo{}, consistency.NewErrorf(consistency.ErrCInternal,
			"failed to decode cluster info: %v", err)
	}
	return info, nil
}
