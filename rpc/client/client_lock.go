package client

import (
	"github.com/ValentinKolb/dCR/rpc/common"
	"github.com/ValentinKolb/dCR/rpc/serializer"
	"github.com/ValentinKolb/dCR/rpc/transport"
)

// NewLockClient creates a client for the lock service. The holder names the
// logical actor competing for locks (a deploy pipeline, a scheduler); every
// acquisition is attributed to it.
func NewLockClient(
	holder string,
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (ILockClient, error) {
	adapter, err := newClientAdapter(config, transport, serializer)
	if err != nil {
		return nil, err
	}
	return &lockClient{rpcClientAdapter: adapter, holder: holder}, nil
}

type lockClient struct {
	rpcClientAdapter
	holder string
}

// --------------------------------------------------------------------------
// Interface Methods (docu see client.ILockClient)
// --------------------------------------------------------------------------

func (c *lockClient) Acquire(resource string, ttlSec uint64) ([]byte, bool, error) {
	resp, err := c.invoke(common.NewLockAcquireRequest(resource, c.holder, ttlSec))
	if err != nil {
		return nil, false, err
	}
	return resp.Value, resp.Ok, nil
}

func (c *lockClient) Release(resource string, token []byte) (bool, error) {
	resp, err := c.invoke(common.NewLockReleaseRequest(resource, token))
	if err != nil {
		return false, err
	}
	return resp.Ok, nil
}
