package client

import (
	"github.com/ValentinKolb/dCR/rpc/common"
	"github.com/ValentinKolb/dCR/rpc/serializer"
	"github.com/ValentinKolb/dCR/rpc/transport"
)

// NewNamingClient creates a client for the naming service. It connects the
// transport and returns an INamingClient.
func NewNamingClient(
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (INamingClient, error) {
	adapter, err := newClientAdapter(config, transport, serializer)
	if err != nil {
		return nil, err
	}
	return &namingClient{adapter}, nil
}

type namingClient struct {
	rpcClientAdapter
}

// instanceKey composes the replicated key of one instance. The server side
// derives service names and query prefixes from the same separator.
func instanceKey(service, instance string) string {
	return service + common.KeySeparator + instance
}

// --------------------------------------------------------------------------
// Interface Methods (docu see client.INamingClient)
// --------------------------------------------------------------------------

func (c *namingClient) Register(service, instance string, meta []byte, ttlSec uint64) (uint64, error) {
	// the origin is left empty, the accepting member takes ownership
	resp, err := c.invoke(common.NewInstanceRegisterRequest(instanceKey(service, instance), meta, "", ttlSec))
	if err != nil {
		return 0, err
	}
	return resp.Version, nil
}

func (c *namingClient) Deregister(service, instance string) (bool, error) {
	resp, err := c.invoke(common.NewInstanceDeregisterRequest(instanceKey(service, instance)))
	if err != nil {
		return false, err
	}
	return resp.Ok, nil
}

func (c *namingClient) Beat(service, instance string) (bool, error) {
	resp, err := c.invoke(common.NewInstanceBeatRequest(instanceKey(service, instance)))
	if err != nil {
		return false, err
	}
	return resp.Ok, nil
}

func (c *namingClient) Query(service string, limit uint32) ([]common.WireItem, error) {
	resp, err := c.invoke(common.NewInstanceQueryRequest(service, limit))
	if err != nil {
		return nil, err
	}
	return resp.Items, nil
}

func (c *namingClient) Services(prefix string, limit uint32) ([]string, error) {
	resp, err := c.invoke(common.NewServiceListRequest(prefix, limit))
	if err != nil {
		return nil, err
	}
	return resp.Keys, nil
}
