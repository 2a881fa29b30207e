package client

import (
	"github.com/ValentinKolb/dCR/rpc/common"
	"github.com/ValentinKolb/dCR/rpc/serializer"
	"github.com/ValentinKolb/dCR/rpc/transport"
)

// NewConfigClient creates a client for the config service. It connects the
// transport and returns an IConfigClient.
func NewConfigClient(
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (IConfigClient, error) {
	adapter, err := newClientAdapter(config, transport, serializer)
	if err != nil {
		return nil, err
	}
	return &configClient{adapter}, nil
}

type configClient struct {
	rpcClientAdapter
}

// --------------------------------------------------------------------------
// Interface Methods (docu see client.IConfigClient)
// --------------------------------------------------------------------------

func (c *configClient) Publish(key string, value []byte, origin string) (uint64, error) {
	resp, err := c.invoke(common.NewConfigPublishRequest(key, value, origin))
	if err != nil {
		return 0, err
	}
	return resp.Version, nil
}

func (c *configClient) Get(key string, stale bool) ([]byte, uint64, bool, error) {
	resp, err := c.invoke(common.NewConfigGetRequest(key, stale))
	if err != nil {
		return nil, 0, false, err
	}
	return resp.Value, resp.Version, resp.Ok, nil
}

func (c *configClient) Remove(key string) (bool, error) {
	resp, err := c.invoke(common.NewConfigRemoveRequest(key))
	if err != nil {
		return false, err
	}
	return resp.Ok, nil
}

func (c *configClient) List(prefix string, limit uint32, stale bool) ([]common.WireItem, error) {
	resp, err := c.invoke(common.NewConfigListRequest(prefix, limit, stale))
	if err != nil {
		return nil, err
	}
	return resp.Items, nil
}

func (c *configClient) History(key string, limit uint32) ([]common.WireItem, error) {
	resp, err := c.invoke(common.NewConfigHistoryRequest(key, limit))
	if err != nil {
		return nil, err
	}
	return resp.Items, nil
}

func (c *configClient) PublishGray(key string, rules []byte, origin string) (uint64, error) {
	resp, err := c.invoke(common.NewGrayPublishRequest(key, rules, origin))
	if err != nil {
		return 0, err
	}
	return resp.Version, nil
}

func (c *configClient) RemoveGray(key string) (bool, error) {
	resp, err := c.invoke(common.NewGrayRemoveRequest(key))
	if err != nil {
		return false, err
	}
	return resp.Ok, nil
}

func (c *configClient) CreateNamespace(name string, meta []byte) (bool, error) {
	resp, err := c.invoke(common.NewNamespaceCreateRequest(name, meta))
	if err != nil {
		return false, err
	}
	return resp.Ok, nil
}

func (c *configClient) RemoveNamespace(name string) (bool, error) {
	resp, err := c.invoke(common.NewNamespaceRemoveRequest(name))
	if err != nil {
		return false, err
	}
	return resp.Ok, nil
}

func (c *configClient) ListNamespaces(limit uint32) ([]common.WireItem, error) {
	resp, err := c.invoke(common.NewNamespaceListRequest(limit))
	if err != nil {
		return nil, err
	}
	return resp.Items, nil
}

func (c *configClient) Watch(key string, since uint64, waitSec uint64) (uint64, bool, error) {
	resp, err := c.invoke(common.NewConfigWatchRequest(key, since, waitSec))
	if err != nil {
		return 0, false, err
	}
	return resp.Version, resp.Ok, nil
}
