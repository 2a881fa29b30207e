package client

import (
	"github.com/ValentinKolb/dCR/lib/consistency"
	"github.com/ValentinKolb/dCR/rpc/common"
	"github.com/ValentinKolb/dCR/rpc/serializer"
	"github.com/ValentinKolb/dCR/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	Logger = logger.GetLogger("rpc")
)

// rpcClientAdapter stores what every typed RPC client needs.
// Used by the service clients with the composition pattern.
type rpcClientAdapter struct {
	config     common.ClientConfig
	transport  transport.IRPCClientTransport
	serializer serializer.IRPCSerializer
}

// newClientAdapter connects the transport and returns the adapter all typed
// clients embed.
func newClientAdapter(
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (rpcClientAdapter, error) {
	if err := transport.Connect(config); err != nil {
		return rpcClientAdapter{}, err
	}
	return rpcClientAdapter{
		config:     config,
		transport:  transport,
		serializer: serializer,
	}, nil
}

// invoke sends one request and returns the decoded response. The frame
// service id is derived from the message type. An error response is rebuilt
// into the typed consistency error it carries, leader hint included, so
// callers can decide about retries.
func (a *rpcClientAdapter) invoke(req *common.Message) (*common.Message, error) {
	reqBytes, err := a.serializer.Serialize(*req)
	if err != nil {
		return nil, err
	}

	respBytes, err := a.transport.Send(common.ServiceOf(req.MsgType), reqBytes)
	if err != nil {
		return nil, err
	}

	resp := &common.Message{}
	if err := a.serializer.Deserialize(respBytes, resp); err != nil {
		return nil, consistency.NewErrorf(consistency.ErrCInternal, "failed to decode response: %v", err)
	}

	if err := common.ErrorFromMessage(resp); err != nil {
		return nil, err
	}

	if resp.MsgType != req.MsgType {
		return nil, consistency.NewErrorf(consistency.ErrCInternal,
			"unexpected response type: got %s, want %s", resp.MsgType, req.MsgType)
	}
	return resp, nil
}

// Close releases the underlying transport.
func (a *rpcClientAdapter) Close() error {
	return a.transport.Close()
}
