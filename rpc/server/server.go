package server

import (
	"context"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/ValentinKolb/dCR/lib/consistency"
	"github.com/ValentinKolb/dCR/rpc/common"
	"github.com/ValentinKolb/dCR/rpc/serializer"
	"github.com/ValentinKolb/dCR/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("rpc")

// NewRPCServer creates a new RPC server. The caller wires the engines into
// service adapters and registers them before calling Serve.
//
// Usage:
//
//	s := server.NewRPCServer(
//		*config,
//		tcp.NewTCPServerTransport(),
//		serializer.NewBinarySerializer(),
//	)
//	s.RegisterService(common.ServiceConfig, server.NewConfigAdapter(router, hub))
//	s.RegisterService(common.ServiceLock, server.NewLockAdapter(router))
//
//	if err := s.Serve(); err != nil {
//		panic(err)
//	}
func NewRPCServer(
	config common.ServerConfig,
	transport transport.IRPCServerTransport,
	serializer serializer.IRPCSerializer,
) *RPCServer {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	Logger.Infof("Created RPC Server")
	Logger.Infof(config.String())

	return &RPCServer{
		config:     config,
		transport:  transport,
		serializer: serializer,
		services:   xsync.NewMapOf[uint64, IRPCServerAdapter](),
	}
}

// RPCServer routes incoming frames to the adapter registered for their
// service id. The transport owns the connections, the serializer the bytes;
// the server only dispatches.
type RPCServer struct {
	config     common.ServerConfig
	transport  transport.IRPCServerTransport
	serializer serializer.IRPCSerializer
	services   *xsync.MapOf[uint64, IRPCServerAdapter]
}

// RegisterService binds an adapter to a frame service id. Must be called
// before Serve; later registrations are picked up but not synchronized
// against in-flight requests of the same id.
func (s *RPCServer) RegisterService(serviceID uint64, adapter IRPCServerAdapter) {
	s.services.Store(serviceID, adapter)
	Logger.Infof("registered adapter for service %d", serviceID)
}

func (s *RPCServer) registerTransportHandler() {
	timeout := time.Duration(s.config.TimeoutSecond) * time.Second

	s.transport.RegisterHandler(func(serviceID uint64, req []byte) []byte {
		var msg common.Message
		var respMsg *common.Message

		// Get the adapter registered for the service
		adapter, ok := s.services.Load(serviceID)

		// Case service does not exist -> error
		if !ok {
			respMsg = common.NewErrorResponse(consistency.NewErrorf(
				consistency.ErrCInvalidOperation, "no service registered for id %d", serviceID))
		} else if err := s.serializer.Deserialize(req, &msg); err != nil {
			// Case request cannot be decoded -> error
			respMsg = common.NewErrorResponse(consistency.NewErrorf(
				consistency.ErrCInvalidOperation, "failed to deserialize request: %v", err))
		} else {
			// Let the adapter handle the request under the server deadline
			ctx := context.Background()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			respMsg = adapter.Handle(ctx, &msg)
		}

		// Encode the result
		val, err := s.serializer.Serialize(*respMsg)
		if err != nil {
			Logger.Errorf("failed to serialize response: %v", err)
			val, err = s.serializer.Serialize(*common.NewErrorResponse(consistency.NewError(
				consistency.ErrCInternal, "failed to serialize response")))
			if err != nil {
				return nil
			}
		}
		return val
	})
}

// Serve wires the transport handler and starts listening. It blocks until
// Close is called or the transport fails.
func (s *RPCServer) Serve() error {
	s.registerTransportHandler()
	return s.transport.Listen(s.config)
}

// Close stops the transport and unblocks Serve.
func (s *RPCServer) Close() error {
	return s.transport.Close()
}
