// Package handlers gRPC control surface and HTTP ops endpoints
package handlers

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/mrdjehknhc/axtest/internal/model"
	"github.com/mrdjehknhc/axtest/internal/userStorage"
)

// ServiceName full name of gRPC service
const ServiceName = "exitbot.Monitor"

// MonitorService methods of exitbot.Monitor. Requests and responses are google.protobuf.Struct,
// failures are reported in "error" field of response
type MonitorService interface {
	Start(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Stop(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ForceCheck(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Stats(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Balance(context.Context, *structpb.Struct) (*structpb.Struct, error)
	OpenPosition(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ClosePosition(context.Context, *structpb.Struct) (*structpb.Struct, error)
	PanicSell(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetUserPositions(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UpdatePositionSettings(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetSettings(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UpdateSettings(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Report(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type methodFunc func(MonitorService, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, call methodFunc) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(MonitorService), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(MonitorService), ctx, req.(*structpb.Struct))
			})
		},
	}
}

// MonitorServiceDesc descriptor of exitbot.Monitor
var MonitorServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*MonitorService)(nil),
	Methods: []grpc.MethodDesc{
		unary("Start", MonitorService.Start),
		unary("Stop", MonitorService.Stop),
		unary("ForceCheck", MonitorService.ForceCheck),
		unary("Stats", MonitorService.Stats),
		unary("Balance", MonitorService.Balance),
		unary("OpenPosition", MonitorService.OpenPosition),
		unary("ClosePosition", MonitorService.ClosePosition),
		unary("PanicSell", MonitorService.PanicSell),
		unary("GetUserPositions", MonitorService.GetUserPositions),
		unary("UpdatePositionSettings", MonitorService.UpdatePositionSettings),
		unary("GetSettings", MonitorService.GetSettings),
		unary("UpdateSettings", MonitorService.UpdateSettings),
		unary("Report", MonitorService.Report),
	},
	Metadata: "exitbot/monitor.proto",
}

// RegisterMonitorServer register implementation on grpc server
func RegisterMonitorServer(s grpc.ServiceRegistrar, srv MonitorService) {
	s.RegisterService(&MonitorServiceDesc, srv)
}

// WhitelistInterceptor rejects requests whose user_id isn't whitelisted. Rejection is a response with error field
func WhitelistInterceptor(w *userStorage.Whitelist) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		in, ok := req.(*structpb.Struct)
		if !ok {
			return handler(ctx, req)
		}
		user := str(in, "user_id")
		if !w.Allowed(user) {
			log.WithFields(log.Fields{"user": user, "method": info.FullMethod}).Warn("handlers / access denied")
			return fail(errors.Wrapf(model.ErrUserNotAllowed, "user %q", user)), nil
		}
		return handler(ctx, req)
	}
}

// HealthHook OnStateChange callback of monitor that switches health status of service
func HealthHook(hs *health.Server) func(running bool) {
	return func(running bool) {
		status := healthpb.HealthCheckResponse_NOT_SERVING
		if running {
			status = healthpb.HealthCheckResponse_SERVING
		}
		hs.SetServingStatus(ServiceName, status)
	}
}

// Client calls exitbot.Monitor over grpc connection
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient Constructor
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Call method with request fields. Error field of response is returned as error together with response
func (c *Client) Call(ctx context.Context, method string, req map[string]interface{}) (map[string]interface{}, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, errors.Wrap(err, "handlers / Client / request")
	}
	out := new(structpb.Struct)
	if err = c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out); err != nil {
		return nil, errors.Wrapf(err, "handlers / Client / %s", method)
	}
	resp := out.AsMap()
	if msg, ok := resp["error"].(string); ok && msg != "" {
		return resp, errors.New(msg)
	}
	return resp, nil
}
