package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName полное имя gRPC сервиса
const ServiceName = "license.v1.LicenseService"

// LicenseServiceServer gRPC API сервиса лицензий. Сообщения передаются как
// google.protobuf.Struct с теми же полями, что и в HTTP API.
type LicenseServiceServer interface {
	Connect(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ValidateLicense(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GenerateKey(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

type unaryCall func(srv LicenseServiceServer, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(method string, call unaryCall) func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(LicenseServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + method}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(LicenseServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ServiceDesc описание сервиса для grpc.Server.RegisterService
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LicenseServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Connect", Handler: unaryHandler("Connect", LicenseServiceServer.Connect)},
		{MethodName: "ValidateLicense", Handler: unaryHandler("ValidateLicense", LicenseServiceServer.ValidateLicense)},
		{MethodName: "GenerateKey", Handler: unaryHandler("GenerateKey", LicenseServiceServer.GenerateKey)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "license/v1/license.proto",
}

// RegisterLicenseServiceServer регистрирует реализацию на сервере
func RegisterLicenseServiceServer(s grpc.ServiceRegistrar, srv LicenseServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// Client клиент LicenseService
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient создает клиента поверх соединения
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) invoke(ctx context.Context, method string, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Connect вызывает LicenseService.Connect
func (c *Client) Connect(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "Connect", req, opts...)
}

// ValidateLicense вызывает LicenseService.ValidateLicense
func (c *Client) ValidateLicense(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "ValidateLicense", req, opts...)
}

// GenerateKey вызывает LicenseService.GenerateKey
func (c *Client) GenerateKey(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "GenerateKey", req, opts...)
}
