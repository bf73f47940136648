package visualiser

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Service and method names on the wire. Messages are well-known protobuf
// types, so no generated code is needed.
const (
	ServiceName       = "auvloc.v1.PoseService"
	StreamPosesMethod = "/" + ServiceName + "/StreamPoses"
)

// PoseServiceServer is the server API for the pose stream.
type PoseServiceServer interface {
	StreamPoses(*emptypb.Empty, PoseService_StreamPosesServer) error
}

// PoseService_StreamPosesServer is the server side of a StreamPoses call.
type PoseService_StreamPosesServer interface {
	Send(*structpb.Struct) error
	grpc.ServerStream
}

// PoseServiceDesc describes the service for grpc.Server.RegisterService.
var PoseServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*PoseServiceServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamPoses",
			Handler:       streamPosesHandler,
			ServerStreams: true,
		},
	},
	Metadata: "auvloc/v1/pose.proto",
}

func streamPosesHandler(srv interface{}, stream grpc.ServerStream) error {
	m := new(emptypb.Empty)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(PoseServiceServer).StreamPoses(m, &streamPosesServer{stream})
}

type streamPosesServer struct {
	grpc.ServerStream
}

func (x *streamPosesServer) Send(m *structpb.Struct) error {
	return x.ServerStream.SendMsg(m)
}

// PoseServiceClient is the client API for the pose stream.
type PoseServiceClient interface {
	StreamPoses(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (PoseService_StreamPosesClient, error)
}

// PoseService_StreamPosesClient is the client side of a StreamPoses call.
type PoseService_StreamPosesClient interface {
	Recv() (*structpb.Struct, error)
	grpc.ClientStream
}

type poseServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewPoseServiceClient returns a client bound to cc.
func NewPoseServiceClient(cc grpc.ClientConnInterface) PoseServiceClient {
	return &poseServiceClient{cc}
}

func (c *poseServiceClient) StreamPoses(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (PoseService_StreamPosesClient, error) {
	stream, err := c.cc.NewStream(ctx, &PoseServiceDesc.Streams[0], StreamPosesMethod, opts...)
	if err != nil {
		return nil, err
	}
	x := &streamPosesClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

type streamPosesClient struct {
	grpc.ClientStream
}

func (x *streamPosesClient) Recv() (*structpb.Struct, error) {
	m := new(structpb.Struct)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}
