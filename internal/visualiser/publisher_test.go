package visualiser

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"

	"github.com/banshee-data/auv.localiser/internal/pose"
	"github.com/banshee-data/auv.localiser/internal/publish"
)

func startBufconn(t *testing.T, cfg Config) (*Publisher, PoseServiceClient) {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	pub := NewPublisher(cfg)
	require.NoError(t, pub.Serve(lis))
	t.Cleanup(pub.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return pub, NewPoseServiceClient(conn)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.ListenAddr != "localhost:50061" {
		t.Errorf("expected ListenAddr=localhost:50061, got %s", cfg.ListenAddr)
	}
	if cfg.MaxClients != 5 {
		t.Errorf("expected MaxClients=5, got %d", cfg.MaxClients)
	}
}

func TestPublisher_NotRunningDropsSilently(t *testing.T) {
	pub := NewPublisher(DefaultConfig())
	require.NoError(t, pub.PublishEstimate(publish.Estimate{}))
	assert.Equal(t, uint64(0), pub.Stats().MessageCount)
	assert.False(t, pub.Stats().Running)
	pub.Stop()
}

func TestPublisher_StreamsEstimates(t *testing.T) {
	pub, client := startBufconn(t, DefaultConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stream, err := client.StreamPoses(ctx, &emptypb.Empty{})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return pub.Stats().ClientCount == 1 }, 2*time.Second, 5*time.Millisecond)

	stamp := time.Date(2024, 5, 1, 12, 0, 0, 500, time.UTC)
	require.NoError(t, pub.PublishParticles(stamp, "odom", []pose.Pose{{X: 1}, {X: 2, Yaw: 0.5}}))
	require.NoError(t, pub.PublishEstimate(publish.Estimate{
		Stamp:     stamp,
		FrameID:   "odom",
		Pose:      pose.Pose{X: 1.5, Y: -2, Z: -30, Yaw: 0.25},
		NEff:      42.5,
		Resampled: true,
		Particles: 100,
	}))

	msg, err := stream.Recv()
	require.NoError(t, err)
	fields := msg.GetFields()
	assert.Equal(t, KindParticles, fields["kind"].GetStringValue())
	poses := fields["poses"].GetListValue().GetValues()
	require.Len(t, poses, 2)
	assert.Equal(t, pose.Pose{X: 2, Yaw: 0.5}, PoseFromList(poses[1].GetListValue()))

	msg, err = stream.Recv()
	require.NoError(t, err)
	fields = msg.GetFields()
	assert.Equal(t, KindEstimate, fields["kind"].GetStringValue())
	assert.Equal(t, "2024-05-01T12:00:00.0000005Z", fields["stamp"].GetStringValue())
	assert.Equal(t, "odom", fields["frame_id"].GetStringValue())
	assert.Equal(t, 42.5, fields["n_eff"].GetNumberValue())
	assert.True(t, fields["resampled"].GetBoolValue())
	assert.Equal(t, 100.0, fields["particles"].GetNumberValue())
	assert.Equal(t, pose.Pose{X: 1.5, Y: -2, Z: -30, Yaw: 0.25}, PoseFromList(fields["pose"].GetListValue()))
	assert.EqualValues(t, 2, pub.Stats().MessageCount)
}

func TestPublisher_ParticlesDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StreamParticles = false
	pub, client := startBufconn(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stream, err := client.StreamPoses(ctx, &emptypb.Empty{})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return pub.Stats().ClientCount == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, pub.PublishParticles(time.Now(), "odom", []pose.Pose{{}}))
	require.NoError(t, pub.PublishEstimate(publish.Estimate{FrameID: "odom"}))

	msg, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, KindEstimate, msg.GetFields()["kind"].GetStringValue())
}

func TestPublisher_MaxClients(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxClients = 1
	pub, client := startBufconn(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := client.StreamPoses(ctx, &emptypb.Empty{})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return pub.Stats().ClientCount == 1 }, 2*time.Second, 5*time.Millisecond)

	second, err := client.StreamPoses(ctx, &emptypb.Empty{})
	require.NoError(t, err)
	_, err = second.Recv()
	assert.Equal(t, codes.ResourceExhausted, status.Code(err))
}

func TestPublisher_ClientDisconnect(t *testing.T) {
	pub, client := startBufconn(t, DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	_, err := client.StreamPoses(ctx, &emptypb.Empty{})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return pub.Stats().ClientCount == 1 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.Eventually(t, func() bool { return pub.Stats().ClientCount == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestPublisher_ServeTwice(t *testing.T) {
	pub, _ := startBufconn(t, DefaultConfig())
	err := pub.Serve(bufconn.Listen(1024))
	assert.Error(t, err)
}
