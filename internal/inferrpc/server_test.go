package inferrpc

import (
	"context"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/banshee-data/sparsebev/internal/monitoring"
	"github.com/banshee-data/sparsebev/internal/pipeline"
	"github.com/banshee-data/sparsebev/internal/testutil"
	"github.com/banshee-data/sparsebev/internal/transport"
	"github.com/banshee-data/sparsebev/internal/voxel"
)

const testMsgBytes = 4 << 20

func init() {
	monitoring.SetLogger(nil)
}

// startServer serves srv over an in-memory listener and returns a client
// connected to it.
func startServer(t *testing.T, srv *Server) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, lis, srv, testMsgBytes) }()

	conn, err := Dial("passthrough:///bufnet", testMsgBytes,
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}))
	require.NoError(t, err)

	t.Cleanup(func() {
		conn.Close()
		cancel()
		assert.NoError(t, <-done)
	})
	return conn
}

func input(t *testing.T) *voxel.Tensor {
	t.Helper()
	x, _, err := voxel.FromEntries(voxel.Shape{12, 12, 10}, 2, []voxel.Entry{
		{Coord: voxel.Coord{6, 6, 4}, Feature: []float32{1, 1}},
		{Coord: voxel.Coord{2, 9, 7}, Feature: []float32{0.5, -1}},
	})
	require.NoError(t, err)
	return x
}

func TestInfer_MatchesLocalRun(t *testing.T) {
	p := testutil.SmallPipeline(t, 3)
	want, err := p.Run(context.Background(), input(t))
	require.NoError(t, err)

	var (
		mu   sync.Mutex
		seen []string
	)
	srv := NewServer(p)
	srv.OnResult = func(_ context.Context, res *pipeline.Result) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, res.Checksum)
	}
	client := NewClient(startServer(t, srv))

	got, err := client.Infer(context.Background(), input(t))
	require.NoError(t, err)
	assert.Equal(t, want.BEV.Data, got.Data)
	assert.Equal(t, want.Checksum, got.Checksum)
	assert.Equal(t, "8,6,6", got.Shape)
	assert.Equal(t, [3]int{8, 6, 6}, got.Dims)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{want.Checksum}, seen)
}

func TestInfer_InvalidArgument(t *testing.T) {
	client := NewClient(startServer(t, NewServer(testutil.SmallPipeline(t, 3))))

	t.Run("wrong channel width", func(t *testing.T) {
		x, _, err := voxel.FromEntries(voxel.Shape{12, 12, 10}, 3, []voxel.Entry{
			{Coord: voxel.Coord{1, 1, 1}, Feature: []float32{1, 1, 1}},
		})
		require.NoError(t, err)
		_, err = client.Infer(context.Background(), x)
		assert.Equal(t, codes.InvalidArgument, status.Code(err))
	})

	t.Run("probe outside extent", func(t *testing.T) {
		_, err := client.InferFeatures(context.Background(), []float32{1, 1})
		assert.Equal(t, codes.InvalidArgument, status.Code(err))
	})

	t.Run("unknown format", func(t *testing.T) {
		ctx := metadata.AppendToOutgoingContext(context.Background(), FormatKey, "pcap")
		err := client.cc.Invoke(ctx, InferMethod, wrapperspb.Bytes(nil), new(wrapperspb.BytesValue))
		assert.Equal(t, codes.InvalidArgument, status.Code(err))
	})
}

func TestInfer_EmptyInput(t *testing.T) {
	p := testutil.SmallPipeline(t, 3)
	client := NewClient(startServer(t, NewServer(p)))

	got, err := client.Infer(context.Background(), voxel.Empty(voxel.Shape{12, 12, 10}, 2))
	require.NoError(t, err)
	assert.Len(t, got.Data, p.OutputLen())
	for _, v := range got.Data {
		if v != 0 {
			t.Fatalf("empty input produced non-zero output %v", v)
		}
	}
	assert.Equal(t, pipeline.Checksum(got.Data), got.Checksum)
}

func TestServer_DirectCall(t *testing.T) {
	srv := NewServer(testutil.SmallPipeline(t, 3))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := srv.Infer(ctx, wrapperspb.Bytes(transport.EncodeVoxels(input(t))))
	assert.Equal(t, codes.Canceled, status.Code(err))
}

func TestRegisterBackboneServer(t *testing.T) {
	gs := grpc.NewServer()
	RegisterBackboneServer(gs, NewServer(testutil.SmallPipeline(t, 3)))
	info := gs.GetServiceInfo()
	require.Contains(t, info, ServiceName)
	require.Len(t, info[ServiceName].Methods, 1)
	assert.Equal(t, "Infer", info[ServiceName].Methods[0].Name)
}
