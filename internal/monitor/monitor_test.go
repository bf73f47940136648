package monitor

import (
	"bytes"
	"context"
	"image/png"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/auv.localiser/internal/pose"
	"github.com/banshee-data/auv.localiser/internal/publish"
	"github.com/banshee-data/auv.localiser/internal/testutil"
	"github.com/banshee-data/auv.localiser/internal/timeutil"
)

var t0 = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func estimateAt(i int) publish.Estimate {
	return publish.Estimate{
		Stamp:     t0.Add(time.Duration(i) * time.Second),
		FrameID:   "odom",
		Pose:      pose.Pose{X: float64(i), Y: float64(i) / 2},
		NEff:      float64(100 - i),
		Resampled: i%3 == 0,
		Particles: 100,
	}
}

func TestHistory_RingOrder(t *testing.T) {
	h := NewHistory(3)
	for i := 0; i < 5; i++ {
		require.NoError(t, h.PublishEstimate(estimateAt(i)))
	}

	got := h.Estimates(0)
	require.Len(t, got, 3)
	assert.Equal(t, []float64{2, 3, 4}, []float64{got[0].Pose.X, got[1].Pose.X, got[2].Pose.X})

	last2 := h.Estimates(2)
	assert.Equal(t, 3.0, last2[0].Pose.X)

	latest, ok := h.Latest()
	require.True(t, ok)
	assert.Equal(t, 4.0, latest.Pose.X)
	assert.Equal(t, uint64(5), h.Total())
}

func TestHistory_LatestBeforeFull(t *testing.T) {
	h := NewHistory(10)
	_, ok := h.Latest()
	assert.False(t, ok)

	require.NoError(t, h.PublishEstimate(estimateAt(1)))
	require.NoError(t, h.PublishEstimate(estimateAt(2)))
	latest, ok := h.Latest()
	require.True(t, ok)
	assert.Equal(t, 2.0, latest.Pose.X)
}

func TestHistory_SnapshotIsCopied(t *testing.T) {
	h := NewHistory(0)
	poses := []pose.Pose{{X: 1}, {X: 2}}
	require.NoError(t, h.PublishParticles(t0, "odom", poses))
	poses[0].X = 99

	snap := h.Snapshot()
	assert.Equal(t, 1.0, snap.Poses[0].X)
	snap.Poses[1].X = 42
	assert.Equal(t, 2.0, h.Snapshot().Poses[1].X)
	assert.Equal(t, "odom", snap.FrameID)
}

func newTestServer(t *testing.T, n int) *Server {
	t.Helper()
	h := NewHistory(50)
	for i := 0; i < n; i++ {
		require.NoError(t, h.PublishEstimate(estimateAt(i)))
	}
	if n > 0 {
		require.NoError(t, h.PublishParticles(t0, "odom", []pose.Pose{{X: 0, Y: 0}, {X: 1, Y: 1}, {X: -1, Y: 2}}))
	}
	clock := timeutil.NewMockClock(t0)
	s := NewServer(Config{
		History: h,
		Clock:   clock,
		Status: func() Status {
			return Status{State: "idle", Steps: uint64(n), Particles: 100, Workers: 4, Strategy: "systematic"}
		},
	})
	clock.Advance(90 * time.Second)
	return s
}

func TestStatus(t *testing.T) {
	s := newTestServer(t, 4)
	rec := testutil.Get(t, s.Mux(), "/api/status")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)

	var got struct {
		State     string   `json:"state"`
		Steps     uint64   `json:"steps"`
		Workers   int      `json:"workers"`
		Started   string   `json:"started"`
		Estimates uint64   `json:"estimates"`
		LastNEff  *float64 `json:"last_n_eff"`
	}
	testutil.DecodeJSON(t, rec.Body, &got)
	assert.Equal(t, "idle", got.State)
	assert.Equal(t, uint64(4), got.Steps)
	assert.Equal(t, 4, got.Workers)
	assert.Equal(t, "1 minute ago", got.Started)
	assert.Equal(t, uint64(4), got.Estimates)
	require.NotNil(t, got.LastNEff)
	assert.Equal(t, 97.0, *got.LastNEff)
}

func TestStatus_NoEstimates(t *testing.T) {
	s := NewServer(Config{})
	rec := testutil.Get(t, s.Mux(), "/api/status")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.NotContains(t, rec.Body.String(), "last_n_eff")
	assert.NotContains(t, rec.Body.String(), "last_stamp")
}

func TestStatus_MethodNotAllowed(t *testing.T) {
	s := newTestServer(t, 0)
	rec := httptest.NewRecorder()
	s.Mux().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/status", nil))
	testutil.AssertStatusCode(t, rec.Code, http.StatusMethodNotAllowed)
}

func TestEstimates(t *testing.T) {
	s := newTestServer(t, 10)
	rec := testutil.Get(t, s.Mux(), "/api/estimates?limit=3")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)

	var rows []struct {
		Pose      pose.Pose `json:"pose"`
		NEff      float64   `json:"n_eff"`
		Resampled bool      `json:"resampled"`
		FrameID   string    `json:"frame_id"`
	}
	testutil.DecodeJSON(t, rec.Body, &rows)
	require.Len(t, rows, 3)
	assert.Equal(t, 7.0, rows[0].Pose.X)
	assert.Equal(t, 9.0, rows[2].Pose.X)
	assert.True(t, rows[2].Resampled)
	assert.Equal(t, "odom", rows[0].FrameID)

	rec = testutil.Get(t, s.Mux(), "/api/estimates?limit=nope")
	testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)
	rec = testutil.Get(t, s.Mux(), "/api/estimates?limit=51")
	testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)
}

func TestNEffChart(t *testing.T) {
	s := newTestServer(t, 6)
	rec := testutil.Get(t, s.Mux(), "/debug/charts/neff")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "Effective sample size")

	empty := newTestServer(t, 0)
	rec = testutil.Get(t, empty.Mux(), "/debug/charts/neff")
	testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)
}

func TestTrajectoryChart(t *testing.T) {
	s := newTestServer(t, 3)
	rec := testutil.Get(t, s.Mux(), "/debug/charts/trajectory")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Contains(t, rec.Body.String(), "Trajectory")

	empty := newTestServer(t, 0)
	rec = testutil.Get(t, empty.Mux(), "/debug/charts/trajectory")
	testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)
}

func TestParticlesPNG(t *testing.T) {
	s := newTestServer(t, 5)
	rec := testutil.Get(t, s.Mux(), "/debug/particles.png")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "particles-odom-")

	img, err := png.Decode(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	assert.Greater(t, img.Bounds().Dx(), 100)

	empty := newTestServer(t, 0)
	rec = testutil.Get(t, empty.Mux(), "/debug/particles.png")
	testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)
}

func TestStart_ShutsDownOnCancel(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()
	require.NoError(t, lis.Close())

	s := NewServer(Config{Address: addr})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/api/status")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestStart_ListenError(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer lis.Close()

	s := NewServer(Config{Address: lis.Addr().String()})
	assert.Error(t, s.Start(context.Background()))
}

