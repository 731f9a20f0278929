package paramstore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/depth.relay/internal/dai/params"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "params.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenMigrates(t *testing.T) {
	s := openTestStore(t)
	v, dirty, err := s.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), v)
	assert.False(t, dirty)

	// Reopening an up-to-date store is a no-op.
	require.NoError(t, s.MigrateUp())
}

func TestLatestSkipsRejected(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordBatch(ctx, "b1", []Change{
		{Name: "stereo.r_confidence_threshold", Value: params.Int(200), Accepted: true},
		{Name: "stereo.r_median_filter", Value: params.String("KERNEL_5x5"), Accepted: true},
		{Name: "tof.i_minimum_amplitude", Value: params.Float(4.5), Accepted: true},
	}))
	require.NoError(t, s.RecordBatch(ctx, "b2", []Change{
		{Name: "stereo.r_confidence_threshold", Value: params.Int(180), Accepted: true},
		{Name: "stereo.r_median_filter", Value: params.String("KERNEL_9x9"), Err: "unknown enumerated value"},
		{Name: "stereo.i_low_bandwidth", Value: params.Bool(true), Accepted: true},
	}))

	latest, err := s.Latest(ctx)
	require.NoError(t, err)
	want := params.MapSource{
		"stereo.r_confidence_threshold": params.Int(180),
		"stereo.r_median_filter":        params.String("KERNEL_5x5"),
		"tof.i_minimum_amplitude":       params.Float(4.5),
		"stereo.i_low_bandwidth":        params.Bool(true),
	}
	assert.Equal(t, want, latest)
}

func TestHistory(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.RecordBatch(ctx, "b1", []Change{
		{Name: "left.r_exposure", Value: params.Int(100), Accepted: true},
		{Name: "stereo.r_lrc_threshold", Value: params.Int(11), Err: "value out of range"},
	}))

	recs, err := s.History(ctx, "stereo.", 10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "stereo.r_lrc_threshold", recs[0].Name)
	assert.False(t, recs[0].Accepted)
	assert.Equal(t, "value out of range", recs[0].Err)
	assert.Equal(t, 11, recs[0].Value.Int())
	assert.False(t, recs[0].RecordedAt.IsZero())

	all, err := s.History(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, "stereo.r_lrc_threshold", all[0].Name, "newest first")

	none, err := s.History(ctx, "left_", 10)
	require.NoError(t, err)
	assert.Empty(t, none, "underscore is literal")
}

func TestBuilds(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.RecordBuild(ctx, Build{ID: "a", PipelineType: "Depth", NodeCount: 5, Streams: []string{"stereo_stereo"}}))
	require.NoError(t, s.RecordBuild(ctx, Build{ID: "b", PipelineType: "Depth", Err: "calibration"}))

	builds, err := s.Builds(ctx, 5)
	require.NoError(t, err)
	require.Len(t, builds, 2)
	assert.Equal(t, "b", builds[0].ID)
	assert.Equal(t, "calibration", builds[0].Err)
	assert.Nil(t, builds[0].Streams)
	assert.Equal(t, []string{"stereo_stereo"}, builds[1].Streams)
}

func TestAdminRoutes(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.RecordBatch(context.Background(), "b1", []Change{
		{Name: "stereo.r_lrc_threshold", Value: params.Int(4), Accepted: true},
	}))
	mux := http.NewServeMux()
	s.AttachAdminRoutes(mux)

	req := httptest.NewRequest(http.MethodGet, "/debug/params/history?prefix=stereo.", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var got []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "4", got[0]["value"])
}
