package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatus(t *testing.T) {
	assert.Equal(t, "success", Status(nil))
	assert.Equal(t, "error", Status(errors.New("boom")))
}

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(FactRows.WithLabelValues("inserted"))
	FactRows.WithLabelValues("inserted").Add(2)
	assert.Equal(t, before+2, testutil.ToFloat64(FactRows.WithLabelValues("inserted")))

	DimensionRows.WithLabelValues("status", "inserted").Inc()
	assert.GreaterOrEqual(t, testutil.ToFloat64(DimensionRows.WithLabelValues("status", "inserted")), 1.0)
}

func TestObserveStage(t *testing.T) {
	ObserveStage("conform", time.Now(), nil)
	ObserveStage("connect", time.Now(), errors.New("refused"))

	assert.GreaterOrEqual(t, testutil.CollectAndCount(StageDuration, "starload_pipeline_stage_duration_seconds"), 2)
}

func TestPush(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.Method+" "+r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	Runs.WithLabelValues("success").Inc()
	require.NoError(t, Push(context.Background(), srv.URL, "starload", "test"))
	require.Len(t, paths, 1)
	assert.Equal(t, "PUT /metrics/job/starload/instance/test", paths[0])
}

func TestPush_Unreachable(t *testing.T) {
	err := Push(context.Background(), "http://127.0.0.1:1", "starload", "test")
	assert.ErrorContains(t, err, "push metrics to http://127.0.0.1:1")
}
