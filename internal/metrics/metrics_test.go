package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"darms/internal/model"
)

func TestStoreEvictsOldestRun(t *testing.T) {
	s := NewStore(2)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.Update(model.RunMetrics{RunID: "a", UpdatedAt: base})
	s.Update(model.RunMetrics{RunID: "b", UpdatedAt: base.Add(time.Second)})
	s.Update(model.RunMetrics{RunID: "c", UpdatedAt: base.Add(2 * time.Second)})
	s.Update(model.RunMetrics{})

	all := s.GetAll()
	require.Len(t, all, 2)
	assert.Equal(t, "b", all[0].RunID)
	assert.Equal(t, "c", all[1].RunID)

	s.Update(model.RunMetrics{RunID: "b", UpdatedAt: base.Add(3 * time.Second), Status: StatusSolved})
	all = s.GetAll()
	require.Len(t, all, 2)
	assert.Equal(t, "c", all[0].RunID)
	assert.Equal(t, StatusSolved, all[1].Status)
}

func TestCollectorsObserve(t *testing.T) {
	c := NewCollectors()
	c.Observe(model.RunMetrics{RunID: "a", Mode: "joint", Status: StatusSolved, Constraints: 120, Variables: 30, ViolationRate: 0.04, SolveSeconds: 0.2})
	c.Observe(model.RunMetrics{RunID: "b", Mode: "joint", Status: StatusInfeasible, Constraints: 999})

	assert.Equal(t, 1.0, testutil.ToFloat64(c.RunsTotal.WithLabelValues("joint", StatusSolved)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.RunsTotal.WithLabelValues("joint", StatusInfeasible)))
	assert.Equal(t, 120.0, testutil.ToFloat64(c.Constraints.WithLabelValues("joint")))
	assert.Equal(t, 0.04, testutil.ToFloat64(c.ViolationRate.WithLabelValues("joint")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.SolveSeconds))
}

func TestWriteTextfile(t *testing.T) {
	c := NewCollectors()
	c.Observe(model.RunMetrics{Mode: "decomposed", Status: StatusSolved, ViolationRate: 0.1})
	path := filepath.Join(t.TempDir(), "darms.prom")
	require.NoError(t, c.WriteTextfile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `darms_runs_total{mode="decomposed",status="solved"} 1`))
}
