package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCollector(t *testing.T) {
	collector := NewCollector()

	assert.NotNil(t, collector, "NewCollector should return a non-nil collector")
	assert.NotNil(t, collector.tasksScheduled)
	assert.NotNil(t, collector.tasksDispatched)
	assert.NotNil(t, collector.tasksCompleted)
	assert.NotNil(t, collector.tasksRetried)
	assert.NotNil(t, collector.tasksDead)
	assert.NotNil(t, collector.taskDuration)
	assert.NotNil(t, collector.tasksPending)
	assert.NotNil(t, collector.workersBusy)
}

func TestCollectorsAreIndependent(t *testing.T) {
	// Separate registries: creating two collectors must not panic on
	// duplicate registration.
	assert.NotPanics(t, func() {
		a := NewCollector()
		b := NewCollector()
		a.RecordScheduled()
		assert.Equal(t, 1.0, testutil.ToFloat64(a.tasksScheduled))
		assert.Equal(t, 0.0, testutil.ToFloat64(b.tasksScheduled))
	})
}

func TestCounters(t *testing.T) {
	c := NewCollector()

	for i := 0; i < 5; i++ {
		c.RecordScheduled()
	}
	c.RecordDispatch(200 * time.Millisecond)
	c.RecordDispatch(-time.Second) // clock skew is clamped
	c.RecordCompleted(time.Second)
	c.RecordRetry(time.Second)
	c.RecordRetry(time.Second)
	c.RecordDead(time.Second)

	assert.Equal(t, 5.0, testutil.ToFloat64(c.tasksScheduled))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.tasksDispatched))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.tasksCompleted))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.tasksRetried))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.tasksDead))
	assert.Equal(t, 3, testutil.CollectAndCount(c.taskDuration), "one series per outcome label")
}

func TestGauges(t *testing.T) {
	c := NewCollector()

	c.SetPending(42)
	assert.Equal(t, 42.0, testutil.ToFloat64(c.tasksPending))
	c.SetPending(0)
	assert.Equal(t, 0.0, testutil.ToFloat64(c.tasksPending))

	c.WorkerBusy(1)
	c.WorkerBusy(1)
	c.WorkerBusy(-1)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.workersBusy))
}

func TestHandler(t *testing.T) {
	c := NewCollector()
	c.RecordScheduled()

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "sched_tasks_scheduled_total 1"), body)
	assert.Contains(t, body, "sched_workers_busy")
}
