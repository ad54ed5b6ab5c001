package metrics

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/BaSui01/expflow/experiment"
)

var collectorNamespaceSeq uint64

func nextTestNamespace() string {
	seq := atomic.AddUint64(&collectorNamespaceSeq, 1)
	return fmt.Sprintf("test_%d", seq)
}

// =============================================================================
// 🧪 Collector 测试
// =============================================================================

func TestNewCollector(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	assert.NotNil(t, collector)
	assert.NotNil(t, collector.httpRequestsTotal)
	assert.NotNil(t, collector.assignmentsTotal)
	assert.NotNil(t, collector.conversionsTotal)
	assert.NotNil(t, collector.reportCacheHits)
}

func TestCollector_ObserveAssignment(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.ObserveAssignment("checkout_test", "treatment", experiment.PathBandit, 2*time.Millisecond)
	collector.ObserveAssignment("checkout_test", "treatment", experiment.PathBandit, 1*time.Millisecond)
	collector.ObserveAssignment("checkout_test", "control", experiment.PathControl, 1*time.Millisecond)

	assert.InDelta(t, 2, testutil.ToFloat64(
		collector.assignmentsTotal.WithLabelValues("checkout_test", "treatment", "bandit")), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(
		collector.assignmentsTotal.WithLabelValues("checkout_test", "control", "control")), 1e-9)
}

func TestCollector_ObserveConversion(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.ObserveConversion("checkout_test", "treatment", "purchase", time.Millisecond)
	collector.ObserveConversion("checkout_test", "treatment", "purchase", time.Millisecond)

	assert.InDelta(t, 2, testutil.ToFloat64(
		collector.conversionsTotal.WithLabelValues("checkout_test", "treatment", "purchase")), 1e-9)
}

func TestCollector_ObserveReport(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.ObserveReport("checkout_test", true)
	collector.ObserveReport("checkout_test", true)
	collector.ObserveReport("checkout_test", false)

	assert.InDelta(t, 2, testutil.ToFloat64(
		collector.reportCacheHits.WithLabelValues("checkout_test")), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(
		collector.reportCacheMisses.WithLabelValues("checkout_test")), 1e-9)
}

func TestCollector_RecordHTTPRequest(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordHTTPRequest("POST", "/v1/assign", 200, 5*time.Millisecond)
	collector.RecordHTTPRequest("POST", "/v1/assign", 500, 5*time.Millisecond)

	assert.InDelta(t, 1, testutil.ToFloat64(
		collector.httpRequestsTotal.WithLabelValues("POST", "/v1/assign", "2xx")), 1e-9)
	assert.InDelta(t, 1, testutil.ToFloat64(
		collector.httpRequestsTotal.WithLabelValues("POST", "/v1/assign", "5xx")), 1e-9)
}

func TestCollector_RecordDBConnections(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordDBConnections("primary", 8, 3)
	assert.InDelta(t, 8, testutil.ToFloat64(collector.dbConnectionsOpen.WithLabelValues("primary")), 1e-9)
	assert.InDelta(t, 3, testutil.ToFloat64(collector.dbConnectionsIdle.WithLabelValues("primary")), 1e-9)
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{200, "2xx"}, {204, "2xx"}, {301, "3xx"}, {404, "4xx"}, {500, "5xx"}, {100, "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusCode(tt.code))
	}
}
