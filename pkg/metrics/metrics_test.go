package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMetrics_RecordersDoNotPanic exercises every recorder method once.
// NewMetrics registers its collectors against prometheus's global default
// registry via promauto, so constructing it more than once per test binary
// would panic on duplicate registration — every assertion below therefore
// lives in this single test function, sharing one Metrics instance.
func TestMetrics_RecordersDoNotPanic(t *testing.T) {
	m := NewMetrics()
	require.NotNil(t, m)

	assert.NotPanics(t, func() {
		m.RecordElectionStarted()
		m.RecordTermChange(3)
		m.SetState("leader")
		m.SetLogSize(10)
		m.SetCommitIndex(8)
		m.SetLastApplied(8)
		m.ObserveApplyDuration(5 * time.Millisecond)
		m.ObservePeerRPC("append_entries", 2*time.Millisecond)
		m.RecordRequest("/api/v1/book_ticket", "200", 10*time.Millisecond)
		m.RecordBooking("book_ticket", "success")
		m.RecordBooking("book_ticket", "error")
	})

	metricFamilies, err := m.GetRegistry().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, metricFamilies)
}
