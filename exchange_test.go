package bayeux

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingListener struct {
	replies  []Message
	failures []error
}

func (l *recordingListener) onReply(m Message)  { l.replies = append(l.replies, m) }
func (l *recordingListener) onFailure(err error) { l.failures = append(l.failures, err) }

func TestExchangeTableRegisterAndComplete(t *testing.T) {
	table := newExchangeTable()
	l := &recordingListener{}
	x := &exchange{msg: Message{ID: "1"}, listener: l}

	table.register("1", x)
	require.Equal(t, 1, table.len())

	got, ok := table.complete("1")
	require.True(t, ok)
	assert.Same(t, x, got)
	assert.Equal(t, 0, table.len())

	_, ok = table.complete("1")
	assert.False(t, ok, "completing an id twice should report not found the second time")
}

func TestExchangeTableRegisterDuplicatePanics(t *testing.T) {
	table := newExchangeTable()
	table.register("dup", &exchange{listener: &recordingListener{}})

	assert.Panics(t, func() {
		table.register("dup", &exchange{listener: &recordingListener{}})
	})
}

func TestExchangeTableDrain(t *testing.T) {
	table := newExchangeTable()
	for _, id := range []string{"a", "b", "c"} {
		table.register(id, &exchange{listener: &recordingListener{}})
	}

	drained := table.drain()
	assert.Len(t, drained, 3)
	assert.Equal(t, 0, table.len())

	// draining an empty table is safe and returns nothing.
	assert.Empty(t, table.drain())
}

func TestExchangeTableCompleteUnknown(t *testing.T) {
	table := newExchangeTable()
	_, ok := table.complete("missing")
	assert.False(t, ok)
}

func TestExchangeTableCompleteCancelsTimer(t *testing.T) {
	table := newExchangeTable()
	cancelled := false
	x := &exchange{
		msg:      Message{ID: "1"},
		listener: &recordingListener{},
		cancel:   func() { cancelled = true },
	}
	table.register("1", x)

	_, ok := table.complete("1")
	require.True(t, ok)
	assert.True(t, cancelled, "complete should cancel the exchange's expiry timer")
}

func TestExchangeTableDrainCancelsTimers(t *testing.T) {
	table := newExchangeTable()
	var cancelledCount int
	for _, id := range []string{"a", "b"} {
		table.register(id, &exchange{
			listener: &recordingListener{},
			cancel:   func() { cancelledCount++ },
		})
	}

	table.drain()
	assert.Equal(t, 2, cancelledCount, "drain should cancel every exchange's expiry timer")
}

func TestExchangeTableCompleteToleratesNilCancel(t *testing.T) {
	table := newExchangeTable()
	table.register("1", &exchange{listener: &recordingListener{}})

	assert.NotPanics(t, func() {
		_, ok := table.complete("1")
		assert.True(t, ok)
	})
}

func TestRecordingListenerFailure(t *testing.T) {
	l := &recordingListener{}
	l.onFailure(errors.New("boom"))
	require.Len(t, l.failures, 1)
	assert.EqualError(t, l.failures[0], "boom")
}
