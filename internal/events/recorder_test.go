package events

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecorderFiltersByTopic(t *testing.T) {
	t.Parallel()

	r := &Recorder{}
	require.NoError(t, r.Publish(TopicEntryPosted, EntryPosted{EntryID: "e1"}))
	require.NoError(t, r.Publish(TopicLoanClosed, LoanClosed{LoanID: "l1"}))
	require.NoError(t, r.Publish(TopicEntryPosted, EntryPosted{EntryID: "e2"}))

	require.Len(t, r.Events(), 3)

	posted := r.ByTopic(TopicEntryPosted)
	require.Len(t, posted, 2)
	ev, ok := posted[1].Event.(EntryPosted)
	require.True(t, ok)
	require.Equal(t, "e2", ev.EntryID)

	require.Empty(t, r.ByTopic(TopicCycleClosed))
}

func TestLogPublisherMarshalsEvent(t *testing.T) {
	t.Parallel()

	var p LogPublisher
	require.NoError(t, p.Publish(TopicCycleActivated, CycleActivated{CycleID: "c1", Year: 2026}))
	require.Error(t, p.Publish(TopicCycleActivated, func() {}), "unmarshalable payloads surface the error")
}
