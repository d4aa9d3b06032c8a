package engine

import "github.com/coachtools/matchsync/internal/model"

// MultiEvents fans engine notifications out to several receivers.
type MultiEvents []Events

// OnDrainComplete implements Events.
func (m MultiEvents) OnDrainComplete(result DrainResult) {
	for _, e := range m {
		e.OnDrainComplete(result)
	}
}

// OnEntryFailed implements Events.
func (m MultiEvents) OnEntryFailed(entry *model.QueueEntry, terminal bool) {
	for _, e := range m {
		e.OnEntryFailed(entry, terminal)
	}
}
