package session

import (
	"reflect"

	"liveassist/internal/domain"
	"liveassist/internal/ports"
)

func (c *Coordinator) buildSnapshot() domain.Snapshot {
	return domain.Snapshot{
		State:            c.state,
		ConnectionStatus: c.connection,
		Capturing:        c.capturing,
		Errors:           c.errs,
		Messages:         cloneSlice(c.messages),
		AudioSources:     cloneSlice(c.sources.Audio),
		VideoSources:     cloneSlice(c.sources.Video),
		Selected:         c.selected,
		AwaitingResponse: c.awaiting,
		LoadingSources:   c.refreshing > 0,
	}
}

// publish queues a snapshot for the sinks when anything changed since the
// last one.
func (c *Coordinator) publish() {
	snapshot := c.buildSnapshot()
	if c.published != nil && reflect.DeepEqual(*c.published, snapshot) {
		return
	}
	c.published = &snapshot
	c.latest.Store(&snapshot)
	c.outbox.push(snapshot)
}

// publishLoop delivers snapshots off the dispatch goroutine so sinks may call
// back into the coordinator.
func (c *Coordinator) publishLoop() {
	for {
		<-c.outbox.ready()
		for _, snapshot := range c.outbox.drain() {
			c.deliver(snapshot)
		}
		if c.outbox.isClosed() {
			for _, snapshot := range c.outbox.drain() {
				c.deliver(snapshot)
			}
			return
		}
	}
}

func (c *Coordinator) deliver(snapshot domain.Snapshot) {
	c.sinksMu.Lock()
	sinks := append([]ports.SnapshotSink(nil), c.sinks...)
	c.sinksMu.Unlock()

	for _, sink := range sinks {
		sink.SnapshotChanged(snapshot)
	}
}

// cloneSlice copies in, returning an empty non-nil slice so snapshots encode
// lists as [] rather than null.
func cloneSlice[T any](in []T) []T {
	out := make([]T, len(in))
	copy(out, in)
	return out
}
