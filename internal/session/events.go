package session

import "liveassist/internal/domain"

// event is anything the dispatch loop consumes.
type event any

type startIntent struct {
	pair  domain.SourcePair
	reply chan error
}

type stopIntent struct {
	reply chan struct{}
}

type refreshIntent struct {
	reply chan error
}

type selectIntent struct {
	pair domain.SourcePair
}

type submitIntent struct {
	text  string
	reply chan error
}

type transportStatus struct {
	status domain.ConnectionStatus
	err    error
}

type transportFrame struct {
	frame domain.Frame
}

// captureStarted completes the off-loop capture start of a given epoch.
type captureStarted struct {
	epoch uint64
	err   error
}

// captureFailed reports a runtime failure of a running capture.
type captureFailed struct {
	epoch uint64
	err   error
}

type sourcesLoaded struct {
	sources domain.Sources
	err     error
	reply   chan error
}

// transportEvents forwards transport callbacks into the mailbox.
type transportEvents struct {
	inbox *queue[event]
}

func (o transportEvents) StatusChanged(status domain.ConnectionStatus, err error) {
	o.inbox.push(transportStatus{status: status, err: err})
}

func (o transportEvents) FrameReceived(frame domain.Frame) {
	o.inbox.push(transportFrame{frame: frame})
}
