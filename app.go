package main

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/wailsapp/wails/v2/pkg/runtime"

	"liveassist/internal/bootstrap"
	"liveassist/internal/domain"
	"liveassist/internal/ports"
	"liveassist/internal/session"
)

const (
	eventSnapshot = "liveassist:snapshot"
	eventError    = "liveassist:error"
)

var errNoReply = domain.Errorf(domain.ErrorKindValidation, "no assistant reply to copy")

// App is the Wails application root.
type App struct {
	ctx context.Context

	build     func(ctx context.Context) (bootstrap.Services, error)
	emit      func(ctx context.Context, name string, data ...any)
	clipboard ports.Clipboard

	coordinator *session.Coordinator
	services    bootstrap.Services
	bootErr     error

	cancel  context.CancelFunc
	running sync.WaitGroup
}

func NewApp(build func(ctx context.Context) (bootstrap.Services, error)) *App {
	return &App{
		build:     build,
		emit:      runtime.EventsEmit,
		clipboard: &wailsClipboard{},
	}
}

func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	services, err := a.build(ctx)
	if err != nil {
		a.bootErr = err
		a.emitError(domain.KindOf(err), err.Error())
		return
	}

	a.services = services
	a.coordinator = services.Coordinator
	a.coordinator.Subscribe(a)

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.running.Add(1)
	go func() {
		defer a.running.Done()
		_ = a.coordinator.Run(runCtx)
	}()

	// Initial enumeration; failures surface through the snapshot.
	go func() {
		_ = a.coordinator.RefreshSources(runCtx)
	}()
}

func (a *App) shutdown(context.Context) {
	if a.cancel == nil {
		return
	}
	a.cancel()
	a.running.Wait()
}

// RequestStart connects to the backend and begins capturing the given sources.
// Empty ids fall back to the last selection.
func (a *App) RequestStart(audioID, videoID string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.coordinator.RequestStart(domain.SourcePair{AudioID: audioID, VideoID: videoID})
}

// RequestStop ends the current session, if any.
func (a *App) RequestStop() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	a.coordinator.RequestStop()
	return nil
}

// RequestSourceRefresh re-enumerates audio and video sources.
func (a *App) RequestSourceRefresh() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.coordinator.RefreshSources(a.ctx)
}

// SelectSources records the pair used by the next start.
func (a *App) SelectSources(audioID, videoID string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	a.coordinator.SelectSources(domain.SourcePair{AudioID: audioID, VideoID: videoID})
	return nil
}

// SubmitMessage sends a typed question to the assistant.
func (a *App) SubmitMessage(text string) error {
	if err := a.requireReady(); err != nil {
		return err
	}
	return a.coordinator.SubmitMessage(text)
}

// GetSnapshot returns the latest session view.
func (a *App) GetSnapshot() snapshotView {
	if a.coordinator == nil {
		view := snapshotView{Snapshot: domain.Snapshot{
			State:            domain.SessionStateIdle,
			ConnectionStatus: domain.ConnectionDisconnected,
			Messages:         []domain.Message{},
			AudioSources:     []domain.SourceDescriptor{},
			VideoSources:     []domain.SourceDescriptor{},
		}}
		if a.bootErr != nil {
			view.State = domain.SessionStateFailed
			view.Errors.Connection = a.bootErr.Error()
		}
		view.Status = stateMessage(view.State)
		return view
	}
	return newSnapshotView(a.coordinator.Snapshot())
}

// GetRuntimeInfo returns non-sensitive config for the UI.
func (a *App) GetRuntimeInfo() map[string]string {
	if a.bootErr != nil {
		return map[string]string{"error": a.bootErr.Error()}
	}

	cfg := a.services.Config
	return map[string]string{
		"backendUrl":       a.services.BackendURL,
		"audioInputFormat": cfg.Capture.AudioInputFormat,
		"videoInputFormat": cfg.Capture.VideoInputFormat,
		"display":          cfg.Capture.Display,
		"chunkInterval":    cfg.Capture.ChunkInterval.String(),
	}
}

// CopyLastReply puts the newest assistant message on the clipboard.
func (a *App) CopyLastReply() error {
	if err := a.requireReady(); err != nil {
		return err
	}
	text, ok := lastReply(a.coordinator.Snapshot().Messages)
	if !ok {
		return errNoReply
	}
	if err := a.clipboard.SetText(a.ctx, text); err != nil {
		a.emitError(domain.ErrorKindBackend, err.Error())
		return fmt.Errorf("copy reply: %w", err)
	}
	return nil
}

// SnapshotChanged forwards coordinator snapshots to the frontend.
func (a *App) SnapshotChanged(snapshot domain.Snapshot) {
	if a.ctx == nil {
		return
	}
	a.emit(a.ctx, eventSnapshot, newSnapshotView(snapshot))
}

func (a *App) requireReady() error {
	if a.bootErr != nil {
		return a.bootErr
	}
	if a.coordinator == nil {
		return errors.New("application is not initialized")
	}
	return nil
}

func (a *App) emitError(kind domain.ErrorKind, detail string) {
	if a.ctx == nil {
		return
	}
	a.emit(a.ctx, eventError, map[string]string{
		"kind":    string(kind),
		"message": errorMessage(kind, detail),
		"detail":  detail,
	})
}

type snapshotView struct {
	domain.Snapshot
	Status string `json:"status"`
}

func newSnapshotView(snapshot domain.Snapshot) snapshotView {
	return snapshotView{Snapshot: snapshot, Status: stateMessage(snapshot.State)}
}

func lastReply(messages []domain.Message) (string, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Sender == domain.SenderAssistant {
			return messages[i].Text, true
		}
	}
	return "", false
}

func stateMessage(state domain.SessionState) string {
	switch state {
	case domain.SessionStateIdle:
		return "Ready"
	case domain.SessionStateConnecting:
		return "Connecting to assistant..."
	case domain.SessionStateAwaitingCaptureStart:
		return "Starting capture..."
	case domain.SessionStateActive:
		return "Live"
	case domain.SessionStateStopping:
		return "Stopping..."
	case domain.SessionStateFailed:
		return "Session failed"
	default:
		return ""
	}
}

func errorMessage(kind domain.ErrorKind, detail string) string {
	switch kind {
	case domain.ErrorKindValidation:
		return "Invalid request"
	case domain.ErrorKindConnection:
		return "Connection problem"
	case domain.ErrorKindCapture:
		return "Capture problem"
	case domain.ErrorKindEnumeration:
		return "Could not list sources"
	case domain.ErrorKindProtocol:
		return "Unexpected backend message"
	case domain.ErrorKindBackend:
		return "Assistant error"
	default:
		if detail == "" {
			return "Unknown error"
		}
		return detail
	}
}

type wailsClipboard struct{}

func (c *wailsClipboard) SetText(ctx context.Context, text string) error {
	return runtime.ClipboardSetText(ctx, text)
}
