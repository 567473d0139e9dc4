package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"liveassist/internal/bootstrap"
	"liveassist/internal/config"
	"liveassist/internal/debug"
	"liveassist/internal/domain"
	"liveassist/internal/log"
)

var (
	audioID string
	videoID string
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List selectable audio and video sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		services, err := buildServices(ctx)
		if err != nil {
			return err
		}
		runCtx, cancel := context.WithCancel(ctx)
		done := startCoordinator(runCtx, services)
		defer func() {
			cancel()
			<-done
		}()

		if err := services.Coordinator.RefreshSources(ctx); err != nil {
			return err
		}
		printSources(cmd.OutOrStdout(), services.Coordinator.Snapshot())
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start a session and chat with the assistant",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		services, err := buildServices(ctx)
		if err != nil {
			return err
		}
		coordinator := services.Coordinator
		out := cmd.OutOrStdout()
		coordinator.Subscribe(&terminalSink{out: out})

		runCtx, cancel := context.WithCancel(ctx)
		done := startCoordinator(runCtx, services)
		defer func() {
			cancel()
			<-done
		}()

		if audioID == "" || videoID == "" {
			if err := coordinator.RefreshSources(ctx); err != nil {
				return err
			}
			snapshot := coordinator.Snapshot()
			audioID = firstID(audioID, snapshot.AudioSources)
			videoID = firstID(videoID, snapshot.VideoSources)
		}
		if err := coordinator.RequestStart(domain.SourcePair{AudioID: audioID, VideoID: videoID}); err != nil {
			return err
		}

		go readQuestions(ctx, cmd.InOrStdin(), out, coordinator.SubmitMessage)

		<-ctx.Done()
		coordinator.RequestStop()
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&audioID, "audio", "", "audio source id (default: first listed)")
	runCmd.Flags().StringVar(&videoID, "video", "", "screen or window id (default: first listed)")
}

func buildServices(ctx context.Context) (bootstrap.Services, error) {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return bootstrap.Services{}, err
	}
	log.Configure(log.Config{Level: cfg.Log.Level, Console: true})
	return bootstrap.Build(ctx, cfg, bootstrap.DefaultPlatform(cfg))
}

func startCoordinator(ctx context.Context, services bootstrap.Services) <-chan struct{} {
	var wg sync.WaitGroup
	if addr := services.Config.Debug.ListenAddr; addr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger := log.WithComponent("debug")
			if err := debug.NewServer(addr, services.Coordinator, logger).Run(ctx); err != nil {
				logger.Error().Err(err).Msg("debug server stopped")
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = services.Coordinator.Run(ctx)
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	return done
}

func readQuestions(ctx context.Context, in io.Reader, out io.Writer, submit func(string) error) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		if err := submit(text); err != nil {
			fmt.Fprintf(out, "! %v\n", err)
		}
	}
}

func firstID(current string, sources []domain.SourceDescriptor) string {
	if current != "" || len(sources) == 0 {
		return current
	}
	return sources[0].ID
}

func printSources(out io.Writer, snapshot domain.Snapshot) {
	fmt.Fprintln(out, "Audio:")
	for _, s := range snapshot.AudioSources {
		fmt.Fprintf(out, "  %-40s %s\n", s.ID, s.Name)
	}
	fmt.Fprintln(out, "Video:")
	for _, s := range snapshot.VideoSources {
		fmt.Fprintf(out, "  %-40s %s\n", s.ID, s.Name)
	}
	if snapshot.Errors.Capture != "" {
		fmt.Fprintf(out, "warning: %s\n", snapshot.Errors.Capture)
	}
}

// terminalSink prints state transitions, errors and new messages.
type terminalSink struct {
	out io.Writer

	state    domain.SessionState
	errs     domain.Errors
	messages int
}

func (s *terminalSink) SnapshotChanged(snapshot domain.Snapshot) {
	if snapshot.State != s.state {
		fmt.Fprintf(s.out, "[%s]\n", snapshot.State)
		s.state = snapshot.State
	}
	if snapshot.Errors != s.errs {
		for _, msg := range []string{snapshot.Errors.Connection, snapshot.Errors.Capture, snapshot.Errors.Backend} {
			if msg != "" {
				fmt.Fprintf(s.out, "! %s\n", msg)
			}
		}
		s.errs = snapshot.Errors
	}
	for _, msg := range snapshot.Messages[min(s.messages, len(snapshot.Messages)):] {
		if msg.Sender == domain.SenderAssistant {
			fmt.Fprintf(s.out, "assistant> %s\n", msg.Text)
		}
	}
	s.messages = len(snapshot.Messages)
}
