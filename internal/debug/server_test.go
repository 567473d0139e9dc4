package debug

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"liveassist/internal/domain"
	"liveassist/internal/metrics"
)

type staticSnapshot domain.Snapshot

func (s staticSnapshot) Snapshot() domain.Snapshot { return domain.Snapshot(s) }

func TestHandlerRoutes(t *testing.T) {
	t.Parallel()

	snapshot := staticSnapshot{
		State:            domain.SessionStateActive,
		ConnectionStatus: domain.ConnectionConnected,
		Capturing:        true,
		Messages:         []domain.Message{{ID: "1", Text: "hi", Sender: domain.SenderAssistant}},
	}
	server := httptest.NewServer(NewServer("", snapshot, zerolog.Nop()).Handler())
	defer server.Close()

	resp, err := http.Get(server.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(server.URL + "/snapshot")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var decoded domain.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	assert.Equal(t, domain.SessionStateActive, decoded.State)
	require.Len(t, decoded.Messages, 1)
	assert.Equal(t, "hi", decoded.Messages[0].Text)
}

func TestMetricsEndpointExposesSessionMetrics(t *testing.T) {
	t.Parallel()

	metrics.SetState(string(domain.SessionStateIdle))
	server := httptest.NewServer(NewServer("", staticSnapshot{}, zerolog.Nop()).Handler())
	defer server.Close()

	resp, err := http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "liveassist_session_state")
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- NewServer("127.0.0.1:0", staticSnapshot{}, zerolog.Nop()).Run(ctx)
	}()

	cancel()
	assert.NoError(t, <-done)
}
