package transport

import (
	"encoding/json"
	"strings"

	"github.com/gorilla/websocket"

	"liveassist/internal/domain"
)

const (
	typeStartSession = "start_session"
	typeStopSession  = "stop_session"
	typeUserMessage  = "user_message"
)

type startSessionFrame struct {
	Type   string `json:"type"`
	Prompt string `json:"prompt"`
}

type stopSessionFrame struct {
	Type string `json:"type"`
}

type userMessageFrame struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

type inboundFrame struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	Message string `json:"message"`
}

// StartSessionFrame encodes the handshake carrying the system prompt.
func StartSessionFrame(prompt string) []byte {
	return mustEncode(startSessionFrame{Type: typeStartSession, Prompt: prompt})
}

// StopSessionFrame encodes the session teardown notice.
func StopSessionFrame() []byte {
	return mustEncode(stopSessionFrame{Type: typeStopSession})
}

// UserMessageFrame encodes a typed user message.
func UserMessageFrame(content string) []byte {
	return mustEncode(userMessageFrame{Type: typeUserMessage, Content: content})
}

func mustEncode(frame any) []byte {
	payload, err := json.Marshal(frame)
	if err != nil {
		// Only string fields; Marshal cannot fail.
		panic(err)
	}
	return payload
}

// DecodeFrame demultiplexes one inbound websocket message.
func DecodeFrame(messageType int, payload []byte) domain.Frame {
	if messageType == websocket.BinaryMessage {
		return domain.Frame{Kind: domain.FrameBinary}
	}

	raw := string(payload)
	var frame inboundFrame
	if err := json.Unmarshal(payload, &frame); err != nil {
		return domain.Frame{
			Kind: domain.FrameMalformed,
			Raw:  raw,
			Err:  domain.NewError(domain.ErrorKindProtocol, "invalid message format from backend", err),
		}
	}

	switch strings.TrimSpace(frame.Type) {
	case string(domain.FrameTextResponse):
		return domain.Frame{Kind: domain.FrameTextResponse, Content: frame.Content, Raw: raw}
	case string(domain.FrameError):
		message := strings.TrimSpace(frame.Message)
		if message == "" {
			message = "backend returned an unknown error"
		}
		return domain.Frame{
			Kind:    domain.FrameError,
			Content: message,
			Raw:     raw,
			Err:     domain.NewError(domain.ErrorKindBackend, message, nil),
		}
	case string(domain.FrameSessionStarted):
		return domain.Frame{Kind: domain.FrameSessionStarted, Raw: raw}
	case string(domain.FrameSessionStopped):
		return domain.Frame{Kind: domain.FrameSessionStopped, Raw: raw}
	default:
		return domain.Frame{Kind: domain.FrameUnrecognized, Raw: raw}
	}
}
