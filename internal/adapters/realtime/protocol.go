package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/gorilla/websocket"
)

// Client to server events.
const (
	EventJoinPackage  = "join:package"
	EventLeavePackage = "leave:package"
	EventClientPing   = "client:ping"
)

// Server to client events besides domain events.
const (
	EventHello = "hello"
	EventPong  = "server:pong"
	EventError = "error"
)

// Reasons carried by error frames and close messages.
const (
	ReasonUnauthorized   = "unauthorized"
	ReasonRateLimited    = "rate_limited"
	ReasonBadRequest     = "bad_request"
	ReasonUnknownEvent   = "unknown_event"
	ReasonSlowConsumer   = "slow_consumer"
	ReasonShuttingDown   = "shutting_down"
	ReasonInvalidPackage = "invalid_package"
)

// Close codes. 4xxx codes are application defined.
const (
	CloseUnauthorized = 4401
	CloseRateLimited  = 4429
	CloseSlowConsumer = websocket.CloseTryAgainLater
	CloseGoingAway    = websocket.CloseGoingAway
)

var errBadFrame = errors.New("bad frame")

// message is the envelope of every text frame in both directions.
type message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// encodeFrame renders a server to client frame.
func encodeFrame(name string, data any) ([]byte, error) {
	b, err := json.Marshal(outbound{Event: name, Data: data})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", name, err)
	}
	return b, nil
}

func decodeMessage(b []byte) (message, error) {
	var m message
	if err := json.Unmarshal(b, &m); err != nil {
		return message{}, fmt.Errorf("%w: %w", errBadFrame, err)
	}
	if m.Event == "" {
		return message{}, fmt.Errorf("%w: missing event", errBadFrame)
	}
	return m, nil
}

// packageID accepts either {"packageId": "..."} or a bare string.
func packageID(data json.RawMessage) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("%w: missing packageId", errBadFrame)
	}
	var id string
	if err := json.Unmarshal(data, &id); err != nil {
		var obj struct {
			PackageID string `json:"packageId"`
		}
		if err := json.Unmarshal(data, &obj); err != nil {
			return "", fmt.Errorf("%w: %w", errBadFrame, err)
		}
		id = obj.PackageID
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return "", fmt.Errorf("%w: empty packageId", errBadFrame)
	}
	return id, nil
}

type reasonData struct {
	Reason string `json:"reason"`
}

type helloData struct {
	Message string `json:"message"`
}

type pongData struct {
	Timestamp int64 `json:"timestamp"`
}
