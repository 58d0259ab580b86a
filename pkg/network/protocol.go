// pkg/network/protocol.go
package network

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/opd-ai/go-subsim/pkg/engine"
)

// MessageType defines the type of network message
type MessageType byte

const (
	ConnectRequest MessageType = iota
	ConnectResponse
	DisconnectNotification
	StateUpdate
	ControlInput
	ResumeRequest
	DepthAlert
	ControlRejected
	PingRequest
	PingResponse
)

var messageNames = map[MessageType]string{
	ConnectRequest:         "connect_request",
	ConnectResponse:        "connect_response",
	DisconnectNotification: "disconnect",
	StateUpdate:            "state_update",
	ControlInput:           "control_input",
	ResumeRequest:          "resume_request",
	DepthAlert:             "depth_alert",
	ControlRejected:        "control_rejected",
	PingRequest:            "ping_request",
	PingResponse:           "ping_response",
}

func (t MessageType) String() string {
	if name, ok := messageNames[t]; ok {
		return name
	}
	return fmt.Sprintf("message(%d)", byte(t))
}

// MaxFrameBody is the largest body a uint16 length prefix can carry
const MaxFrameBody = 65535

// ErrMessageTooLarge is returned when a body does not fit a frame
var ErrMessageTooLarge = errors.New("message too large")

// ConnectPayload opens a helm session
type ConnectPayload struct {
	PilotName string `json:"pilotName"`
}

// ConnectReply answers a ConnectPayload
type ConnectReply struct {
	Success       bool    `json:"success"`
	Error         string  `json:"error,omitempty"`
	ClientID      uint64  `json:"clientID,omitempty"`
	PilotName     string  `json:"pilotName,omitempty"`
	Mode          string  `json:"mode,omitempty"`
	UpdateRate    int     `json:"updateRate,omitempty"`
	TicksPerState int     `json:"ticksPerState,omitempty"`
	WarningDepth  float64 `json:"warningDepth,omitempty"`
}

// DepthAlertData reports the depth safety lock engaging or clearing
type DepthAlertData struct {
	Tick         uint64  `json:"tick"`
	Depth        float64 `json:"depth"`
	WarningDepth float64 `json:"warningDepth"`
	Locked       bool    `json:"locked"`
}

// RejectionData explains why a control input was not applied
type RejectionData struct {
	Reason string `json:"reason"`
}

// DisconnectData carries an optional reason for closing the connection
type DisconnectData struct {
	Reason string `json:"reason,omitempty"`
}

// ControlInputData is the helm's control panel as sent over the wire
type ControlInputData = engine.ControlInputs

// WriteMessage frames msg as type byte, big-endian uint16 length and JSON body
func WriteMessage(w io.Writer, msgType MessageType, msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", msgType, err)
	}
	return WriteFrame(w, msgType, data)
}

// WriteFrame writes an already encoded body in a single write
func WriteFrame(w io.Writer, msgType MessageType, data []byte) error {
	if len(data) > MaxFrameBody {
		return fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, len(data))
	}
	frame := make([]byte, 3+len(data))
	frame[0] = byte(msgType)
	binary.BigEndian.PutUint16(frame[1:3], uint16(len(data)))
	copy(frame[3:], data)
	_, err := w.Write(frame)
	return err
}

// ReadMessage reads one frame and returns its type and body
func ReadMessage(r io.Reader) (MessageType, []byte, error) {
	var header [3]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, nil, err
	}
	data := make([]byte, binary.BigEndian.Uint16(header[1:3]))
	if _, err := io.ReadFull(r, data); err != nil {
		return 0, nil, err
	}
	return MessageType(header[0]), data, nil
}

// pingStamp is the body of ping requests, echoed back unchanged
type pingStamp struct {
	Sent time.Time `json:"sent"`
}
