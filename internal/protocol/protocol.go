// Package protocol defines the JSON messages exchanged over the turtle link.
package protocol

import "encoding/json"

const Version = "1.0"

// Message types.
const (
	TypeHello    = "HELLO"
	TypeWelcome  = "WELCOME"
	TypeRequest  = "REQ"
	TypeResponse = "RESP"
)

// Request ops.
const (
	OpForward   = "forward"
	OpBack      = "back"
	OpUp        = "up"
	OpDown      = "down"
	OpTurnLeft  = "turnLeft"
	OpTurnRight = "turnRight"
	OpDig       = "dig"
	OpFuel      = "fuel"
	OpHazard    = "hazard"
	OpLocate    = "locate"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
