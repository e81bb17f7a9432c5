package protocol

import "turtlecraft.ai/internal/turtle"

// HELLO (navigator -> turtle host)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ClientName      string `json:"client_name"`
	Session         string `json:"session,omitempty"`
}

// WELCOME (turtle host -> navigator)
type WelcomeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	TurtleID        string `json:"turtle_id"`
	SessionID       string `json:"session_id"`
}

// REQ asks the turtle for one primitive or reading. Dir is set for dig and
// hazard only.
type RequestMsg struct {
	Type            string           `json:"type"`
	ProtocolVersion string           `json:"protocol_version"`
	ID              string           `json:"id"`
	Op              string           `json:"op"`
	Dir             turtle.Direction `json:"dir,omitempty"`
}

// RESP answers the REQ with the same ID. OK=false carries Code and Message.
type ResponseMsg struct {
	Type            string         `json:"type"`
	ProtocolVersion string         `json:"protocol_version"`
	ID              string         `json:"id"`
	OK              bool           `json:"ok"`
	Code            string         `json:"code,omitempty"`
	Message         string         `json:"message,omitempty"`
	Fuel            *turtle.Fuel   `json:"fuel,omitempty"`
	Hazard          *turtle.Hazard `json:"hazard,omitempty"`
	Pos             *[3]int        `json:"pos,omitempty"`
}

func NewRequest(id, op string, dir turtle.Direction) RequestMsg {
	return RequestMsg{Type: TypeRequest, ProtocolVersion: Version, ID: id, Op: op, Dir: dir}
}

func OKResponse(id string) ResponseMsg {
	return ResponseMsg{Type: TypeResponse, ProtocolVersion: Version, ID: id, OK: true}
}

func ErrorResponse(id, code, msg string) ResponseMsg {
	return ResponseMsg{Type: TypeResponse, ProtocolVersion: Version, ID: id, Code: code, Message: msg}
}

// ActionOp maps a movement action to its link op.
func ActionOp(a turtle.Action) string {
	// Action names double as op names.
	return string(a)
}

func IsMoveOp(op string) bool {
	switch op {
	case OpForward, OpBack, OpUp, OpDown, OpTurnLeft, OpTurnRight:
		return true
	}
	return false
}
