package pingpong

import "errors"

// Server side.
var (
	ErrBind    = errors.New("pingpong: bind failed")
	ErrAccept  = errors.New("pingpong: accept failed")
	ErrReceive = errors.New("pingpong: receive failed")
	ErrSend    = errors.New("pingpong: send failed")
)

// Client side. ErrClosedByPeer and ErrDecode both match ErrProtocol via errors.Is.
var (
	ErrConnect      = errors.New("pingpong: connect failed")
	ErrProtocol     = errors.New("pingpong: protocol error")
	ErrClosedByPeer = &protocolError{msg: "pingpong: connection closed by peer"}
	ErrDecode       = &protocolError{msg: "pingpong: reply is not valid UTF-8"}
)

// protocolError is a sentinel that also reports itself as ErrProtocol.
type protocolError struct {
	msg string
}

func (e *protocolError) Error() string { return e.msg }

func (e *protocolError) Is(target error) bool { return target == ErrProtocol }
