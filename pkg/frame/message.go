package frame

import "time"

// Message is the decoded form of one or more frames: a complete PGN
// payload attributed to a source/destination pair, whether it arrived
// as a single frame or was reassembled by the transport protocol.
type Message struct {
	PGN         uint32
	Priority    uint8
	Source      uint8
	Destination uint8
	Payload     []byte
	Timestamp   time.Time
}

// IsBroadcast reports whether this message targets every node on the
// bus.
func (m Message) IsBroadcast() bool {
	return m.Destination == BroadcastAddress
}

// MessageFromFrame decodes a single CAN frame into a Message. Frames
// belonging to a multi-packet transport session are not decoded this
// way; the transport protocol assembles those into a Message itself
// once the full payload has arrived.
func MessageFromFrame(f Frame, timestamp time.Time) Message {
	payload := make([]byte, len(f.Payload()))
	copy(payload, f.Payload())
	return Message{
		PGN:         f.PGN(),
		Priority:    f.Priority(),
		Source:      f.Source(),
		Destination: f.Destination(),
		Payload:     payload,
		Timestamp:   timestamp,
	}
}
