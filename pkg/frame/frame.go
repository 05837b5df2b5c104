// Package frame implements the CAN frame boundary shared by every other
// package in this module: the 29-bit identifier, the 0-8 byte payload,
// and the Bus interface used to reach a real or virtual CAN network.
package frame

import "fmt"

// ErrInvalidFrame is returned when a raw identifier or payload cannot be
// decoded into a well-formed Frame.
var ErrInvalidFrame = fmt.Errorf("frame: invalid frame")

// NullAddress and BroadcastAddress are the two reserved 8-bit addresses.
const (
	NullAddress      uint8 = 0xFE
	BroadcastAddress uint8 = 0xFF
)

// Frame is a single CAN frame: a 29-bit extended identifier and up to 8
// bytes of payload. Flags carries bus-level metadata (RTR, error frame)
// that the codec does not interpret.
type Frame struct {
	ID    uint32
	Flags uint8
	DLC   uint8
	Data  [8]byte
}

// NewFrame builds a raw Frame from an already-packed 29-bit identifier.
func NewFrame(id uint32, dlc uint8) Frame {
	return Frame{ID: id & 0x1FFFFFFF, DLC: dlc}
}

// Payload returns the frame's data truncated to its declared length.
func (f Frame) Payload() []byte {
	n := f.DLC
	if n > 8 {
		n = 8
	}
	return f.Data[:n]
}

// FrameListener receives frames delivered by a Bus.
type FrameListener interface {
	Handle(f Frame)
}

// FrameListenerFunc adapts a plain function to a FrameListener.
type FrameListenerFunc func(f Frame)

func (fn FrameListenerFunc) Handle(f Frame) { fn(f) }

// Bus is the boundary to the CAN driver. It is
// deliberately minimal: connect, disconnect, send, and subscribe to
// all received frames. Implementations must not reorder frames
// belonging to the same (source, destination) pair.
type Bus interface {
	Connect(...any) error
	Disconnect() error
	Send(f Frame) error
	Subscribe(listener FrameListener) error
}

// NewBusFunc constructs a Bus backend for a given channel string.
type NewBusFunc func(channel string) (Bus, error)

var registry = make(map[string]NewBusFunc)

// RegisterInterface registers a Bus backend under a name, to be called
// from an init() function in the backend's package.
func RegisterInterface(name string, ctor NewBusFunc) {
	registry[name] = ctor
}

// NewBus constructs a registered Bus backend by name.
func NewBus(name, channel string) (Bus, error) {
	ctor, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("frame: unsupported bus interface %q", name)
	}
	return ctor(channel)
}
