package network

import "errors"

// Sentinel errors returned by Manager operations.
var (
	ErrAddressClaimFailed = errors.New("network: address claim failed")
	ErrNotClaimed         = errors.New("network: control function has not claimed an address")
	ErrTransportFailure   = errors.New("network: transport failure sending multi-frame payload")
	ErrBusError           = errors.New("network: bus error")
	ErrNoTransport        = errors.New("network: no transport coordinator configured for multi-frame payload")
	ErrUnknownControlFunc = errors.New("network: unknown control function")
	ErrInvalidState       = errors.New("network: invalid state for requested operation")
)
