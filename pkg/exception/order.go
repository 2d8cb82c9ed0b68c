package exception

import "github.com/yanun0323/errors"

var (
	ErrOrderInvalidRequest      = errors.New("order: invalid request")
	ErrOrderUnsupportedAction   = errors.New("order: unsupported action")
	ErrOrderUnsupportedPlatform = errors.New("order: unsupported platform")
	ErrOrderNilBroker           = errors.New("order: nil broker")
	ErrOrderInvalidWorkerConfig = errors.New("order: invalid worker config")
	ErrOrderQueueFull           = errors.New("order: queue full")
	ErrOrderPoolClosed          = errors.New("order: pool closed")
	ErrOrderNotFound            = errors.New("order: not found")
	ErrOrderDecodeResponseBody  = errors.New("order: decode response body")
	ErrOrderAmbiguousOutcome    = errors.New("order: outcome unknown after timeout")
	ErrOrderRetryExhausted      = errors.New("order: retry attempts exhausted")
)

// Broker adapters wrap their transport failures in exactly one of these.
var (
	ErrBrokerConnection = errors.New("broker: connection failed, request not sent")
	ErrBrokerTimeout    = errors.New("broker: request timed out")
	ErrBrokerRejected   = errors.New("broker: request rejected")
)
