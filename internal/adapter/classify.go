package adapter

import (
	"context"
	"errors"
	"net"
	"syscall"

	"trader/pkg/exception"

	yerrors "github.com/yanun0323/errors"
)

// ClassifyTransport maps an http/net error to a broker sentinel. Failures that
// prove nothing left the client become ErrBrokerConnection; every other
// transport failure is ambiguous and becomes ErrBrokerTimeout.
func ClassifyTransport(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, exception.ErrBrokerConnection) ||
		errors.Is(err, exception.ErrBrokerTimeout) ||
		errors.Is(err, exception.ErrBrokerRejected) {
		return err
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return yerrors.Wrap(exception.ErrBrokerConnection, err.Error())
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return yerrors.Wrap(exception.ErrBrokerConnection, err.Error())
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return yerrors.Wrap(exception.ErrBrokerConnection, err.Error())
	}

	return yerrors.Wrap(exception.ErrBrokerTimeout, err.Error())
}

// IsTimeout reports whether err is an expired deadline rather than a cancellation.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, exception.ErrBrokerTimeout) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// ClassifyStatus maps an HTTP status code of a response that reached the
// platform. Any 4xx/5xx is a rejection after acceptance.
func ClassifyStatus(code int, msg string) error {
	if code >= 400 {
		return yerrors.Wrap(exception.ErrBrokerRejected, msg)
	}
	return nil
}
