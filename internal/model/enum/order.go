package enum

// OrderStatus pending, filled, partial, rejected, timeout unknown, canceled
type OrderStatus uint8

const (
	_order_status_beg OrderStatus = iota
	OrderStatusPending
	OrderStatusFilled
	OrderStatusPartial
	OrderStatusRejected
	OrderStatusTimeoutUnknown
	OrderStatusCanceled
	_order_status_end
)

func (s OrderStatus) IsAvailable() bool {
	return s > _order_status_beg && s < _order_status_end
}

// IsTerminal reports whether no further transition is expected from the broker.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusRejected, OrderStatusCanceled:
		return true
	default:
		return false
	}
}

func (s OrderStatus) String() string {
	switch s {
	case OrderStatusPending:
		return "PENDING"
	case OrderStatusFilled:
		return "FILLED"
	case OrderStatusPartial:
		return "PARTIAL"
	case OrderStatusRejected:
		return "REJECTED"
	case OrderStatusTimeoutUnknown:
		return "TIMEOUT_UNKNOWN"
	case OrderStatusCanceled:
		return "CANCELED"
	default:
		return "UNKNOWN"
	}
}

func (s OrderStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *OrderStatus) UnmarshalText(text []byte) error {
	if len(text) == 0 || string(text) == _order_status_beg.String() {
		*s = _order_status_beg
		return nil
	}
	for v := _order_status_beg + 1; v < _order_status_end; v++ {
		if v.String() == string(text) {
			*s = v
			return nil
		}
	}
	return errUnknownEnumText
}
