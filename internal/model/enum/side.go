package enum

import "github.com/yanun0323/errors"

var errUnknownEnumText = errors.New("enum: unknown text")

// Every UnmarshalText accepts the empty string and the String() of the zero
// value, so that a zero enum written by MarshalText reads back.

// Side flat, long, short
type Side uint8

const (
	_side_beg Side = iota
	SideFlat
	SideLong
	SideShort
	_side_end
)

func (s Side) IsAvailable() bool {
	return s > _side_beg && s < _side_end
}

func (s Side) String() string {
	switch s {
	case SideFlat:
		return "FLAT"
	case SideLong:
		return "LONG"
	case SideShort:
		return "SHORT"
	default:
		return "UNKNOWN"
	}
}

func (s Side) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Side) UnmarshalText(text []byte) error {
	switch string(text) {
	case "", "UNKNOWN":
		*s = _side_beg
	case "FLAT":
		*s = SideFlat
	case "LONG":
		*s = SideLong
	case "SHORT":
		*s = SideShort
	default:
		return errors.Wrap(errUnknownEnumText, "side "+string(text))
	}
	return nil
}

// Action hold, buy, sell
type Action uint8

const (
	_action_beg Action = iota
	ActionHold
	ActionBuy
	ActionSell
	_action_end
)

func (a Action) IsAvailable() bool {
	return a > _action_beg && a < _action_end
}

func (a Action) String() string {
	switch a {
	case ActionHold:
		return "HOLD"
	case ActionBuy:
		return "BUY"
	case ActionSell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

func (a Action) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Action) UnmarshalText(text []byte) error {
	switch string(text) {
	case "", "UNKNOWN":
		*a = _action_beg
	case "HOLD", "hold":
		*a = ActionHold
	case "BUY", "buy":
		*a = ActionBuy
	case "SELL", "sell":
		*a = ActionSell
	default:
		return errors.Wrap(errUnknownEnumText, "action "+string(text))
	}
	return nil
}

// OpenSide returns the position side that this action opens from flat.
func (a Action) OpenSide() Side {
	switch a {
	case ActionBuy:
		return SideLong
	case ActionSell:
		return SideShort
	default:
		return SideFlat
	}
}

// CloseAction returns the action that closes a position on side s.
func CloseAction(s Side) Action {
	switch s {
	case SideLong:
		return ActionSell
	case SideShort:
		return ActionBuy
	default:
		return ActionHold
	}
}

// Intent open, close
type Intent uint8

const (
	_intent_beg Intent = iota
	IntentOpen
	IntentClose
	_intent_end
)

func (i Intent) IsAvailable() bool {
	return i > _intent_beg && i < _intent_end
}

func (i Intent) String() string {
	switch i {
	case IntentOpen:
		return "OPEN"
	case IntentClose:
		return "CLOSE"
	default:
		return "UNKNOWN"
	}
}

func (i Intent) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

func (i *Intent) UnmarshalText(text []byte) error {
	switch string(text) {
	case "", "UNKNOWN":
		*i = _intent_beg
	case "OPEN":
		*i = IntentOpen
	case "CLOSE":
		*i = IntentClose
	default:
		return errors.Wrap(errUnknownEnumText, "intent "+string(text))
	}
	return nil
}
