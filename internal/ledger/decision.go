package ledger

import "trader/internal/model/enum"

// Effect is what an allowed action does to the position of an asset.
type Effect uint8

const (
	EffectNone Effect = iota
	EffectOpen
	EffectClose
)

func (e Effect) String() string {
	switch e {
	case EffectOpen:
		return "open"
	case EffectClose:
		return "close"
	default:
		return "none"
	}
}

// RejectReason explains why an action was not allowed.
type RejectReason string

const (
	ReasonNone          RejectReason = ""
	ReasonAlreadyLong   RejectReason = "already_long"
	ReasonAlreadyShort  RejectReason = "already_short"
	ReasonUnknownAction RejectReason = "unknown_action"
	ReasonUnknownSide   RejectReason = "unknown_side"
)

// Decision is the result of checking an action against the current side.
type Decision struct {
	Action  enum.Action
	Current enum.Side
	Allowed bool
	Effect  Effect
	Next    enum.Side // side after the action is applied
	Reason  RejectReason
}

// ValidateAction applies the per-asset transition table:
//
//	FLAT  + BUY  -> LONG   FLAT  + SELL -> SHORT
//	LONG  + SELL -> FLAT   LONG  + BUY  -> illegal
//	SHORT + BUY  -> FLAT   SHORT + SELL -> illegal
//	any   + HOLD -> unchanged
//
// An illegal action is reported, never executed; callers downgrade it to HOLD.
func ValidateAction(current enum.Side, proposed enum.Action) Decision {
	decision := Decision{
		Action:  proposed,
		Current: current,
		Next:    current,
	}

	if !current.IsAvailable() {
		decision.Reason = ReasonUnknownSide
		return decision
	}

	switch proposed {
	case enum.ActionHold:
		decision.Allowed = true
		return decision
	case enum.ActionBuy, enum.ActionSell:
	default:
		decision.Reason = ReasonUnknownAction
		return decision
	}

	switch current {
	case enum.SideFlat:
		decision.Allowed = true
		decision.Effect = EffectOpen
		decision.Next = proposed.OpenSide()
	case enum.SideLong:
		if proposed == enum.ActionBuy {
			decision.Reason = ReasonAlreadyLong
			return decision
		}
		decision.Allowed = true
		decision.Effect = EffectClose
		decision.Next = enum.SideFlat
	case enum.SideShort:
		if proposed == enum.ActionSell {
			decision.Reason = ReasonAlreadyShort
			return decision
		}
		decision.Allowed = true
		decision.Effect = EffectClose
		decision.Next = enum.SideFlat
	}
	return decision
}

// Downgrade returns the HOLD decision that replaces a rejected one.
func (d Decision) Downgrade() Decision {
	return Decision{
		Action:  enum.ActionHold,
		Current: d.Current,
		Allowed: true,
		Effect:  EffectNone,
		Next:    d.Current,
		Reason:  d.Reason,
	}
}
