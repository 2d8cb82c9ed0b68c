package exception

import "github.com/yanun0323/errors"

var (
	ErrPendingNotFound     = errors.New("reconcile: pending order not found")
	ErrPendingDuplicate    = errors.New("reconcile: pending order already tracked")
	ErrPendingResolved     = errors.New("reconcile: order already reconciled")
	ErrPendingEmptyOrderID = errors.New("reconcile: empty order id")
	ErrReconcilerRunning   = errors.New("reconcile: already running")
	ErrStoreLocked         = errors.New("storage: lock unavailable")
)
