package exception

import "github.com/yanun0323/errors"

// General errors
var (
	ErrNilInstance     = errors.New("nil instance")
	ErrInternal        = errors.New("internal error")
	ErrInResponseError = errors.New("there is an error in response error field")
	ErrDataIntegrity   = errors.New("data integrity: corrupt record")
)
