package domain

import "errors"

var (
	ErrUnknownAction = errors.New("unknown action type")
)

func IsUnknownActionError(err error) bool {
	return errors.Is(err, ErrUnknownAction)
}
