package domain

import "errors"

var (
	ErrBoardNotFound    = errors.New("board not found")
	ErrSlideNotFound    = errors.New("slide not found")
	ErrElementNotFound  = errors.New("element not found")
	ErrElementExists    = errors.New("element id already exists")
	ErrInvalidElement   = errors.New("invalid element")
	ErrImmutableID      = errors.New("element id cannot be modified")
	ErrNotAppendable    = errors.New("property value is not a string")
	ErrForbidden        = errors.New("insufficient role")
	ErrNoAccess         = errors.New("no access to board")
	ErrSessionEnded     = errors.New("session ended")
	ErrMalformedBoardID = errors.New("malformed board id")
)
