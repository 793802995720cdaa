package dburl

import "errors"

var (
	ErrInvalidURL       = errors.New("invalid database url")
	ErrInvalidHost      = errors.New("invalid host")
	ErrEmptyHost        = errors.New("empty host")
	ErrInvalidPort      = errors.New("invalid port")
	ErrMixedMultihost   = errors.New("can't mix multihost formats")
	ErrHostPortMismatch = errors.New("number of hosts and ports don't match")
	ErrAmbiguousHost    = errors.New("host given in both url authority and query string")
)
