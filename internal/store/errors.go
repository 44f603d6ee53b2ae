package store

import "errors"

var (
	ErrInvalidPath = errors.New("path segments cannot be empty")
	ErrStoreClosed = errors.New("store is closed")
)
