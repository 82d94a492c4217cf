// Package apperr holds the sentinel errors shared across tidsync packages.
package apperr

import "errors"

var (
	ErrInvalidInput   = errors.New("invalid input")
	ErrNotFound       = errors.New("not found")
	ErrOriginNotFound = errors.New("original tiddler not found")
	ErrNetwork        = errors.New("network error")
	ErrFileSystem     = errors.New("file system error")
	ErrNotConnected   = errors.New("push channel not connected")
	ErrChannelClosed  = errors.New("push channel closed abnormally")
)
