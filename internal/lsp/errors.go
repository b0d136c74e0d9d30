package lsp

import "errors"

var (
	// ErrNoClient indicates no language server is attached for a path.
	ErrNoClient = errors.New("no lsp client attached")

	// ErrNotSupported indicates the server does not support the request.
	ErrNotSupported = errors.New("feature not supported by server")

	// ErrInvalidResponse indicates a result that could not be decoded.
	ErrInvalidResponse = errors.New("invalid lsp response")
)
