// Package toolerr defines the error taxonomy shared by tool adapters, the
// MCP protocol layer, and the orchestrator. Every failure a tool can produce
// maps to exactly one stable wire code so that errors survive the protocol
// round trip and the reasoning step can adapt to them.
package toolerr

import (
	"errors"
	"fmt"
)

// Wire codes. These are part of the MCP contract and must not change.
const (
	CodeInvalidArgument      = "invalid_argument"
	CodeQuery                = "query"
	CodePermission           = "permission"
	CodeConnection           = "connection"
	CodeTimeout              = "timeout"
	CodeNotFound             = "not_found"
	CodeRateLimited          = "rate_limited"
	CodeFetch                = "fetch"
	CodeTooLarge             = "too_large"
	CodeResourceExhausted    = "resource_exhausted"
	CodeReasoningUnavailable = "reasoning_unavailable"
	CodeUnknownTool          = "unknown_tool"
	CodeInternal             = "internal"
)

// Sentinels, one per code. Callers classify with errors.Is.
var (
	ErrInvalidArgument      = errors.New("invalid argument")
	ErrQuery                = errors.New("query failed")
	ErrPermission           = errors.New("statement not permitted")
	ErrConnection           = errors.New("connection failed")
	ErrTimeout              = errors.New("deadline exceeded")
	ErrNotFound             = errors.New("not found")
	ErrRateLimited          = errors.New("rate limited by upstream")
	ErrFetch                = errors.New("fetch failed")
	ErrTooLarge             = errors.New("content exceeds size ceiling")
	ErrResourceExhausted    = errors.New("resource exhausted")
	ErrReasoningUnavailable = errors.New("reasoning step unavailable")
	ErrUnknownTool          = errors.New("unknown tool")
	ErrInternal             = errors.New("internal error")
)

var sentinelByCode = map[string]error{
	CodeInvalidArgument:      ErrInvalidArgument,
	CodeQuery:                ErrQuery,
	CodePermission:           ErrPermission,
	CodeConnection:           ErrConnection,
	CodeTimeout:              ErrTimeout,
	CodeNotFound:             ErrNotFound,
	CodeRateLimited:          ErrRateLimited,
	CodeFetch:                ErrFetch,
	CodeTooLarge:             ErrTooLarge,
	CodeResourceExhausted:    ErrResourceExhausted,
	CodeReasoningUnavailable: ErrReasoningUnavailable,
	CodeUnknownTool:          ErrUnknownTool,
	CodeInternal:             ErrInternal,
}

// Code returns the wire code for err, or CodeInternal when the error does not
// belong to the taxonomy.
func Code(err error) string {
	for code, sentinel := range sentinelByCode {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return CodeInternal
}

// FromCode reconstructs a taxonomy error from a wire code and message, used
// by the MCP client when decoding error responses. Unknown codes come back
// as plain errors so they are never silently retried.
func FromCode(code, message string) error {
	sentinel, ok := sentinelByCode[code]
	if !ok {
		return fmt.Errorf("%s: %s", code, message)
	}
	if message == "" {
		return sentinel
	}
	return fmt.Errorf("%s: %w", message, sentinel)
}

// Retryable reports whether a failure may be retried safely. Only transport
// level failures qualify; everything else either already happened
// (validation, permission) or will deterministically happen again.
func Retryable(err error) bool {
	return errors.Is(err, ErrConnection) || errors.Is(err, ErrTimeout)
}
