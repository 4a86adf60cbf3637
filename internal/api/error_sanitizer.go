package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/aws/smithy-go"

	"github.com/ignite/formbridge/internal/codegen"
	"github.com/ignite/formbridge/internal/pkg/logger"
)

// Public messages for 5xx responses.
const (
	msgUnavailable = "Service temporarily unavailable"
	msgTimeout     = "Request timed out"
	msgStorage     = "Artifact storage error"
	msgRender      = "Template rendering failed"
	msgInternal    = "An internal error occurred"
)

// respondSafeError logs the full error and answers with a message safe for
// clients. 5xx bodies never carry err.Error().
func respondSafeError(w http.ResponseWriter, code int, internalErr error, publicMsg string) {
	if publicMsg == "" {
		publicMsg = safeErrorMessage(code, internalErr)
	}
	if internalErr != nil {
		logger.Named("api").Error(publicMsg, "status", code, "error", internalErr.Error())
	}
	respondError(w, code, publicMsg)
}

// safeErrorMessage picks the public message for an error. 4xx errors describe
// the caller's input and pass through unchanged.
func safeErrorMessage(code int, internalErr error) string {
	if code < 500 {
		if internalErr != nil {
			return internalErr.Error()
		}
		return "Bad request"
	}
	if internalErr == nil {
		return msgInternal
	}
	if msg, ok := classifyTyped(internalErr); ok {
		return msg
	}
	return classifyText(strings.ToLower(internalErr.Error()))
}

func classifyTyped(err error) (string, bool) {
	var netErr net.Error
	var apiErr smithy.APIError
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return msgTimeout, true
	case errors.As(err, &netErr) && netErr.Timeout():
		return msgTimeout, true
	case errors.As(err, &apiErr):
		return msgStorage, true
	case errors.Is(err, codegen.ErrRender):
		return msgRender, true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return msgUnavailable, true
	}
	return "", false
}

// classifyText handles errors that lost their type on the way up, e.g. ones
// flattened by a driver.
func classifyText(s string) string {
	switch {
	case strings.Contains(s, "connection refused"), strings.Contains(s, "no such host"), strings.Contains(s, "dial tcp"):
		return msgUnavailable
	case strings.Contains(s, "timeout"), strings.Contains(s, "deadline exceeded"):
		return msgTimeout
	case strings.Contains(s, "nosuchbucket"), strings.Contains(s, "accessdenied"):
		return msgStorage
	case strings.Contains(s, "liquid"), strings.Contains(s, "rendering"):
		return msgRender
	}
	return msgInternal
}
