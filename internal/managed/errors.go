package managed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"

	"github.com/parthhkdigiverse/expense-tracker/internal/backend"
	"github.com/parthhkdigiverse/expense-tracker/internal/catalog"
	"github.com/parthhkdigiverse/expense-tracker/internal/identity"
)

// GatewayError is the error body the REST gateway returns.
type GatewayError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Hint    string `json:"hint,omitempty"`

	Status int `json:"-"`
}

func (e *GatewayError) Error() string {
	msg := fmt.Sprintf("gateway %d", e.Status)
	if e.Code != "" {
		msg += " " + e.Code
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// SQLSTATE codes and gateway codes surfaced in error bodies.
const (
	CodeUniqueViolation     = "23505"
	CodeForeignKeyViolation = "23503"
	CodeCheckViolation      = "23514"
	CodeNotNullViolation    = "23502"
	CodeInsufficientPriv    = "42501"
	CodeInvalidText         = "22P02"
	CodeJWTInvalid          = "PGRST301"
	CodeUnknownRelation     = "PGRST205"
)

var (
	constraintPattern = regexp.MustCompile(`constraint "([^"]+)"`)
	columnPattern     = regexp.MustCompile(`column "([^"]+)"`)
)

func decodeGatewayError(status int, body []byte) *GatewayError {
	ge := &GatewayError{Status: status}
	if err := json.Unmarshal(body, ge); err != nil || (ge.Code == "" && ge.Message == "") {
		ge.Message = http.StatusText(status)
	}
	return ge
}

// mapGatewayError converts a non-2xx response into the backend taxonomy.
func mapGatewayError(t *catalog.Table, ge *GatewayError) error {
	name := ""
	if t != nil {
		name = t.Name
	}

	switch ge.Code {
	case CodeUniqueViolation, CodeForeignKeyViolation, CodeCheckViolation:
		return constraintError(t, name, ge)
	case CodeNotNullViolation:
		var cols []string
		if m := columnPattern.FindStringSubmatch(ge.Message); m != nil {
			cols = []string{m[1]}
		}
		return backend.Constraint(name, "", cols, ge)
	case CodeInsufficientPriv:
		return backend.Forbidden(name, "request")
	case CodeInvalidText:
		return backend.Invalid(name, "%s", ge.Message)
	}

	switch {
	case ge.Status == http.StatusUnauthorized:
		return backend.Unauthorized(fmt.Errorf("%w: %s", identity.ErrUnauthorized, ge.Message))
	case ge.Status == http.StatusForbidden:
		return backend.Forbidden(name, "request")
	case ge.Status == http.StatusConflict:
		return constraintError(t, name, ge)
	case ge.Status == http.StatusTooManyRequests, ge.Status >= 500:
		return backend.Unavailable(ge)
	default:
		return backend.Invalid(name, "%s", ge.Message)
	}
}

func constraintError(t *catalog.Table, name string, ge *GatewayError) error {
	constraint := ""
	if m := constraintPattern.FindStringSubmatch(ge.Message); m != nil {
		constraint = m[1]
	}
	var cols []string
	if t != nil && constraint != "" {
		cols = t.ConstraintColumns(constraint)
	}
	return backend.Constraint(name, constraint, cols, ge)
}

// mapTransportError classifies a failure to complete the round trip.
func mapTransportError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return backend.Unavailable(err)
}
