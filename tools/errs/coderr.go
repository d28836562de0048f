// Package errs defines the coded errors the chat transport hands to its
// callers. Transport-level connectivity problems never surface here (they
// are absorbed into channel status); these codes cover business outcomes
// and auth failures that must be distinguishable upstream.
package errs

import (
	"encoding/json"

	"github.com/pkg/errors"
)

const (
	CodeAlreadyAttended = 1001 // claim lost: another agent holds the session
	CodeNotHolder       = 1002 // release/close by a non-holding agent
	CodeSessionClosed   = 1003
	CodeSessionNotFound = 1004
	CodeAuthExpired     = 1101 // token expired, never retried as connectivity
	CodeAuthRejected    = 1102
	CodeBadRequest      = 1201
	CodeInternal        = 1500
)

// CodeError travels over the REST surface unmodified, so the client can show
// the server's human-readable reason verbatim. Agent carries attribution for
// claim conflicts when the backend knows who holds the session.
type CodeError struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Detail string `json:"detail,omitempty"`
	Agent  *Actor `json:"agent,omitempty"`
}

// Actor is the attending-agent attribution attached to claim conflicts.
type Actor struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

func New(code int, msg string) *CodeError {
	return &CodeError{Code: code, Msg: msg}
}

func (e *CodeError) Error() string {
	if e.Detail != "" {
		return e.Msg + ": " + e.Detail
	}
	return e.Msg
}

func (e *CodeError) WithDetail(detail string) *CodeError {
	c := *e
	if c.Detail == "" {
		c.Detail = detail
	} else {
		c.Detail += ", " + detail
	}
	return &c
}

func (e *CodeError) WithAgent(a *Actor) *CodeError {
	c := *e
	c.Agent = a
	return &c
}

// Parse rebuilds a CodeError from a REST error body. Bodies that are not
// coded errors come back as CodeInternal with the raw text as detail.
func Parse(body []byte) *CodeError {
	var ce CodeError
	if err := json.Unmarshal(body, &ce); err == nil && ce.Code != 0 {
		return &ce
	}
	return New(CodeInternal, "unexpected server error").WithDetail(string(body))
}

// Code extracts the code from any error in a wrap chain, 0 when none.
func Code(err error) int {
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return 0
}

func IsAlreadyAttended(err error) bool { return Code(err) == CodeAlreadyAttended }
func IsNotHolder(err error) bool       { return Code(err) == CodeNotHolder }
func IsAuthFailure(err error) bool {
	c := Code(err)
	return c == CodeAuthExpired || c == CodeAuthRejected
}

// AttendingAgent returns the attribution attached to a claim conflict, nil
// when the server did not provide one.
func AttendingAgent(err error) *Actor {
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce.Agent
	}
	return nil
}
