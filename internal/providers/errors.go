package providers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
)

type Class string

const (
	ClassOK            Class = "ok"
	ClassRouteNotFound Class = "route_not_found"
	ClassNotFound      Class = "not_found"
	ClassAuth          Class = "auth"
	ClassValidation    Class = "validation"
	ClassRateLimited   Class = "rate_limited"
	ClassServer        Class = "server"
	ClassOther         Class = "other"
)

// StatusError is a non-2xx answer from an upstream.
type StatusError struct {
	Provider string
	Path     string
	Status   int
	Body     []byte
	Class    Class
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > 256 {
		body = body[:256]
	}
	return fmt.Sprintf("%s %s: http %d (%s): %s", e.Provider, e.Path, e.Status, e.Class, bytes.TrimSpace(body))
}

// Classify maps an upstream status to a failure class. It is the only place that
// decides whether the next candidate endpoint may be tried: 404 and 405 mean the
// route shape is wrong, unless the body says the addressed resource itself is missing.
func Classify(status int, body []byte) Class {
	switch {
	case status >= 200 && status < 300:
		return ClassOK
	case status == http.StatusNotFound || status == http.StatusMethodNotAllowed:
		if resourceMissing(body) {
			return ClassNotFound
		}
		return ClassRouteNotFound
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ClassAuth
	case status == http.StatusTooManyRequests:
		return ClassRateLimited
	case status == http.StatusRequestTimeout || status >= 500:
		return ClassServer
	case status >= 400:
		return ClassValidation
	}
	return ClassOther
}

// Substring heuristics; upstream 404 bodies are not versioned.
var resourceMissingMarkers = [][]byte{
	[]byte("does not exist"),
	[]byte("instance not found"),
	[]byte("resource could not be found"),
	[]byte("record not found"),
}

func resourceMissing(body []byte) bool {
	lower := bytes.ToLower(body)
	for _, m := range resourceMissingMarkers {
		if bytes.Contains(lower, m) {
			return true
		}
	}
	return false
}

func IsRouteNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Class == ClassRouteNotFound
}

func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && (se.Class == ClassNotFound || se.Class == ClassRouteNotFound)
}

// IsTransient reports failures worth a later redelivery: timeouts, connection
// failures, rate limiting, 5xx and an open breaker.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrBreakerOpen) || errors.Is(err, ErrRateLimited) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Class == ClassServer || se.Class == ClassRateLimited
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	// dial, read and reset failures; a bad URL or scheme is not a network failure
	var op *net.OpError
	if errors.As(err, &op) {
		return true
	}
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

// HTTPStatus extracts the upstream status for metrics, 0 when there was none.
func HTTPStatus(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	return 0
}
