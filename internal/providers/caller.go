package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"medrelay/internal/observability"
)

const maxResponseBytes = 1 << 20

// Candidate is one endpoint shape for an operation.
type Candidate struct {
	Method string
	Path   string
	Body   any
}

type Response struct {
	Path   string
	Status int
	Body   []byte
}

// Caller performs JSON requests against one upstream. Do walks an ordered list of
// candidates and moves on only when the failure classifies as ClassRouteNotFound;
// every other failure is returned as is.
type Caller struct {
	Provider string
	BaseURL  string
	HTTP     *http.Client
	Header   http.Header
	Guard    *Guard
	// Classify defaults to the package Classify.
	Classify func(status int, body []byte) Class
}

func (c *Caller) Do(ctx context.Context, op string, candidates ...Candidate) (Response, error) {
	var resp Response
	call := func(ctx context.Context) error {
		var err error
		resp, err = c.first(ctx, op, candidates)
		return err
	}
	var err error
	if c.Guard != nil {
		err = c.Guard.Do(ctx, call)
	} else {
		err = call(ctx)
	}
	return resp, err
}

func (c *Caller) first(ctx context.Context, op string, candidates []Candidate) (Response, error) {
	var lastErr error
	for i, cand := range candidates {
		start := time.Now()
		resp, err := c.once(ctx, cand)
		observability.ProviderLatency.WithLabelValues(c.Provider).Observe(time.Since(start).Seconds())

		if err == nil {
			observability.ProviderCalls.WithLabelValues(c.Provider, op, "ok", strconv.Itoa(resp.Status)).Inc()
			return resp, nil
		}
		observability.ProviderCalls.WithLabelValues(c.Provider, op, "error", strconv.Itoa(HTTPStatus(err))).Inc()
		lastErr = err

		if !IsRouteNotFound(err) || i == len(candidates)-1 {
			return resp, err
		}
		observability.EndpointFallbacks.WithLabelValues(c.Provider, op).Inc()
	}
	return Response{}, lastErr
}

func (c *Caller) once(ctx context.Context, cand Candidate) (Response, error) {
	var body io.Reader
	if cand.Body != nil {
		b, err := json.Marshal(cand.Body)
		if err != nil {
			return Response{}, err
		}
		body = bytes.NewReader(b)
	}
	method := cand.Method
	if method == "" {
		method = http.MethodPost
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.BaseURL, "/")+cand.Path, body)
	if err != nil {
		return Response{}, err
	}
	for k, vs := range c.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if cand.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	hc := c.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	res, err := hc.Do(req)
	if err != nil {
		return Response{Path: cand.Path}, err
	}
	defer res.Body.Close()
	b, _ := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))

	out := Response{Path: cand.Path, Status: res.StatusCode, Body: b}
	classify := c.Classify
	if classify == nil {
		classify = Classify
	}
	if class := classify(res.StatusCode, b); class != ClassOK {
		return out, &StatusError{Provider: c.Provider, Path: cand.Path, Status: res.StatusCode, Body: b, Class: class}
	}
	return out, nil
}
