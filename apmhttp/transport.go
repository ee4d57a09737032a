// Package apmhttp traces outgoing HTTP requests as exit spans.
package apmhttp

import (
	"net"
	"net/http"
	"strconv"

	"github.com/zoobzio/apmz"
)

// Transport is an http.RoundTripper that wraps each request in a span when
// the request context has an active span.
type Transport struct {
	tracer *apmz.Tracer
	base   http.RoundTripper
}

// WrapTransport returns a traced RoundTripper around base.
// A nil base means http.DefaultTransport.
func WrapTransport(tracer *apmz.Tracer, base http.RoundTripper) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &Transport{tracer: tracer, base: base}
}

// RoundTrip implements http.RoundTripper. Errors and responses from the
// wrapped transport are returned unchanged.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	span := apmz.OnEnter(ctx, t.tracer, request{req})
	if span == nil {
		return t.base.RoundTrip(req)
	}

	var (
		resp *http.Response
		err  error
	)
	defer func() {
		if r := recover(); r != nil {
			span.CapturePanic(r)
			apmz.OnExit(span, nil)
			panic(r)
		}
		if resp != nil {
			span.Context().HTTP().WithStatusCode(resp.StatusCode)
			if resp.StatusCode >= http.StatusBadRequest {
				span.WithOutcome(apmz.OutcomeFailure)
			}
		}
		apmz.OnExit(span, err)
	}()

	resp, err = t.base.RoundTrip(req)
	return resp, err
}

// request is the Advice for one outgoing request.
type request struct {
	req *http.Request
}

func (r request) Ready() bool {
	return r.req != nil && r.req.URL != nil
}

func (r request) Decorate(span *apmz.Span) {
	req := r.req
	host := req.URL.Host
	if host == "" {
		host = req.Host
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	hostname, portStr, err := net.SplitHostPort(host)
	if err != nil {
		hostname = host
		portStr = ""
	}
	port, _ := strconv.Atoi(portStr)
	if port == 0 {
		switch req.URL.Scheme {
		case "https":
			port = 443
		case "http":
			port = 80
		}
	}

	span.WithName(method + " " + hostname).
		WithType("external").
		WithSubtype("http").
		WithAction(method)

	sc := span.Context()
	sc.HTTP().WithMethod(method).WithURL(req.URL.Redacted())

	resource := hostname
	if port > 0 {
		resource = net.JoinHostPort(hostname, strconv.Itoa(port))
	}
	sc.Destination().
		WithAddress(hostname).
		WithPort(port).
		WithResource(resource)
}
