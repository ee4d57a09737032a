// Package lucee holds call-site adapters for the Lucee CFML engine: lock
// scopes, image tag operations and Java object calls. Each adapter is an
// apmz.Advice and only names spans; the hook contract lives in apmz.
package lucee

import (
	"strings"

	"github.com/zoobzio/apmz"
	"github.com/zoobzio/apmz/capture"
)

// SpanType is the type of every span created by this package.
const SpanType = "lucee"

// UnknownImage names image operations whose source cannot be described.
const UnknownImage = "Unknown Image"

// base64PreviewLen bounds the inline image payload shown in span names.
const base64PreviewLen = 50

// LockScope mirrors the scope constants of the Lucee lock tag.
type LockScope int

const (
	ScopeNone LockScope = iota
	ScopeServer
	ScopeApplication
	ScopeSession
	ScopeRequest
)

// LockType mirrors the type constants of the Lucee lock tag.
type LockType int

const (
	LockShared LockType = iota
	LockExclusive
)

// Lock traces the body of a cflock tag.
type Lock struct {
	Name  string
	ID    string
	Scope LockScope
	Type  LockType
}

var _ apmz.Advice = Lock{}

// Ready implements apmz.Advice. A lock always has a usable name.
func (Lock) Ready() bool { return true }

// Decorate implements apmz.Advice.
func (l Lock) Decorate(span *apmz.Span) {
	action := "exclusive"
	if l.Type == LockShared {
		action = "shared"
	}
	span.WithName("CFLock " + l.DisplayName()).
		WithType(SpanType).
		WithSubtype("lock").
		WithAction(action)
}

// DisplayName returns "scoped:<scope>" for scoped locks, "named:<name>" for
// named ones and "anonymous:id-<id>" otherwise.
func (l Lock) DisplayName() string {
	switch l.Scope {
	case ScopeServer:
		return "scoped:server"
	case ScopeApplication:
		return "scoped:application"
	case ScopeSession:
		return "scoped:session"
	case ScopeRequest:
		return "scoped:request"
	}
	if l.Name != "" {
		return "named:" + l.Name
	}
	return "anonymous:id-" + l.ID
}

// Image traces a cfimage tag. Source is a string, an inline base64 payload
// when Base64 is set, a capture.Resource, a capture.Path or an *os.File.
type Image struct {
	Source any
	Action string
	Base64 bool
}

var _ apmz.Advice = Image{}

// Ready implements apmz.Advice.
func (Image) Ready() bool { return true }

// Decorate implements apmz.Advice.
func (i Image) Decorate(span *apmz.Span) {
	span.WithName("cfImage " + i.Action + " on " + i.DisplayName()).
		WithType(SpanType).
		WithSubtype("image").
		WithAction(i.Action)
}

// DisplayName describes the image source, falling back to UnknownImage.
func (i Image) DisplayName() string {
	if s, ok := i.Source.(string); ok && i.Base64 {
		return capture.Base64Preview(s, base64PreviewLen)
	}
	return capture.DisplayPath(i.Source, UnknownImage)
}

// JavaCall traces a method call on a Java object from CFML.
type JavaCall struct {
	Class  string
	Method string
}

var _ apmz.Advice = JavaCall{}

// Ready implements apmz.Advice. Both the class and the method are required.
func (j JavaCall) Ready() bool {
	return j.Class != "" && j.Method != ""
}

// Decorate implements apmz.Advice.
func (j JavaCall) Decorate(span *apmz.Span) {
	var b strings.Builder
	b.Grow(len(j.Class) + len(j.Method) + 3)
	b.WriteString(j.Class)
	b.WriteByte('.')
	b.WriteString(j.Method)
	b.WriteString("()")

	span.WithName(b.String()).
		WithType(SpanType).
		WithSubtype("java").
		WithAction("call")
}
