package apmz

import (
	"strconv"
	"strings"
)

// MaxBodyCapture bounds the number of request body bytes kept per span.
const MaxBodyCapture = 1024

// URL describes the target of an HTTP span.
// The raw URL may be set as-is, in which case the parts stay empty.
type URL struct {
	full     string
	protocol string
	hostname string
	port     int
	pathname string
	search   string
}

// WithFull stores the complete URL without parsing it.
func (u *URL) WithFull(full string) *URL {
	u.full = full
	return u
}

// WithProtocol sets the scheme, without the trailing colon.
func (u *URL) WithProtocol(protocol string) *URL {
	u.protocol = protocol
	return u
}

// WithHostname sets the host name.
func (u *URL) WithHostname(hostname string) *URL {
	u.hostname = hostname
	return u
}

// WithPort sets the port. Non-positive values unset it.
func (u *URL) WithPort(port int) *URL {
	if port < 0 {
		port = 0
	}
	u.port = port
	return u
}

// WithPathname sets the path.
func (u *URL) WithPathname(pathname string) *URL {
	u.pathname = pathname
	return u
}

// WithSearch sets the query string, without the leading question mark.
func (u *URL) WithSearch(search string) *URL {
	u.search = search
	return u
}

// Protocol returns the scheme.
func (u *URL) Protocol() string { return u.protocol }

// Hostname returns the host name.
func (u *URL) Hostname() string { return u.hostname }

// Port returns the port, or 0 when unset.
func (u *URL) Port() int { return u.port }

// Pathname returns the path.
func (u *URL) Pathname() string { return u.pathname }

// Search returns the query string.
func (u *URL) Search() string { return u.search }

// Full returns the raw URL if one was set, otherwise it is rebuilt from
// the individual parts.
func (u *URL) Full() string {
	if u.full != "" || !u.HasContent() {
		return u.full
	}

	var b strings.Builder
	if u.protocol != "" {
		b.WriteString(u.protocol)
		b.WriteString("://")
	}
	b.WriteString(u.hostname)
	if u.port > 0 {
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(u.port))
	}
	b.WriteString(u.pathname)
	if u.search != "" {
		b.WriteByte('?')
		b.WriteString(u.search)
	}
	return b.String()
}

// HasContent reports whether any field is set.
func (u *URL) HasContent() bool {
	return u.full != "" ||
		u.protocol != "" ||
		u.hostname != "" ||
		u.port > 0 ||
		u.pathname != "" ||
		u.search != ""
}

// ResetState implements Recyclable.
func (u *URL) ResetState() {
	*u = URL{}
}

// BodyCapture holds a bounded prefix of a request body.
// The buffer keeps its capacity across resets.
type BodyCapture struct {
	contentType string
	charset     string
	buf         []byte
	captured    bool
	truncated   bool
}

// MarkEligible records that the body of this request is being captured,
// even if it turns out to be empty.
func (b *BodyCapture) MarkEligible(contentType, charset string) *BodyCapture {
	b.captured = true
	b.contentType = contentType
	b.charset = charset
	return b
}

// Append copies p into the capture buffer up to MaxBodyCapture bytes.
func (b *BodyCapture) Append(p []byte) *BodyCapture {
	room := MaxBodyCapture - len(b.buf)
	if room <= 0 {
		if len(p) > 0 {
			b.truncated = true
		}
		return b
	}
	if len(p) > room {
		p = p[:room]
		b.truncated = true
	}
	b.buf = append(b.buf, p...)
	return b
}

// IsEligible reports whether capture was requested.
func (b *BodyCapture) IsEligible() bool { return b.captured }

// ContentType returns the captured content type.
func (b *BodyCapture) ContentType() string { return b.contentType }

// Charset returns the captured charset.
func (b *BodyCapture) Charset() string { return b.charset }

// Truncated reports whether bytes were dropped because of the size cap.
func (b *BodyCapture) Truncated() bool { return b.truncated }

// Body returns the captured bytes. The slice is only valid until the
// owning span is recycled.
func (b *BodyCapture) Body() []byte { return b.buf }

// HasContent reports whether anything was captured.
func (b *BodyCapture) HasContent() bool {
	return b.captured || len(b.buf) > 0
}

// ResetState implements Recyclable.
func (b *BodyCapture) ResetState() {
	buf := b.buf[:0]
	*b = BodyCapture{buf: buf}
}

// HTTP describes an HTTP exchange: the outgoing request of an exit span, or
// the request a transaction serves.
type HTTP struct {
	url         URL
	requestBody BodyCapture
	method      string
	statusCode  int
}

// URL returns the request URL as a string.
func (h *HTTP) URL() string {
	return h.url.Full()
}

// InternalURL exposes the structured URL record for call-sites that fill
// the individual parts.
func (h *HTTP) InternalURL() *URL {
	return &h.url
}

// Method returns the request method.
func (h *HTTP) Method() string { return h.method }

// StatusCode returns the response status, or 0 when unknown.
func (h *HTTP) StatusCode() int { return h.statusCode }

// RequestBody returns the body capture record.
func (h *HTTP) RequestBody() *BodyCapture {
	return &h.requestBody
}

// WithURL stores the complete URL. Empty input is ignored.
func (h *HTTP) WithURL(url string) *HTTP {
	if url != "" {
		h.url.WithFull(url)
	}
	return h
}

// WithMethod sets the request method.
func (h *HTTP) WithMethod(method string) *HTTP {
	h.method = method
	return h
}

// WithStatusCode sets the response status.
func (h *HTTP) WithStatusCode(code int) *HTTP {
	h.statusCode = code
	return h
}

// HasContent reports whether any field differs from its default.
func (h *HTTP) HasContent() bool {
	return h.url.HasContent() ||
		h.method != "" ||
		h.statusCode > 0 ||
		h.requestBody.HasContent()
}

// ResetState implements Recyclable.
func (h *HTTP) ResetState() {
	h.url.ResetState()
	h.requestBody.ResetState()
	h.method = ""
	h.statusCode = 0
}

// DB describes a database call.
type DB struct {
	instance     string
	statement    string
	dbType       string
	user         string
	rowsAffected int64
	hasRows      bool
}

// WithInstance sets the database instance name.
func (d *DB) WithInstance(instance string) *DB {
	d.instance = instance
	return d
}

// WithStatement sets the executed statement.
func (d *DB) WithStatement(statement string) *DB {
	d.statement = statement
	return d
}

// WithType sets the database type, e.g. "sql".
func (d *DB) WithType(dbType string) *DB {
	d.dbType = dbType
	return d
}

// WithUser sets the database user.
func (d *DB) WithUser(user string) *DB {
	d.user = user
	return d
}

// WithRowsAffected sets the number of affected rows.
func (d *DB) WithRowsAffected(n int64) *DB {
	d.rowsAffected = n
	d.hasRows = true
	return d
}

// Instance returns the database instance name.
func (d *DB) Instance() string { return d.instance }

// Statement returns the executed statement.
func (d *DB) Statement() string { return d.statement }

// Type returns the database type.
func (d *DB) Type() string { return d.dbType }

// User returns the database user.
func (d *DB) User() string { return d.user }

// RowsAffected returns the affected row count and whether it was set.
func (d *DB) RowsAffected() (int64, bool) {
	return d.rowsAffected, d.hasRows
}

// HasContent reports whether any field differs from its default.
func (d *DB) HasContent() bool {
	return d.instance != "" ||
		d.statement != "" ||
		d.dbType != "" ||
		d.user != "" ||
		d.hasRows
}

// ResetState implements Recyclable.
func (d *DB) ResetState() {
	*d = DB{}
}

// Destination describes the remote end of an exit span.
type Destination struct {
	address  string
	port     int
	resource string
}

// WithAddress sets the remote host or IP.
func (d *Destination) WithAddress(address string) *Destination {
	d.address = address
	return d
}

// WithPort sets the remote port.
func (d *Destination) WithPort(port int) *Destination {
	if port < 0 {
		port = 0
	}
	d.port = port
	return d
}

// WithResource sets the service resource used to group destinations.
func (d *Destination) WithResource(resource string) *Destination {
	d.resource = resource
	return d
}

// Address returns the remote host or IP.
func (d *Destination) Address() string { return d.address }

// Port returns the remote port.
func (d *Destination) Port() int { return d.port }

// Resource returns the service resource.
func (d *Destination) Resource() string { return d.resource }

// HasContent reports whether any field differs from its default.
func (d *Destination) HasContent() bool {
	return d.address != "" || d.port > 0 || d.resource != ""
}

// ResetState implements Recyclable.
func (d *Destination) ResetState() {
	*d = Destination{}
}

// SpanContext is the fixed set of optional metadata records a span carries.
// Each slot is reset independently; a slot is exported only when it has
// content.
type SpanContext struct {
	labels      map[Label]string
	http        HTTP
	db          DB
	destination Destination
}

// HTTP returns the HTTP slot.
func (c *SpanContext) HTTP() *HTTP { return &c.http }

// DB returns the database slot.
func (c *SpanContext) DB() *DB { return &c.db }

// Destination returns the destination slot.
func (c *SpanContext) Destination() *Destination { return &c.destination }

// SetLabel stores a key/value label.
func (c *SpanContext) SetLabel(key Label, value string) {
	if c.labels == nil {
		c.labels = make(map[Label]string)
	}
	c.labels[key] = value
}

// Label retrieves a label value by key.
func (c *SpanContext) Label(key Label) (string, bool) {
	value, ok := c.labels[key]
	return value, ok
}

// HasContent reports whether any slot has content.
func (c *SpanContext) HasContent() bool {
	return len(c.labels) > 0 ||
		c.http.HasContent() ||
		c.db.HasContent() ||
		c.destination.HasContent()
}

// ResetState implements Recyclable.
func (c *SpanContext) ResetState() {
	// clear keeps the map's buckets for the next owner.
	clear(c.labels)
	c.http.ResetState()
	c.db.ResetState()
	c.destination.ResetState()
}
