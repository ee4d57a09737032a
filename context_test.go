package apmz

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestURLFull(t *testing.T) {
	var u URL
	assert.False(t, u.HasContent())
	assert.Empty(t, u.Full())

	u.WithProtocol("https").WithHostname("example.com").WithPort(8443).WithPathname("/a").WithSearch("b=1")
	assert.True(t, u.HasContent())
	assert.Equal(t, "https://example.com:8443/a?b=1", u.Full())

	u.WithFull("http://raw")
	assert.Equal(t, "http://raw", u.Full(), "raw URL takes precedence")

	u.ResetState()
	assert.False(t, u.HasContent())
	assert.Zero(t, u.Port())
}

func TestURLPortOnly(t *testing.T) {
	var u URL
	u.WithPort(-5)
	assert.False(t, u.HasContent())

	u.WithPort(80)
	assert.True(t, u.HasContent())
}

func TestBodyCapture(t *testing.T) {
	var b BodyCapture
	assert.False(t, b.HasContent())

	b.MarkEligible("application/json", "utf-8")
	assert.True(t, b.HasContent(), "an eligible empty body is content")
	assert.True(t, b.IsEligible())
	assert.Equal(t, "application/json", b.ContentType())
	assert.Equal(t, "utf-8", b.Charset())

	b.Append([]byte(`{"a":1}`))
	assert.Equal(t, `{"a":1}`, string(b.Body()))
	assert.False(t, b.Truncated())

	b.ResetState()
	assert.False(t, b.HasContent())
	assert.False(t, b.IsEligible())
	assert.Empty(t, b.Body())
	assert.Empty(t, b.ContentType())
}

func TestBodyCaptureTruncates(t *testing.T) {
	var b BodyCapture
	b.Append(bytes.Repeat([]byte("x"), MaxBodyCapture-1))
	assert.False(t, b.Truncated())

	b.Append([]byte("yz"))
	assert.True(t, b.Truncated())
	assert.Len(t, b.Body(), MaxBodyCapture)
	assert.Equal(t, byte('y'), b.Body()[MaxBodyCapture-1])

	capBefore := cap(b.buf)
	b.ResetState()
	assert.False(t, b.Truncated())
	assert.Equal(t, capBefore, cap(b.buf), "buffer capacity survives reset")

	b.Append(nil)
	assert.False(t, b.HasContent())
}

func TestHTTPHasContent(t *testing.T) {
	tests := []struct {
		name string
		set  func(h *HTTP)
		want bool
	}{
		{"empty", func(_ *HTTP) {}, false},
		{"empty url ignored", func(h *HTTP) { h.WithURL("") }, false},
		{"zero status", func(h *HTTP) { h.WithStatusCode(0) }, false},
		{"url", func(h *HTTP) { h.WithURL("http://x") }, true},
		{"url part", func(h *HTTP) { h.InternalURL().WithHostname("x") }, true},
		{"method", func(h *HTTP) { h.WithMethod("GET") }, true},
		{"status", func(h *HTTP) { h.WithStatusCode(200) }, true},
		{"body", func(h *HTTP) { h.RequestBody().MarkEligible("text/plain", "") }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var h HTTP
			tt.set(&h)
			assert.Equal(t, tt.want, h.HasContent())

			h.ResetState()
			assert.False(t, h.HasContent(), "reset restores the default state")
		})
	}
}

func TestDBRowsAffected(t *testing.T) {
	var d DB
	_, ok := d.RowsAffected()
	assert.False(t, ok)
	assert.False(t, d.HasContent())

	d.WithRowsAffected(0)
	n, ok := d.RowsAffected()
	assert.True(t, ok, "zero rows is still a value")
	assert.Zero(t, n)
	assert.True(t, d.HasContent())

	d.WithInstance("orders").WithStatement("SELECT 1").WithType("sql").WithUser("app")
	assert.Equal(t, "orders", d.Instance())
	assert.Equal(t, "SELECT 1", d.Statement())
	assert.Equal(t, "sql", d.Type())
	assert.Equal(t, "app", d.User())

	d.ResetState()
	assert.False(t, d.HasContent())
}

func TestDestination(t *testing.T) {
	var d Destination
	assert.False(t, d.HasContent())

	d.WithPort(-1)
	assert.False(t, d.HasContent())

	d.WithAddress("db.internal").WithPort(5432).WithResource("postgresql")
	assert.True(t, d.HasContent())
	assert.Equal(t, "db.internal", d.Address())
	assert.Equal(t, 5432, d.Port())
	assert.Equal(t, "postgresql", d.Resource())

	d.ResetState()
	assert.False(t, d.HasContent())
}

func TestSpanContextReset(t *testing.T) {
	var c SpanContext
	assert.False(t, c.HasContent())

	c.SetLabel("k", "v")
	assert.True(t, c.HasContent())
	v, ok := c.Label("k")
	assert.True(t, ok)
	assert.Equal(t, "v", v)

	c.HTTP().WithMethod("GET")
	c.DB().WithStatement("SELECT 1")
	c.Destination().WithAddress("x")

	c.ResetState()
	assert.False(t, c.HasContent())
	assert.False(t, c.HTTP().HasContent())
	assert.False(t, c.DB().HasContent())
	assert.False(t, c.Destination().HasContent())
	_, ok = c.Label("k")
	assert.False(t, ok)
}

func TestRecordContextSections(t *testing.T) {
	tracer := New()
	defer tracer.Close()

	span := tracer.StartTransaction("tx", "request")
	defer span.End()

	assert.Nil(t, span.Record().Context, "no content, no context section")

	span.Context().DB().WithStatement("SELECT 1").WithRowsAffected(3)
	r := span.Record()
	if assert.NotNil(t, r.Context) {
		assert.Nil(t, r.Context.HTTP)
		assert.Nil(t, r.Context.Destination)
		assert.Nil(t, r.Context.Labels)
		if assert.NotNil(t, r.Context.DB) {
			assert.Equal(t, "SELECT 1", r.Context.DB.Statement)
			if assert.NotNil(t, r.Context.DB.RowsAffected) {
				assert.Equal(t, int64(3), *r.Context.DB.RowsAffected)
			}
		}
	}

	span.Context().HTTP().RequestBody().MarkEligible("text/plain", "utf-8").Append([]byte("hi"))
	r = span.Record()
	if assert.NotNil(t, r.Context.HTTP) && assert.NotNil(t, r.Context.HTTP.RequestBody) {
		assert.Equal(t, "hi", r.Context.HTTP.RequestBody.Body)
		assert.Equal(t, "text/plain", r.Context.HTTP.RequestBody.ContentType)
	}
}
