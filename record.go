package apmz

import (
	"time"
)

// Record is an immutable snapshot of an ended span, safe to keep after the
// span itself went back to the pool. Context sections without content are
// left nil so exporters can skip them.
//
//nolint:govet // Field alignment optimized for JSON serialization order
type Record struct {
	Context       *RecordContext `json:"context,omitempty"`
	Err           error          `json:"-"`
	Start         time.Time      `json:"start"`
	Duration      time.Duration  `json:"duration"`
	TraceID       string         `json:"trace_id"`
	SpanID        string         `json:"span_id"`
	ParentID      string         `json:"parent_id,omitempty"`
	TransactionID string         `json:"transaction_id"`
	Kind          string         `json:"kind"`
	Name          string         `json:"name"`
	Type          string         `json:"type,omitempty"`
	Subtype       string         `json:"subtype,omitempty"`
	Action        string         `json:"action,omitempty"`
	Result        string         `json:"result,omitempty"`
	Outcome       string         `json:"outcome"`
	Error         string         `json:"error,omitempty"`
}

// RecordContext is the exported form of SpanContext.
type RecordContext struct {
	Labels      map[Label]string   `json:"labels,omitempty"`
	HTTP        *HTTPRecord        `json:"http,omitempty"`
	DB          *DBRecord          `json:"db,omitempty"`
	Destination *DestinationRecord `json:"destination,omitempty"`
}

// HTTPRecord is the exported form of HTTP.
type HTTPRecord struct {
	RequestBody *BodyRecord `json:"request_body,omitempty"`
	URL         string      `json:"url,omitempty"`
	Method      string      `json:"method,omitempty"`
	StatusCode  int         `json:"status_code,omitempty"`
}

// BodyRecord is the exported form of BodyCapture.
type BodyRecord struct {
	ContentType string `json:"content_type,omitempty"`
	Charset     string `json:"charset,omitempty"`
	Body        string `json:"body"`
	Truncated   bool   `json:"truncated,omitempty"`
}

// DBRecord is the exported form of DB.
type DBRecord struct {
	RowsAffected *int64 `json:"rows_affected,omitempty"`
	Instance     string `json:"instance,omitempty"`
	Statement    string `json:"statement,omitempty"`
	Type         string `json:"type,omitempty"`
	User         string `json:"user,omitempty"`
}

// DestinationRecord is the exported form of Destination.
type DestinationRecord struct {
	Address  string `json:"address,omitempty"`
	Resource string `json:"resource,omitempty"`
	Port     int    `json:"port,omitempty"`
}

// Record snapshots s. Call it before handing s back with Recycle.
func (s *Span) Record() Record {
	if s == nil {
		return Record{}
	}

	r := Record{
		Err:      s.err,
		Start:    s.start,
		Duration: s.duration,
		TraceID:  s.traceID.String(),
		SpanID:   s.id.String(),
		Kind:     kindNames[kindIndex(s.transaction)],
		Name:     s.name,
		Type:     s.typ,
		Subtype:  s.subtype,
		Action:   s.action,
		Result:   s.result,
		Outcome:  s.outcome.String(),
	}
	if !s.parentID.IsZero() {
		r.ParentID = s.parentID.String()
	}
	r.TransactionID = s.transactionID.String()
	if s.err != nil {
		r.Error = s.err.Error()
	}
	if s.ctx.HasContent() {
		r.Context = s.ctx.record()
	}
	return r
}

func (c *SpanContext) record() *RecordContext {
	rc := &RecordContext{}
	if len(c.labels) > 0 {
		rc.Labels = make(map[Label]string, len(c.labels))
		for k, v := range c.labels {
			rc.Labels[k] = v
		}
	}
	if c.http.HasContent() {
		rc.HTTP = c.http.record()
	}
	if c.db.HasContent() {
		rc.DB = &DBRecord{
			Instance:  c.db.instance,
			Statement: c.db.statement,
			Type:      c.db.dbType,
			User:      c.db.user,
		}
		if n, ok := c.db.RowsAffected(); ok {
			rc.DB.RowsAffected = &n
		}
	}
	if c.destination.HasContent() {
		rc.Destination = &DestinationRecord{
			Address:  c.destination.address,
			Resource: c.destination.resource,
			Port:     c.destination.port,
		}
	}
	return rc
}

func (h *HTTP) record() *HTTPRecord {
	hr := &HTTPRecord{
		URL:        h.url.Full(),
		Method:     h.method,
		StatusCode: h.statusCode,
	}
	if h.requestBody.HasContent() {
		hr.RequestBody = &BodyRecord{
			ContentType: h.requestBody.contentType,
			Charset:     h.requestBody.charset,
			Body:        string(h.requestBody.buf),
			Truncated:   h.requestBody.truncated,
		}
	}
	return hr
}
