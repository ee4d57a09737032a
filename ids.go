package apmz

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"sync/atomic"

	"github.com/google/uuid"
)

// TraceID identifies every span of one trace.
type TraceID [16]byte

// SpanID identifies a single span within a trace.
type SpanID [8]byte

// String returns the lowercase hex form of the ID.
func (id TraceID) String() string {
	return hex.EncodeToString(id[:])
}

// IsZero reports whether the ID is unset.
func (id TraceID) IsZero() bool {
	return id == TraceID{}
}

// String returns the lowercase hex form of the ID.
func (id SpanID) String() string {
	return hex.EncodeToString(id[:])
}

// IsZero reports whether the ID is unset.
func (id SpanID) IsZero() bool {
	return id == SpanID{}
}

// fallbackSeq feeds IDs when the system entropy source fails.
var fallbackSeq atomic.Uint64

func newTraceID() TraceID {
	u, err := uuid.NewRandom()
	if err != nil {
		var id TraceID
		binary.BigEndian.PutUint64(id[8:], fallbackSeq.Add(1))
		return id
	}
	return TraceID(u)
}

func newSpanID() SpanID {
	var id SpanID
	if _, err := rand.Read(id[:]); err != nil || id.IsZero() {
		binary.BigEndian.PutUint64(id[:], fallbackSeq.Add(1))
	}
	return id
}
