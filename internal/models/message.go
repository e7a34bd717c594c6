package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// TimestampLayout is the ISO-8601 layout of the timestamp_iso field (UTC, milliseconds)
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// Keys added to the decoder's payload on enrichment
const (
	FieldEnrichment = "db"
	FieldTimestamp  = "timestamp_iso"
)

// ErrNotObject is returned when a datagram is valid JSON but not an object
var ErrNotObject = errors.New("payload is not a JSON object")

// RawMessage is the decoder's payload. Only a handful of fields are
// interpreted; everything else is passed through untouched.
type RawMessage map[string]any

// ParseRawMessage decodes a datagram. Numbers are kept as json.Number so
// pass-through values round-trip without float rounding.
func ParseRawMessage(payload []byte) (RawMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, ErrNotObject
	}
	return RawMessage(obj), nil
}

// Address returns the raw source address field.
// dumpvdl2 places it at vdl2.avlc.src.addr, acarsdec at the top-level "icao".
func (m RawMessage) Address() any {
	if v, ok := lookup(m, "vdl2", "avlc", "src", "addr"); ok {
		return v
	}
	if v, ok := m["icao"]; ok {
		return v
	}
	return nil
}

// Flight returns the flight identifier if the message carries one
func (m RawMessage) Flight() string {
	v, ok := lookup(m, "vdl2", "avlc", "acars", "flight")
	if !ok {
		v, ok = m["flight"]
	}
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

// EventTime returns the decoder's reception timestamp, if present
func (m RawMessage) EventTime() (time.Time, bool) {
	if sec, ok := number(m, "vdl2", "t", "sec"); ok {
		usec, _ := number(m, "vdl2", "t", "usec")
		return time.Unix(int64(sec), int64(usec)*int64(time.Microsecond)), true
	}
	if ts, ok := number(m, "timestamp"); ok && ts > 0 {
		whole := int64(ts)
		frac := ts - float64(whole)
		return time.Unix(whole, int64(frac*float64(time.Second))).Truncate(time.Millisecond), true
	}
	return time.Time{}, false
}

// EnrichedMessage is the unit of persistence and publication
type EnrichedMessage struct {
	Raw       RawMessage
	Key       string
	Flight    string
	DB        Enrichment
	Timestamp time.Time
}

// NewEnrichedMessage assembles a message, deriving its timestamp from the
// event time when present and from receivedAt otherwise.
func NewEnrichedMessage(raw RawMessage, key string, db Enrichment, receivedAt time.Time) *EnrichedMessage {
	ts, ok := raw.EventTime()
	if !ok {
		ts = receivedAt
	}
	return &EnrichedMessage{
		Raw:       raw,
		Key:       key,
		Flight:    raw.Flight(),
		DB:        db,
		Timestamp: ts,
	}
}

// TimestampISO formats the message timestamp as stored in timestamp_iso
func (m *EnrichedMessage) TimestampISO() string {
	return m.Timestamp.UTC().Format(TimestampLayout)
}

// MarshalJSON emits the raw payload with the db and timestamp_iso fields added
func (m *EnrichedMessage) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Raw)+2)
	for k, v := range m.Raw {
		out[k] = v
	}
	out[FieldEnrichment] = m.DB
	out[FieldTimestamp] = m.TimestampISO()
	return json.Marshal(out)
}

// UnmarshalJSON is the subscriber-side inverse of MarshalJSON
func (m *EnrichedMessage) UnmarshalJSON(data []byte) error {
	var head struct {
		DB        Enrichment `json:"db"`
		Timestamp string     `json:"timestamp_iso"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	raw, err := ParseRawMessage(data)
	if err != nil {
		return err
	}
	delete(raw, FieldEnrichment)
	delete(raw, FieldTimestamp)

	m.Raw = raw
	m.DB = head.DB
	m.Key = NormalizeAddress(raw.Address())
	m.Flight = raw.Flight()
	m.Timestamp = time.Time{}
	if head.Timestamp != "" {
		ts, err := time.Parse(TimestampLayout, head.Timestamp)
		if err != nil {
			return fmt.Errorf("invalid timestamp_iso %q: %w", head.Timestamp, err)
		}
		m.Timestamp = ts
	}
	return nil
}

func lookup(m map[string]any, path ...string) (any, bool) {
	var cur any = m
	for _, p := range path {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func number(m map[string]any, path ...string) (float64, bool) {
	v, ok := lookup(m, path...)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	default:
		return 0, false
	}
}
