package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType enumerates every kind of change the extractor can emit.
// The set is closed; anything else is rejected at the boundary.
type EventType string

const (
	EventCreated     EventType = "created"
	EventFirstTime   EventType = "first_time"
	EventMetrics     EventType = "metrics"
	EventCPEs        EventType = "cpes"
	EventVendors     EventType = "vendors"
	EventWeaknesses  EventType = "weaknesses"
	EventReferences  EventType = "references"
	EventDescription EventType = "description"
	EventTitle       EventType = "title"
)

// EventTypes lists all types in their contractual report ordering:
// created first, then first_time, then the attribute events.
var EventTypes = []EventType{
	EventCreated,
	EventFirstTime,
	EventMetrics,
	EventCPEs,
	EventVendors,
	EventWeaknesses,
	EventReferences,
	EventDescription,
	EventTitle,
}

var eventRank = func() map[EventType]int {
	m := make(map[EventType]int, len(EventTypes))
	for i, t := range EventTypes {
		m[t] = i
	}
	return m
}()

// Valid reports whether t belongs to the closed enumeration.
func (t EventType) Valid() bool {
	_, ok := eventRank[t]
	return ok
}

// Rank returns the ordering position of t within the enumeration.
func (t EventType) Rank() int {
	return eventRank[t]
}

// EventData is the payload of a change event. Each event type carries its own
// concrete payload; the wire "data" object is the serialized payload.
type EventData interface {
	eventData()
}

// CreatedData accompanies the single created event of a record.
type CreatedData struct{}

// FirstTimeData lists the subscription tokens whose project sees this record
// for the first time.
type FirstTimeData struct {
	Subscriptions []string `json:"subscriptions"`
}

// MetricsData carries a score transition, null included.
type MetricsData struct {
	Old *float64 `json:"old"`
	New *float64 `json:"new"`
}

// SetChangeData is the added/removed breakdown shared by the cpes, vendors
// and weaknesses events.
type SetChangeData struct {
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
}

// ReferencesData is the explicit added/removed breakdown of the references event.
type ReferencesData struct {
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
}

// TextChangeData carries a before/after text transition (description, title).
type TextChangeData struct {
	Old string `json:"old"`
	New string `json:"new"`
}

func (CreatedData) eventData()    {}
func (FirstTimeData) eventData()  {}
func (MetricsData) eventData()    {}
func (SetChangeData) eventData()  {}
func (ReferencesData) eventData() {}
func (TextChangeData) eventData() {}

// ChangeEvent is one detected change on a canonical record. Events are
// immutable once created and ordered by a monotonic per-record sequence.
type ChangeEvent struct {
	CVEID     string
	Seq       int64
	Type      EventType
	Data      EventData
	CreatedAt time.Time
}

type wireEvent struct {
	Type EventType       `json:"type"`
	Data json.RawMessage `json:"data"`
}

// MarshalJSON renders the wire form {type, data}.
func (e ChangeEvent) MarshalJSON() ([]byte, error) {
	data := e.Data
	if data == nil {
		data = CreatedData{}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireEvent{Type: e.Type, Data: raw})
}

// DecodeEventData reconstructs the typed payload for a stored event.
func DecodeEventData(t EventType, raw []byte) (EventData, error) {
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	switch t {
	case EventCreated:
		var d CreatedData
		return d, json.Unmarshal(raw, &d)
	case EventFirstTime:
		var d FirstTimeData
		return d, json.Unmarshal(raw, &d)
	case EventMetrics:
		var d MetricsData
		return d, json.Unmarshal(raw, &d)
	case EventCPEs, EventVendors, EventWeaknesses:
		var d SetChangeData
		return d, json.Unmarshal(raw, &d)
	case EventReferences:
		var d ReferencesData
		return d, json.Unmarshal(raw, &d)
	case EventDescription, EventTitle:
		var d TextChangeData
		return d, json.Unmarshal(raw, &d)
	default:
		return nil, fmt.Errorf("unknown event type %q", t)
	}
}
