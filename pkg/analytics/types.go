package analytics

import (
	"fmt"
	"time"
)

// ServiceType identifies the producer service that generated an event
type ServiceType string

const (
	ServiceLLMChat      ServiceType = "llm_chat"
	ServiceTextToImage  ServiceType = "text_to_image"
	ServiceTextToSpeech ServiceType = "text_to_speech"
)

// AllServiceTypes returns every known service type in a fixed order.
// Callers that need a per-service breakdown iterate this list rather than
// whatever values happen to be present in storage.
func AllServiceTypes() []ServiceType {
	return []ServiceType{ServiceLLMChat, ServiceTextToImage, ServiceTextToSpeech}
}

// Valid reports whether s is one of the known service types
func (s ServiceType) Valid() bool {
	switch s {
	case ServiceLLMChat, ServiceTextToImage, ServiceTextToSpeech:
		return true
	}
	return false
}

// ParseServiceType converts a string into a ServiceType, rejecting unknown values
func ParseServiceType(s string) (ServiceType, error) {
	st := ServiceType(s)
	if !st.Valid() {
		return "", &ValidationError{Field: "service_type", Value: s, Reason: "unknown service type"}
	}
	return st, nil
}

// EventType classifies what happened during a tracked occurrence
type EventType string

const (
	EventRequest    EventType = "request"
	EventSuccess    EventType = "success"
	EventError      EventType = "error"
	EventGeneration EventType = "generation"
)

// Valid reports whether e is one of the known event types
func (e EventType) Valid() bool {
	switch e {
	case EventRequest, EventSuccess, EventError, EventGeneration:
		return true
	}
	return false
}

// ParseEventType converts a string into an EventType, rejecting unknown values
func ParseEventType(s string) (EventType, error) {
	et := EventType(s)
	if !et.Valid() {
		return "", &ValidationError{Field: "event_type", Value: s, Reason: "unknown event type"}
	}
	return et, nil
}

// Event is one immutable usage fact. A nil UserID marks an anonymous actor;
// the empty string is a distinct, valid identifier.
type Event struct {
	ID          string      `json:"event_id"`
	UserID      *string     `json:"user_id"`
	ServiceType ServiceType `json:"service_type"`
	EventType   EventType   `json:"event_type"`
	Timestamp   time.Time   `json:"timestamp"`
	Metadata    Metadata    `json:"metadata"`
}

// Anonymous reports whether the event has no associated user
func (e *Event) Anonymous() bool {
	return e.UserID == nil
}

// Validate checks the closed enumerations and required fields of a stored event
func (e *Event) Validate() error {
	if e.ID == "" {
		return &ValidationError{Field: "event_id", Reason: "is required"}
	}
	if !e.ServiceType.Valid() {
		return &ValidationError{Field: "service_type", Value: string(e.ServiceType), Reason: "unknown service type"}
	}
	if !e.EventType.Valid() {
		return &ValidationError{Field: "event_type", Value: string(e.EventType), Reason: "unknown event type"}
	}
	if e.Timestamp.IsZero() {
		return &ValidationError{Field: "timestamp", Reason: "is required"}
	}
	return nil
}

func (e *Event) String() string {
	user := "<anonymous>"
	if e.UserID != nil {
		user = *e.UserID
	}
	return fmt.Sprintf("%s %s/%s user=%s at=%s", e.ID, e.ServiceType, e.EventType, user, e.Timestamp.Format(time.RFC3339Nano))
}

// TrackRequest is the ingest payload sent by producer services
type TrackRequest struct {
	UserID      *string    `json:"user_id,omitempty"`
	ServiceType string     `json:"service_type"`
	EventType   string     `json:"event_type"`
	Timestamp   *time.Time `json:"timestamp,omitempty"`
	Metadata    Metadata   `json:"metadata"`
}

// TrackResponse is returned once an event has been stored
type TrackResponse struct {
	EventID   string    `json:"event_id"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// StringPtr returns a pointer to s. Handy for building user filters.
func StringPtr(s string) *string {
	return &s
}
