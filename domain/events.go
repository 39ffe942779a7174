package domain

import (
	"errors"
	"time"
)

var (
	ErrFetchFailed     = errors.New("sensor fetch failed")
	ErrCommandFailed   = errors.New("actuator command failed")
	ErrUnknownActuator = errors.New("unknown actuator")
	ErrUnknownChannel  = errors.New("unknown channel")
	ErrUnknownCommand  = errors.New("unknown command")
	ErrInvalidRequest  = errors.New("invalid request")
	ErrActuatorOff     = errors.New("actuator is switched off")
)

type EventType string

const (
	EventSnapshot  EventType = "snapshot"
	EventOccupancy EventType = "occupancy"
	EventActuator  EventType = "actuator"
	EventReaction  EventType = "reaction"
	EventAlert     EventType = "alert"
)

type Event struct {
	Type      EventType `json:"type"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

func NewEvent(t EventType, source string, data any) Event {
	return Event{
		Type:      t,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

type Reaction struct {
	Rule     string       `json:"rule"`
	Actuator ActuatorName `json:"actuator"`
	Command  string       `json:"command"`
	Reason   string       `json:"reason"`
}
