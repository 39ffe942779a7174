package domain

import (
	"encoding/json"
	"fmt"
)

type ActuatorName string

const (
	Fan       ActuatorName = "fan"
	Vibration ActuatorName = "vibration"
	Pillow    ActuatorName = "pillow"
	Legs      ActuatorName = "legs"
	LED       ActuatorName = "led"
	Speaker   ActuatorName = "speaker"
)

func ActuatorNames() []ActuatorName {
	return []ActuatorName{Fan, Vibration, Pillow, Legs, LED, Speaker}
}

func ParseActuatorName(s string) (ActuatorName, error) {
	for _, n := range ActuatorNames() {
		if string(n) == s {
			return n, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownActuator, s)
}

// Command is sent to an actuator as a flat json object, {"type": ..., <parameters>}.
// Resending the same command must be safe.
type Command struct {
	Type       string
	Parameters map[string]any
}

func NewCommand(commandType string, keysAndValues ...any) Command {
	c := Command{Type: commandType, Parameters: map[string]any{}}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		if k, ok := keysAndValues[i].(string); ok {
			c.Parameters[k] = keysAndValues[i+1]
		}
	}
	return c
}

func (c Command) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(c.Parameters)+1)
	for k, v := range c.Parameters {
		m[k] = v
	}
	m["type"] = c.Type
	return json.Marshal(m)
}

func (c *Command) UnmarshalJSON(b []byte) error {
	m := map[string]any{}
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}

	t, ok := m["type"].(string)
	if !ok {
		return fmt.Errorf("command is missing a type")
	}
	delete(m, "type")

	c.Type = t
	c.Parameters = m
	return nil
}

// ActuatorState keeps Desired optimistic; LastConfirmed only changes when the
// hardware acknowledges a command.
type ActuatorState struct {
	Desired       map[string]any `json:"desired"`
	LastConfirmed map[string]any `json:"lastConfirmed"`
	Pending       bool           `json:"pending"`
	LastError     string         `json:"lastError,omitempty"`
}
