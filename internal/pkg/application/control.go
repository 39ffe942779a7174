package application

import (
	"context"
	"fmt"

	"github.com/diwise/integration-smartbed/domain"
)

// ControlRequest carries the arguments of a named actuator command. Which fields
// are read depends on the command.
type ControlRequest struct {
	State      *bool  `json:"state,omitempty"`
	Height     *int   `json:"height,omitempty"`
	Color      string `json:"color,omitempty"`
	Preset     string `json:"preset,omitempty"`
	Brightness *int   `json:"brightness,omitempty"`
	Volume     *int   `json:"volume,omitempty"`
	Message    string `json:"message,omitempty"`
}

func (b *smartBed) Control(ctx context.Context, name domain.ActuatorName, command string, req ControlRequest) error {
	switch name {
	case domain.Fan:
		if command == "power" {
			return withState(req, func(on bool) error { return b.controls.Fan.SetPower(ctx, on) })
		}
	case domain.Vibration:
		if command == "power" {
			return withState(req, func(on bool) error { return b.controls.Vibration.SetPower(ctx, on) })
		}
	case domain.Pillow:
		switch command {
		case "height":
			return withInt(req.Height, "height", func(h int) error { return b.controls.Pillow.SetHeight(ctx, h) })
		case "preset":
			return withInt(req.Height, "height", func(h int) error { return b.controls.Pillow.Preset(ctx, h) })
		}
	case domain.Legs:
		switch command {
		case "height":
			return withInt(req.Height, "height", func(h int) error { return b.controls.Legs.SetHeight(ctx, h) })
		case "elevate":
			return b.controls.Legs.Elevate(ctx)
		case "lower":
			return b.controls.Legs.Lower(ctx)
		}
	case domain.LED:
		switch command {
		case "power":
			return withState(req, func(on bool) error { return b.controls.LED.SetPower(ctx, on) })
		case "color":
			return b.controls.LED.SetColor(ctx, req.Color)
		case "preset":
			return b.controls.LED.SetPresetColor(ctx, req.Preset)
		case "brightness":
			return withInt(req.Brightness, "brightness", func(v int) error { return b.controls.LED.SetBrightness(ctx, v) })
		}
	case domain.Speaker:
		switch command {
		case "volume":
			return withInt(req.Volume, "volume", func(v int) error { return b.controls.Speaker.SetVolume(ctx, v) })
		case "play":
			msg := req.Message
			if msg == "" {
				msg = b.cfg.AlarmMessage
			}
			return b.controls.Speaker.Play(ctx, msg)
		case "stop":
			return b.controls.Speaker.Stop(ctx)
		}
	default:
		return fmt.Errorf("%w: %s", domain.ErrUnknownActuator, name)
	}

	return fmt.Errorf("%w: %s %s", domain.ErrUnknownCommand, name, command)
}

func withState(req ControlRequest, fn func(bool) error) error {
	if req.State == nil {
		return fmt.Errorf("%w: missing state", domain.ErrInvalidRequest)
	}
	return fn(*req.State)
}

func withInt(v *int, field string, fn func(int) error) error {
	if v == nil {
		return fmt.Errorf("%w: missing %s", domain.ErrInvalidRequest, field)
	}
	return fn(*v)
}
