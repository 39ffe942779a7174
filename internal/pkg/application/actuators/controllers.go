package actuators

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/diwise/integration-smartbed/domain"
)

const (
	ParamPower      string = "power"
	ParamHeight     string = "height"
	ParamColor      string = "color"
	ParamBrightness string = "brightness"
	ParamVolume     string = "volume"
	ParamPlaying    string = "playing"
)

const (
	DefaultFanSpeed      int    = 75
	DefaultVibration     int    = 50
	DefaultHeight        int    = 50
	DefaultBrightness    int    = 50
	DefaultVolume        int    = 50
	DefaultColor         string = "#ffffff"
	DefaultAlarmDuration int    = 3000
	ElevatedHeight       int    = 100
	LoweredHeight        int    = 0
)

type Delays struct {
	Brightness time.Duration
	Color      time.Duration
	Volume     time.Duration
	Pillow     time.Duration
	Legs       time.Duration
}

func DefaultDelays() Delays {
	return Delays{
		Brightness: 200 * time.Millisecond,
		Color:      300 * time.Millisecond,
		Volume:     300 * time.Millisecond,
		Pillow:     300 * time.Millisecond,
		Legs:       300 * time.Millisecond,
	}
}

var ColorPresets = map[string]string{
	"White":  "#ffffff",
	"Red":    "#ff0000",
	"Green":  "#00ff00",
	"Blue":   "#0000ff",
	"Yellow": "#ffff00",
	"Purple": "#9900ff",
	"Orange": "#ff6600",
	"Pink":   "#ff0099",
}

var hexColor = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

type Controllers struct {
	Fan       *Fan
	Vibration *Vibration
	Pillow    *Pillow
	Legs      *Legs
	LED       *LED
	Speaker   *Speaker
}

// NewControllers builds the typed actions of every actuator and seeds their
// initial desired state.
func NewControllers(d *Dispatcher, delays Delays) Controllers {
	d.Init(domain.Fan, ParamPower, false)
	d.Init(domain.Vibration, ParamPower, false)
	d.Init(domain.Pillow, ParamHeight, DefaultHeight)
	d.Init(domain.Legs, ParamHeight, DefaultHeight)
	d.Init(domain.LED, ParamPower, false)
	d.Init(domain.LED, ParamColor, DefaultColor)
	d.Init(domain.LED, ParamBrightness, DefaultBrightness)
	d.Init(domain.Speaker, ParamVolume, DefaultVolume)
	d.Init(domain.Speaker, ParamPlaying, false)

	return Controllers{
		Fan:       &Fan{d: d},
		Vibration: &Vibration{d: d},
		Pillow:    &Pillow{d: d, delay: delays.Pillow},
		Legs:      &Legs{d: d, delay: delays.Legs},
		LED:       &LED{d: d, colorDelay: delays.Color, brightnessDelay: delays.Brightness},
		Speaker:   &Speaker{d: d, delay: delays.Volume},
	}
}

type Fan struct {
	d *Dispatcher
}

func (f *Fan) SetPower(ctx context.Context, on bool) error {
	return f.power(ctx, on, DefaultFanSpeed, false)
}

// Auto switches the fan on behalf of a reaction rule.
func (f *Fan) Auto(ctx context.Context, on bool, speed int) error {
	return f.power(ctx, on, speed, true)
}

func (f *Fan) IsOn() bool {
	return desiredBool(f.d, domain.Fan, ParamPower)
}

func (f *Fan) power(ctx context.Context, on bool, speed int, auto bool) error {
	if !on {
		speed = 0
	}

	return f.d.Dispatch(ctx, domain.Fan, Update{
		Parameter: ParamPower,
		Value:     on,
		Command:   domain.NewCommand("power", "state", on, "speed", clamp(speed), "auto_mode", auto),
	}, Immediate)
}

type Vibration struct {
	d *Dispatcher
}

func (v *Vibration) SetPower(ctx context.Context, on bool) error {
	return v.d.Dispatch(ctx, domain.Vibration, Update{
		Parameter: ParamPower,
		Value:     on,
		Command:   domain.NewCommand("power", "state", on, "intensity", DefaultVibration),
	}, Immediate)
}

type Pillow struct {
	d     *Dispatcher
	delay time.Duration
}

func (p *Pillow) SetHeight(ctx context.Context, height int) error {
	return p.d.Dispatch(ctx, domain.Pillow, heightUpdate(height), Debounced(p.delay))
}

func (p *Pillow) Preset(ctx context.Context, height int) error {
	return p.d.Dispatch(ctx, domain.Pillow, heightUpdate(height), Preset)
}

type Legs struct {
	d     *Dispatcher
	delay time.Duration
}

func (l *Legs) SetHeight(ctx context.Context, height int) error {
	return l.d.Dispatch(ctx, domain.Legs, heightUpdate(height), Debounced(l.delay))
}

func (l *Legs) Elevate(ctx context.Context) error {
	return l.d.Dispatch(ctx, domain.Legs, heightUpdate(ElevatedHeight), Preset)
}

func (l *Legs) Lower(ctx context.Context) error {
	return l.d.Dispatch(ctx, domain.Legs, heightUpdate(LoweredHeight), Preset)
}

func heightUpdate(height int) Update {
	height = clamp(height)
	return Update{
		Parameter: ParamHeight,
		Value:     height,
		Command:   domain.NewCommand("height", "height", height),
	}
}

type LED struct {
	d               *Dispatcher
	colorDelay      time.Duration
	brightnessDelay time.Duration
}

func (l *LED) SetPower(ctx context.Context, enabled bool) error {
	return l.d.Dispatch(ctx, domain.LED, Update{
		Parameter: ParamPower,
		Value:     enabled,
		Command:   domain.NewCommand("power", "enabled", enabled),
	}, Immediate)
}

func (l *LED) SetColor(ctx context.Context, color string) error {
	u, err := l.colorUpdate(color)
	if err != nil {
		return err
	}
	return l.d.Dispatch(ctx, domain.LED, u, Debounced(l.colorDelay))
}

func (l *LED) SetBrightness(ctx context.Context, brightness int) error {
	brightness = clamp(brightness)
	return l.d.Dispatch(ctx, domain.LED, Update{
		Parameter: ParamBrightness,
		Value:     brightness,
		Command:   domain.NewCommand("brightness", "brightness", brightness),
	}, Debounced(l.brightnessDelay))
}

// SetPresetColor sends a named color at once, replacing any pending color change.
// Presets only apply while the strip is switched on.
func (l *LED) SetPresetColor(ctx context.Context, name string) error {
	color, ok := ColorPresets[name]
	if !ok {
		for n, c := range ColorPresets {
			if strings.EqualFold(n, name) {
				color, ok = c, true
			}
		}
	}
	if !ok {
		return fmt.Errorf("%w: unknown color preset %q", domain.ErrInvalidRequest, name)
	}

	if !desiredBool(l.d, domain.LED, ParamPower) {
		return fmt.Errorf("%w: %s", domain.ErrActuatorOff, domain.LED)
	}

	u, err := l.colorUpdate(color)
	if err != nil {
		return err
	}
	return l.d.Dispatch(ctx, domain.LED, u, Preset)
}

func (l *LED) colorUpdate(color string) (Update, error) {
	if !hexColor.MatchString(color) {
		return Update{}, fmt.Errorf("%w: invalid color %q", domain.ErrInvalidRequest, color)
	}

	brightness := DefaultBrightness
	if b, ok := l.d.Desired(domain.LED, ParamBrightness); ok {
		brightness, _ = b.(int)
	}

	return Update{
		Parameter: ParamColor,
		Value:     strings.ToLower(color),
		Command:   domain.NewCommand("color", "color", strings.ToLower(color), "brightness", brightness),
	}, nil
}

type Speaker struct {
	d     *Dispatcher
	delay time.Duration
}

func (s *Speaker) SetVolume(ctx context.Context, volume int) error {
	volume = clamp(volume)
	return s.d.Dispatch(ctx, domain.Speaker, Update{
		Parameter: ParamVolume,
		Value:     volume,
		Command:   domain.NewCommand("volume", "volume", volume),
	}, Debounced(s.delay))
}

func (s *Speaker) Play(ctx context.Context, message string) error {
	return s.d.Dispatch(ctx, domain.Speaker, Update{
		Parameter: ParamPlaying,
		Value:     true,
		Command:   domain.NewCommand("play", "action", "play", "message", message, "duration", DefaultAlarmDuration),
	}, Immediate)
}

func (s *Speaker) Stop(ctx context.Context) error {
	return s.d.Dispatch(ctx, domain.Speaker, Update{
		Parameter: ParamPlaying,
		Value:     false,
		Command:   domain.NewCommand("stop", "action", "stop"),
	}, Immediate)
}

func desiredBool(d *Dispatcher, name domain.ActuatorName, param string) bool {
	v, ok := d.Desired(name, param)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
