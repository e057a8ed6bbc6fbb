package device

import (
	"fmt"
	"time"
)

// ColorCommand sets the RGB channels of a lamp over a transition.
type ColorCommand struct {
	Color          RGBColor
	TransitionTime int // milliseconds
	Force          bool
}

func (c ColorCommand) MsgString() (string, error) {
	return marshalCommand(struct {
		Type           string   `json:"type"`
		Color          RGBColor `json:"color"`
		TransitionTime int      `json:"transitionTime"`
	}{Type: "request", Color: c.Color, TransitionTime: c.TransitionTime})
}

func (c ColorCommand) Pause() time.Duration {
	return time.Duration(c.TransitionTime) * time.Millisecond
}

func (c ColorCommand) CheckValues(d *Device) error {
	rng := d.ColorRange()
	for _, v := range []int{c.Color.Red, c.Color.Green, c.Color.Blue} {
		if !rng.Contains(v) {
			return fmt.Errorf("color %d out of range [%d..%d]", v, rng.Min, rng.Max)
		}
	}
	return nil
}

func (c ColorCommand) Forced() bool { return c.Force }

// PercentColorCommand sets color and white channels in percent.
type PercentColorCommand struct {
	Red, Green, Blue int
	Warm, Cold       int
	TransitionTime   int // milliseconds
}

func (c PercentColorCommand) MsgString() (string, error) {
	type pColor struct {
		Red   int `json:"red"`
		Green int `json:"green"`
		Blue  int `json:"blue"`
		Warm  int `json:"warm"`
		Cold  int `json:"cold"`
	}
	return marshalCommand(struct {
		Type           string `json:"type"`
		PColor         pColor `json:"p_color"`
		TransitionTime int    `json:"transitionTime"`
	}{
		Type:           "request",
		PColor:         pColor{Red: c.Red, Green: c.Green, Blue: c.Blue, Warm: c.Warm, Cold: c.Cold},
		TransitionTime: c.TransitionTime,
	})
}

func (c PercentColorCommand) Pause() time.Duration {
	return time.Duration(c.TransitionTime) * time.Millisecond
}

// TemperatureCommand sets the white temperature in kelvin (low: warm,
// high: cold).
type TemperatureCommand struct {
	Kelvin         int
	TransitionTime int // milliseconds
	Force          bool
}

func (c TemperatureCommand) MsgString() (string, error) {
	return marshalCommand(struct {
		Type           string `json:"type"`
		Temperature    int    `json:"temperature"`
		TransitionTime int    `json:"transitionTime"`
	}{Type: "request", Temperature: c.Kelvin, TransitionTime: c.TransitionTime})
}

func (c TemperatureCommand) Pause() time.Duration {
	return time.Duration(c.TransitionTime) * time.Millisecond
}

func (c TemperatureCommand) CheckValues(d *Device) error {
	rng := d.TemperatureRange()
	if !rng.Contains(c.Kelvin) {
		return fmt.Errorf("temperature %d out of range [%d..%d]", c.Kelvin, rng.Min, rng.Max)
	}
	return nil
}

func (c TemperatureCommand) Forced() bool { return c.Force }

// BrightnessCommand sets the brightness percentage.
type BrightnessCommand struct {
	Percentage     int
	TransitionTime int // milliseconds
	Force          bool
}

func (c BrightnessCommand) MsgString() (string, error) {
	return marshalCommand(struct {
		Type           string     `json:"type"`
		Brightness     Brightness `json:"brightness"`
		TransitionTime int        `json:"transitionTime"`
	}{Type: "request", Brightness: Brightness{Percentage: c.Percentage}, TransitionTime: c.TransitionTime})
}

func (c BrightnessCommand) Pause() time.Duration {
	return time.Duration(c.TransitionTime) * time.Millisecond
}

func (c BrightnessCommand) CheckValues(d *Device) error {
	rng := d.BrightnessRange()
	if !rng.Contains(c.Percentage) {
		return fmt.Errorf("brightness %d out of range [%d..%d]", c.Percentage, rng.Min, rng.Max)
	}
	return nil
}

func (c BrightnessCommand) Forced() bool { return c.Force }

// PowerCommand turns a lamp on or off.
type PowerCommand struct {
	Status string // "on" or "off"
}

func (c PowerCommand) MsgString() (string, error) {
	return marshalCommand(struct {
		Type   string `json:"type"`
		Status string `json:"status"`
	}{Type: "request", Status: c.Status})
}

// ExternalMode selects the external realtime protocol receiver of a lamp.
type ExternalMode string

const (
	ExtOff  ExternalMode = "EXT_OFF"
	ExtUDP  ExternalMode = "EXT_UDP"
	ExtE131 ExternalMode = "EXT_E131"
	ExtTPM2 ExternalMode = "EXT_TPM2"
)

// ExternalSourceCommand configures the external protocol receiver.
type ExternalSourceCommand struct {
	Mode    ExternalMode
	Port    int
	Channel int
}

func (c ExternalSourceCommand) MsgString() (string, error) {
	type external struct {
		Mode    ExternalMode `json:"mode"`
		Port    int          `json:"port"`
		Channel int          `json:"channel"`
	}
	return marshalCommand(struct {
		Type     string   `json:"type"`
		External external `json:"external"`
	}{Type: "request", External: external{Mode: c.Mode, Port: c.Port, Channel: c.Channel}})
}

// FadeCommand sets power-on/off fade times in milliseconds.
type FadeCommand struct {
	In  int
	Out int
}

func (c FadeCommand) MsgString() (string, error) {
	return marshalCommand(struct {
		Type    string `json:"type"`
		FadeOut int    `json:"fade_out"`
		FadeIn  int    `json:"fade_in"`
	}{Type: "request", FadeOut: c.Out, FadeIn: c.In})
}
