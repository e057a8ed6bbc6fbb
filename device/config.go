package device

import (
	"strings"

	json "github.com/goccy/go-json"
)

// Range is an inclusive numeric trait range.
type Range struct {
	Min int
	Max int
}

// Contains reports whether v lies inside the range.
func (r Range) Contains(v int) bool {
	return v >= r.Min && v <= r.Max
}

// Default trait ranges used when a product config carries no matching
// trait.
var (
	DefaultColorRange       = Range{Min: 0, Max: 255}
	DefaultBrightnessRange  = Range{Min: 0, Max: 100}
	DefaultTemperatureRange = Range{Min: 2000, Max: 6500}
)

// Trait names in the product config documents.
const (
	traitBrightness  = "@core/traits/brightness"
	traitTemperature = "@core/traits/color-temperature"
	traitColor       = "@core/traits/color"
)

// Config is the parsed per-product trait catalog that constrains outgoing
// commands.
type Config struct {
	ProductID   string
	Brightness  Range
	Temperature Range
	Color       Range
	RGB         bool // product drives color channels, not only cw/ww
	Raw         json.RawMessage
}

type traitDoc struct {
	DeviceTraits []struct {
		Trait       string `json:"trait"`
		ValueSchema struct {
			Enum       []int `json:"enum"`
			Properties struct {
				Brightness *struct {
					Minimum int `json:"minimum"`
					Maximum int `json:"maximum"`
				} `json:"brightness"`
				ColorTemperature *struct {
					Enum []int `json:"enum"`
				} `json:"colorTemperature"`
			} `json:"properties"`
			Definitions struct {
				ColorValue *struct {
					Minimum int `json:"minimum"`
					Maximum int `json:"maximum"`
				} `json:"color_value"`
			} `json:"definitions"`
		} `json:"value_schema"`
	} `json:"deviceTraits"`
}

// ParseConfig reads a raw device-config document. Missing or malformed
// traits fall back to the defaults, so a partially filled config still
// yields usable ranges.
func ParseConfig(productID string, raw []byte) *Config {
	cfg := &Config{
		ProductID:   productID,
		Brightness:  DefaultBrightnessRange,
		Temperature: DefaultTemperatureRange,
		Color:       DefaultColorRange,
		RGB:         strings.Contains(productID, ".rgb"),
		Raw:         append(json.RawMessage{}, raw...),
	}
	var doc traitDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return cfg
	}
	for _, trait := range doc.DeviceTraits {
		switch trait.Trait {
		case traitBrightness:
			if b := trait.ValueSchema.Properties.Brightness; b != nil {
				cfg.Brightness = Range{Min: b.Minimum, Max: b.Maximum}
			}
		case traitTemperature:
			enum := trait.ValueSchema.Enum
			if ct := trait.ValueSchema.Properties.ColorTemperature; ct != nil {
				enum = ct.Enum
			}
			if len(enum) >= 2 {
				cfg.Temperature = Range{Min: enum[0], Max: enum[1]}
			}
		case traitColor:
			if cv := trait.ValueSchema.Definitions.ColorValue; cv != nil {
				cfg.Color = Range{Min: cv.Minimum, Max: cv.Maximum}
			}
		}
	}
	return cfg
}

// ColorRange returns the device's color channel range, defaulting when no
// config is attached.
func (d *Device) ColorRange() Range {
	if cfg := d.Config(); cfg != nil {
		return cfg.Color
	}
	return DefaultColorRange
}

// BrightnessRange returns the device's brightness percentage range.
func (d *Device) BrightnessRange() Range {
	if cfg := d.Config(); cfg != nil {
		return cfg.Brightness
	}
	return DefaultBrightnessRange
}

// TemperatureRange returns the device's color temperature range in kelvin.
func (d *Device) TemperatureRange() Range {
	if cfg := d.Config(); cfg != nil {
		return cfg.Temperature
	}
	return DefaultTemperatureRange
}

// SupportsRGB reports whether the product drives color channels. Without a
// config the product-id decides.
func (d *Device) SupportsRGB() bool {
	if cfg := d.Config(); cfg != nil {
		return cfg.RGB
	}
	return strings.Contains(d.ProductID(), ".rgb")
}
