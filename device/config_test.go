package device_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mwandt/qcxctl/device"
)

const rgbE27Config = `{
  "deviceTraits": [
    {
      "trait": "@core/traits/brightness",
      "value_schema": {"properties": {"brightness": {"minimum": 5, "maximum": 95}}}
    },
    {
      "trait": "@core/traits/color-temperature",
      "value_schema": {"properties": {"colorTemperature": {"enum": [2700, 6000]}}}
    },
    {
      "trait": "@core/traits/color",
      "value_schema": {"definitions": {"color_value": {"minimum": 0, "maximum": 255}}}
    }
  ]
}`

func TestParseConfigTraits(t *testing.T) {
	cfg := device.ParseConfig("@klyqa.lighting.rgb-cw-ww.e27", []byte(rgbE27Config))
	assert.Equal(t, device.Range{Min: 5, Max: 95}, cfg.Brightness)
	assert.Equal(t, device.Range{Min: 2700, Max: 6000}, cfg.Temperature)
	assert.Equal(t, device.Range{Min: 0, Max: 255}, cfg.Color)
	assert.True(t, cfg.RGB)
}

// Some configs carry the temperature enum directly on the value schema.
func TestParseConfigBareTemperatureEnum(t *testing.T) {
	raw := `{"deviceTraits":[{"trait":"@core/traits/color-temperature","value_schema":{"enum":[2000,6500]}}]}`
	cfg := device.ParseConfig("@klyqa.lighting.cw-ww.gu10", []byte(raw))
	assert.Equal(t, device.Range{Min: 2000, Max: 6500}, cfg.Temperature)
	assert.False(t, cfg.RGB)
}

func TestParseConfigDefaults(t *testing.T) {
	cfg := device.ParseConfig("@klyqa.lighting.cw-ww.e14", []byte(`{}`))
	assert.Equal(t, device.DefaultBrightnessRange, cfg.Brightness)
	assert.Equal(t, device.DefaultTemperatureRange, cfg.Temperature)
	assert.Equal(t, device.DefaultColorRange, cfg.Color)

	malformed := device.ParseConfig("@klyqa.lighting.cw-ww.e14", []byte(`not-json`))
	assert.Equal(t, device.DefaultBrightnessRange, malformed.Brightness)
}

func TestDeviceRangesWithoutConfig(t *testing.T) {
	lamp := device.New("aa", "@klyqa.lighting.rgb-cw-ww.e27")
	assert.Equal(t, device.DefaultColorRange, lamp.ColorRange())
	assert.Equal(t, device.DefaultBrightnessRange, lamp.BrightnessRange())
	assert.Equal(t, device.DefaultTemperatureRange, lamp.TemperatureRange())
	assert.True(t, lamp.SupportsRGB())

	lamp.ReadConfig(device.ParseConfig(lamp.ProductID(), []byte(rgbE27Config)))
	assert.Equal(t, device.Range{Min: 2700, Max: 6000}, lamp.TemperatureRange())
}

func TestRangeContains(t *testing.T) {
	r := device.Range{Min: 2000, Max: 6500}
	assert.True(t, r.Contains(2000))
	assert.True(t, r.Contains(6500))
	assert.False(t, r.Contains(1999))
	assert.False(t, r.Contains(6501))
}
