package device_test

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwandt/qcxctl/device"
)

func mustMsg(t *testing.T, c device.Command) string {
	t.Helper()
	s, err := c.MsgString()
	require.NoError(t, err)
	return s
}

func TestSimpleCommandWire(t *testing.T) {
	assert.Equal(t, `{"type":"ping"}`, mustMsg(t, device.PingCommand{}))
	assert.Equal(t, `{"type":"request"}`, mustMsg(t, device.RequestCommand{}))
	assert.Equal(t, `{"type":"reboot"}`, mustMsg(t, device.RebootCommand{}))
	assert.Equal(t, `{"type":"factory_reset"}`, mustMsg(t, device.FactoryResetCommand{}))
	assert.Equal(t, `{"type":"fw_update","url":"http://host/ota.bin"}`,
		mustMsg(t, device.FirmwareUpdateCommand{URL: "http://host/ota.bin"}))
	assert.Equal(t, `{"type":"backend","link_enabled":"yes"}`,
		mustMsg(t, device.BackendCommand{LinkEnabled: "yes"}))
}

func TestColorCommandWire(t *testing.T) {
	cmd := device.ColorCommand{
		Color:          device.RGBColor{Red: 2, Green: 22, Blue: 222},
		TransitionTime: 4000,
	}
	assert.Equal(t,
		`{"type":"request","color":{"red":2,"green":22,"blue":222},"transitionTime":4000}`,
		mustMsg(t, cmd))
	assert.Equal(t, 4*time.Second, cmd.Pause())
}

func TestPercentColorCommandWire(t *testing.T) {
	cmd := device.PercentColorCommand{Red: 10, Green: 20, Blue: 30, Warm: 40, Cold: 50, TransitionTime: 100}
	assert.Equal(t,
		`{"type":"request","p_color":{"red":10,"green":20,"blue":30,"warm":40,"cold":50},"transitionTime":100}`,
		mustMsg(t, cmd))
}

func TestTemperatureCommandWire(t *testing.T) {
	cmd := device.TemperatureCommand{Kelvin: 2700, TransitionTime: 500}
	assert.Equal(t,
		`{"type":"request","temperature":2700,"transitionTime":500}`,
		mustMsg(t, cmd))
	assert.Equal(t, 500*time.Millisecond, cmd.Pause())
}

func TestBrightnessCommandWire(t *testing.T) {
	cmd := device.BrightnessCommand{Percentage: 75, TransitionTime: 0}
	assert.Equal(t,
		`{"type":"request","brightness":{"percentage":75},"transitionTime":0}`,
		mustMsg(t, cmd))
}

func TestPowerCommandWire(t *testing.T) {
	assert.Equal(t, `{"type":"request","status":"on"}`, mustMsg(t, device.PowerCommand{Status: "on"}))
	assert.Equal(t, `{"type":"request","status":"off"}`, mustMsg(t, device.PowerCommand{Status: "off"}))
}

func TestExternalSourceCommandWire(t *testing.T) {
	cmd := device.ExternalSourceCommand{Mode: device.ExtE131, Port: 5568, Channel: 1}
	assert.Equal(t,
		`{"type":"request","external":{"mode":"EXT_E131","port":5568,"channel":1}}`,
		mustMsg(t, cmd))
}

func TestFadeCommandWire(t *testing.T) {
	assert.Equal(t,
		`{"type":"request","fade_out":300,"fade_in":200}`,
		mustMsg(t, device.FadeCommand{In: 200, Out: 300}))
}

func TestRoutineCommandWire(t *testing.T) {
	assert.Equal(t, `{"type":"routine","action":"list"}`,
		mustMsg(t, device.RoutineCommand{Action: device.RoutineList}))
	assert.Equal(t, `{"type":"routine","action":"start","id":"0"}`,
		mustMsg(t, device.RoutineCommand{Action: device.RoutineStart, ID: "0"}))
	assert.Equal(t, `{"type":"routine","action":"delete","id":"3"}`,
		mustMsg(t, device.RoutineCommand{Action: device.RoutineDelete, ID: "3"}))
	assert.Equal(t,
		`{"type":"routine","action":"put","id":"0","scene":"102","commands":"5ch 0 0 0 65535 0 65535 500;p 1000;"}`,
		mustMsg(t, device.RoutineCommand{
			Action:   device.RoutinePut,
			ID:       "0",
			Scene:    "102",
			Commands: "5ch 0 0 0 65535 0 65535 500;p 1000;",
		}))
}

func rgbLamp() *device.Device {
	return device.New("00ac629de9ad2f4409dc", "@klyqa.lighting.rgb-cw-ww.e27")
}

func cwwwLamp() *device.Device {
	return device.New("29daa5a4439969f57934", "@klyqa.lighting.cw-ww.e14")
}

func TestColorCheckBoundaries(t *testing.T) {
	lamp := rgbLamp()

	ok := device.ColorCommand{Color: device.RGBColor{Red: 255, Green: 0, Blue: 0}}
	assert.NoError(t, ok.CheckValues(lamp))

	bad := device.ColorCommand{Color: device.RGBColor{Red: 256, Green: 0, Blue: 0}}
	assert.Error(t, bad.CheckValues(lamp))

	forced := device.ColorCommand{Color: device.RGBColor{Red: 256, Green: 0, Blue: 0}, Force: true}
	assert.True(t, forced.Forced())
}

func TestBrightnessCheckBoundaries(t *testing.T) {
	lamp := rgbLamp()
	assert.NoError(t, device.BrightnessCommand{Percentage: 0}.CheckValues(lamp))
	assert.NoError(t, device.BrightnessCommand{Percentage: 100}.CheckValues(lamp))
	assert.Error(t, device.BrightnessCommand{Percentage: 101}.CheckValues(lamp))
}

func TestTemperatureCheckBoundaries(t *testing.T) {
	lamp := rgbLamp()
	lamp.ReadConfig(&device.Config{
		ProductID:   lamp.ProductID(),
		Brightness:  device.DefaultBrightnessRange,
		Temperature: device.Range{Min: 2000, Max: 6500},
		Color:       device.DefaultColorRange,
		RGB:         true,
	})
	assert.Error(t, device.TemperatureCommand{Kelvin: 1999}.CheckValues(lamp))
	assert.Error(t, device.TemperatureCommand{Kelvin: 6501}.CheckValues(lamp))
	assert.NoError(t, device.TemperatureCommand{Kelvin: 6500}.CheckValues(lamp))
	assert.NoError(t, device.TemperatureCommand{Kelvin: 2000}.CheckValues(lamp))
}

func TestSceneCheck(t *testing.T) {
	// Jazz Club is RGB-only, Cold White works everywhere.
	jazz, ok := device.SceneByLabel("Jazz Club")
	require.True(t, ok)
	cold, ok := device.SceneByLabel("Cold White")
	require.True(t, ok)
	require.True(t, cold.Cwww)

	put := func(sceneID int) device.RoutineCommand {
		return device.RoutineCommand{Action: device.RoutinePut, ID: "0", Scene: strconv.Itoa(sceneID), Commands: "x"}
	}

	assert.NoError(t, put(jazz.ID).CheckValues(rgbLamp()))
	assert.Error(t, put(jazz.ID).CheckValues(cwwwLamp()))
	assert.NoError(t, put(cold.ID).CheckValues(cwwwLamp()))

	assert.Error(t, put(99999).CheckValues(rgbLamp()), "unknown scene id")

	// List and start carry no scene to check.
	assert.NoError(t, device.RoutineCommand{Action: device.RoutineList}.CheckValues(cwwwLamp()))
}
