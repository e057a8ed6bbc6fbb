package device

import (
	"fmt"
	"sync"
	"time"

	json "github.com/goccy/go-json"
)

// VcWorkingMode selects what a vacuum cleaner does next. Wire encoding is
// the 1-based ordinal.
type VcWorkingMode int

const (
	VcStandby VcWorkingMode = iota + 1
	VcRandom
	VcSmart
	VcWallFollow
	VcMop
	VcSpiral
	VcPartialBow
	VcSroom
	VcChargeGo
)

var workingModeNames = []string{
	"STANDBY", "RANDOM", "SMART", "WALL_FOLLOW", "MOP",
	"SPIRAL", "PARTIAL_BOW", "SROOM", "CHARGE_GO",
}

func (m VcWorkingMode) String() string {
	if m < VcStandby || int(m) > len(workingModeNames) {
		return fmt.Sprintf("VcWorkingMode(%d)", int(m))
	}
	return workingModeNames[m-1]
}

// ParseWorkingMode resolves a mode name like "SMART".
func ParseWorkingMode(name string) (VcWorkingMode, error) {
	for i, n := range workingModeNames {
		if n == name {
			return VcWorkingMode(i + 1), nil
		}
	}
	return 0, fmt.Errorf("device: unknown working mode %q", name)
}

// VcSuction is the suction strength. The wire carries the 0-based index,
// see Wire.
type VcSuction int

const (
	VcSuctionNull VcSuction = iota + 1
	VcSuctionStrong
	VcSuctionSmall
	VcSuctionNormal
	VcSuctionMax
)

var suctionNames = []string{"NULL", "STRONG", "SMALL", "NORMAL", "MAX"}

func (s VcSuction) String() string {
	if s < VcSuctionNull || int(s) > len(suctionNames) {
		return fmt.Sprintf("VcSuction(%d)", int(s))
	}
	return suctionNames[s-1]
}

// Wire returns the on-wire encoding: the enum ordinal minus one.
func (s VcSuction) Wire() int {
	return int(s) - 1
}

// ParseSuction resolves a suction name like "MAX".
func ParseSuction(name string) (VcSuction, error) {
	for i, n := range suctionNames {
		if n == name {
			return VcSuction(i + 1), nil
		}
	}
	return 0, fmt.Errorf("device: unknown suction strength %q", name)
}

// VcWorkingStatus is what the cleaner reports it is currently doing.
type VcWorkingStatus int

const (
	VcWsSleep VcWorkingStatus = iota + 1
	VcWsStandby
	VcWsCleaning
	VcWsCleaningAuto
	VcWsCleaningRandom
	VcWsCleaningSroom
	VcWsCleaningEdge
	VcWsCleaningSpot
	VcWsCleaningComp
	VcWsDocking
	VcWsCharging
	VcWsChargingDC
	VcWsChargingComp
	VcWsError
)

var workingStatusNames = []string{
	"SLEEP", "STANDBY", "CLEANING", "CLEANING_AUTO", "CLEANING_RANDOM",
	"CLEANING_SROOM", "CLEANING_EDGE", "CLEANING_SPOT", "CLEANING_COMP",
	"DOCKING", "CHARGING", "CHARGING_DC", "CHARGING_COMP", "ERROR",
}

func (s VcWorkingStatus) String() string {
	if s < VcWsSleep || int(s) > len(workingStatusNames) {
		return fmt.Sprintf("VcWorkingStatus(%d)", int(s))
	}
	return workingStatusNames[s-1]
}

// Water quantity and movement direction travel as plain strings.
const (
	VcWaterLow  = "LOW"
	VcWaterMid  = "MID"
	VcWaterHigh = "HIGH"

	VcDirForwards  = "FORWARDS"
	VcDirBackwards = "BACKWARDS"
	VcDirTurnLeft  = "TURN_LEFT"
	VcDirTurnRight = "TURN_RIGHT"
	VcDirStop      = "STOP"
)

// VacuumStatus is the last known state of a vacuum cleaner.
type VacuumStatus struct {
	mu sync.Mutex

	Action          string   `json:"action"`
	AlarmMessages   string   `json:"alarmmessages"`
	Area            int      `json:"area"`
	Battery         int      `json:"battery"`
	Beeping         string   `json:"beeping"`
	CalibrationTime int      `json:"calibrationtime"`
	CarpetBooster   int      `json:"carpetbooster"`
	Cleaning        string   `json:"cleaning"`
	CleaningRec     []string `json:"cleaningrec"`
	CommissionInfo  string   `json:"commissioninfo"`
	Direction       string   `json:"direction"`
	EquipmentModel  string   `json:"equipmentmodel"`
	Errors          []string `json:"errors"`
	Filter          int      `json:"filter"`
	FilterTresh     int      `json:"filter_tresh"`
	FwVersion       string   `json:"fwversion"`
	MCU             string   `json:"mcu"`
	MCUVersion      string   `json:"mcuversion"`
	Power           string   `json:"power"`
	RollingBrush    int      `json:"rollingbrush"`
	RollingBrushTr  int      `json:"rollingbrush_tresh"`
	SdkVersion      string   `json:"sdkversion"`
	SideBrush       int      `json:"sidebrush"`
	SideBrushTresh  int      `json:"sidebrush_tresh"`
	Suction         string   `json:"suction"`
	Time            int      `json:"time"`
	WaterTank       string   `json:"watertank"`
	WorkingMode     *int     `json:"workingmode"`
	WorkingStatus   string   `json:"workingstatus"`

	Connected bool      `json:"-"`
	Seen      time.Time `json:"-"`
}

// UpdateFromJSON folds a status frame into the struct.
func (s *VacuumStatus) UpdateFromJSON(raw []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := json.Unmarshal(raw, s); err != nil {
		return err
	}
	s.Connected = true
	s.Seen = time.Now()
	return nil
}
