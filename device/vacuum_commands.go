package device

import (
	"strings"

	json "github.com/goccy/go-json"
)

// Vacuum state field names addressable in get requests.
const (
	VacFieldPower           = "power"
	VacFieldCleaning        = "cleaning"
	VacFieldBeeping         = "beeping"
	VacFieldBattery         = "battery"
	VacFieldSideBrush       = "sidebrush"
	VacFieldRollingBrush    = "rollingbrush"
	VacFieldFilter          = "filter"
	VacFieldCarpetBooster   = "carpetbooster"
	VacFieldArea            = "area"
	VacFieldTime            = "time"
	VacFieldCalibrationTime = "calibrationtime"
	VacFieldWorkingMode     = "workingmode"
	VacFieldWorkingStatus   = "workingstatus"
	VacFieldSuction         = "suction"
	VacFieldWater           = "water"
	VacFieldDirection       = "direction"
	VacFieldErrors          = "errors"
	VacFieldCleaningRec     = "cleaningrec"
	VacFieldEquipmentModel  = "equipmentmodel"
	VacFieldAlarmMessages   = "alarmmessages"
	VacFieldCommissionInfo  = "commissioninfo"
	VacFieldMCU             = "mcu"
)

// VacuumAllFields lists every state field, for a whole-state get.
func VacuumAllFields() []string {
	return []string{
		VacFieldPower, VacFieldCleaning, VacFieldBeeping, VacFieldBattery,
		VacFieldSideBrush, VacFieldRollingBrush, VacFieldFilter,
		VacFieldCarpetBooster, VacFieldArea, VacFieldTime,
		VacFieldCalibrationTime, VacFieldWorkingMode, VacFieldWorkingStatus,
		VacFieldSuction, VacFieldWater, VacFieldDirection, VacFieldErrors,
		VacFieldCleaningRec, VacFieldEquipmentModel, VacFieldAlarmMessages,
		VacFieldCommissionInfo, VacFieldMCU,
	}
}

// requestObject renders {"type":"request","action":<action>, ...pairs} with
// the pairs in declaration order. The devices treat a present-and-null
// field as "query this field", which no struct tag can express, so the
// object is assembled by hand.
type requestObject struct {
	action string
	keys   []string
	values []any
}

func newRequestObject(action string) *requestObject {
	return &requestObject{action: action}
}

func (r *requestObject) put(key string, value any) *requestObject {
	r.keys = append(r.keys, key)
	r.values = append(r.values, value)
	return r
}

func (r *requestObject) render() (string, error) {
	var b strings.Builder
	b.WriteString(`{"type":"request","action":`)
	action, err := json.Marshal(r.action)
	if err != nil {
		return "", err
	}
	b.Write(action)
	for i, key := range r.keys {
		b.WriteByte(',')
		k, err := json.Marshal(key)
		if err != nil {
			return "", err
		}
		b.Write(k)
		b.WriteByte(':')
		v, err := json.Marshal(r.values[i])
		if err != nil {
			return "", err
		}
		b.Write(v)
	}
	b.WriteByte('}')
	return b.String(), nil
}

// VacuumGetCommand queries the named state fields; each travels as a
// present-and-null member.
type VacuumGetCommand struct {
	Fields []string
}

func (c VacuumGetCommand) MsgString() (string, error) {
	req := newRequestObject("get")
	for _, f := range c.Fields {
		req.put(f, nil)
	}
	return req.render()
}

// VacuumSetCommand changes cleaner state. Nil members are omitted; working
// mode travels as its 1-based ordinal and suction as its 0-based wire
// index.
type VacuumSetCommand struct {
	Power           *string // "on"/"off"
	Cleaning        *string
	Beeping         *string
	CarpetBooster   *int
	WorkingMode     *VcWorkingMode
	Suction         *VcSuction
	Water           *string
	Direction       *string
	CommissionInfo  *string
	CalibrationTime *int
}

func (c VacuumSetCommand) MsgString() (string, error) {
	req := newRequestObject("set")
	if c.Power != nil {
		req.put(VacFieldPower, *c.Power)
	}
	if c.Cleaning != nil {
		req.put(VacFieldCleaning, *c.Cleaning)
	}
	if c.Beeping != nil {
		req.put(VacFieldBeeping, *c.Beeping)
	}
	if c.CarpetBooster != nil {
		req.put(VacFieldCarpetBooster, *c.CarpetBooster)
	}
	if c.WorkingMode != nil {
		req.put(VacFieldWorkingMode, int(*c.WorkingMode))
	}
	if c.Suction != nil {
		req.put(VacFieldSuction, c.Suction.Wire())
	}
	if c.Water != nil {
		req.put(VacFieldWater, *c.Water)
	}
	if c.Direction != nil {
		req.put(VacFieldDirection, *c.Direction)
	}
	if c.CommissionInfo != nil {
		req.put(VacFieldCommissionInfo, *c.CommissionInfo)
	}
	if c.CalibrationTime != nil {
		req.put(VacFieldCalibrationTime, *c.CalibrationTime)
	}
	return req.render()
}

// VacuumResetCommand resets consumable life counters.
type VacuumResetCommand struct {
	SideBrush    bool
	RollingBrush bool
	Filter       bool
}

func (c VacuumResetCommand) MsgString() (string, error) {
	req := newRequestObject("reset")
	if c.SideBrush {
		req.put(VacFieldSideBrush, nil)
	}
	if c.RollingBrush {
		req.put(VacFieldRollingBrush, nil)
	}
	if c.Filter {
		req.put(VacFieldFilter, nil)
	}
	return req.render()
}

// VacuumProductInfoCommand asks for product information.
type VacuumProductInfoCommand struct{}

func (VacuumProductInfoCommand) MsgString() (string, error) {
	return newRequestObject("productinfo").render()
}
