package device

import (
	"time"

	json "github.com/goccy/go-json"
)

// Command is one unit of work serialized into a data frame.
type Command interface {
	// MsgString renders the wire JSON.
	MsgString() (string, error)
}

// TransitionTimer is implemented by commands that declare a pause after
// sending, giving the device time to complete a transition before the next
// command is written.
type TransitionTimer interface {
	Command
	Pause() time.Duration
}

// ValueChecker is implemented by commands validated against the target
// device's trait config. A failed check drops the whole message unless the
// command is forced.
type ValueChecker interface {
	Command
	CheckValues(d *Device) error
	Forced() bool
}

func marshalCommand(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

type typeOnly struct {
	Type string `json:"type"`
}

// PingCommand probes a device. Any answer confirms the shared key.
type PingCommand struct{}

func (PingCommand) MsgString() (string, error) {
	return marshalCommand(typeOnly{Type: "ping"})
}

// RequestCommand asks a device for its full status.
type RequestCommand struct{}

func (RequestCommand) MsgString() (string, error) {
	return marshalCommand(typeOnly{Type: "request"})
}

// RebootCommand triggers a device reboot.
type RebootCommand struct{}

func (RebootCommand) MsgString() (string, error) {
	return marshalCommand(typeOnly{Type: "reboot"})
}

// FactoryResetCommand wipes the device. It has to be onboarded again
// afterwards.
type FactoryResetCommand struct{}

func (FactoryResetCommand) MsgString() (string, error) {
	return marshalCommand(typeOnly{Type: "factory_reset"})
}

// FirmwareUpdateCommand points the device at an OTA image.
type FirmwareUpdateCommand struct {
	URL string
}

func (c FirmwareUpdateCommand) MsgString() (string, error) {
	return marshalCommand(struct {
		Type string `json:"type"`
		URL  string `json:"url"`
	}{Type: "fw_update", URL: c.URL})
}

// BackendCommand enables or disables the device's cloud backend link.
type BackendCommand struct {
	LinkEnabled string // "yes" or "no"
}

func (c BackendCommand) MsgString() (string, error) {
	return marshalCommand(struct {
		Type        string `json:"type"`
		LinkEnabled string `json:"link_enabled"`
	}{Type: "backend", LinkEnabled: c.LinkEnabled})
}

// RoutineAction selects a routine operation.
type RoutineAction string

const (
	RoutineList   RoutineAction = "list"
	RoutinePut    RoutineAction = "put"
	RoutineStart  RoutineAction = "start"
	RoutineDelete RoutineAction = "delete"
	RoutineCount  RoutineAction = "count"
)

// RoutineCommand manages routine programs stored on the device. Put
// carries a scene id and a command program; start and delete address a
// stored slot by id.
type RoutineCommand struct {
	Action   RoutineAction
	ID       string
	Scene    string
	Commands string
	Force    bool
}

func (c RoutineCommand) MsgString() (string, error) {
	return marshalCommand(struct {
		Type     string        `json:"type"`
		Action   RoutineAction `json:"action"`
		ID       string        `json:"id,omitempty"`
		Scene    string        `json:"scene,omitempty"`
		Commands string        `json:"commands,omitempty"`
	}{Type: "routine", Action: c.Action, ID: c.ID, Scene: c.Scene, Commands: c.Commands})
}

// CheckValues rejects putting an RGB-only scene on a cw/ww-only product.
func (c RoutineCommand) CheckValues(d *Device) error {
	if c.Action != RoutinePut || c.Scene == "" {
		return nil
	}
	return checkSceneSupport(d, c.Scene)
}

func (c RoutineCommand) Forced() bool {
	return c.Force
}
