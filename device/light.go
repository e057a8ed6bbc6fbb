package device

import (
	"sync"
	"time"

	json "github.com/goccy/go-json"
)

// RGBColor is the color object of light requests and statuses.
type RGBColor struct {
	Red   int `json:"red"`
	Green int `json:"green"`
	Blue  int `json:"blue"`
}

// Brightness is the percentage object of light requests and statuses.
type Brightness struct {
	Percentage int `json:"percentage"`
}

// LightStatus is the last known state of a lamp, updated from status and
// statechange frames.
type LightStatus struct {
	mu sync.Mutex

	ActiveCommand int         `json:"active_command"`
	ActiveScene   string      `json:"active_scene"`
	Brightness    *Brightness `json:"brightness"`
	Color         *RGBColor   `json:"color"`
	FwVersion     string      `json:"fwversion"`
	Mode          string      `json:"mode"` // cmd, cct, rgb
	OpenSlots     int         `json:"open_slots"`
	Power         string      `json:"status"`
	SdkVersion    string      `json:"sdkversion"`
	Temperature   int         `json:"temperature"`

	Connected bool      `json:"-"`
	Seen      time.Time `json:"-"`
}

// UpdateFromJSON folds a status frame into the struct. Fields absent from
// the frame keep their previous values.
func (s *LightStatus) UpdateFromJSON(raw []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := json.Unmarshal(raw, s); err != nil {
		return err
	}
	s.Connected = true
	s.Seen = time.Now()
	return nil
}

// Snapshot returns a copy safe to read without holding the lock.
func (s *LightStatus) Snapshot() LightStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return LightStatus{
		ActiveCommand: s.ActiveCommand,
		ActiveScene:   s.ActiveScene,
		Brightness:    s.Brightness,
		Color:         s.Color,
		FwVersion:     s.FwVersion,
		Mode:          s.Mode,
		OpenSlots:     s.OpenSlots,
		Power:         s.Power,
		SdkVersion:    s.SdkVersion,
		Temperature:   s.Temperature,
		Connected:     s.Connected,
		Seen:          s.Seen,
	}
}
