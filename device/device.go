// Package device models the Klyqa devices a controller talks to: the
// registry entries built from identity frames, the Light and Vacuum kinds
// with their status documents, per-product trait configs, and the command
// catalog that serializes to the wire.
package device

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gosimple/slug"
)

// TypeJSON is a decoded JSON object.
type TypeJSON = map[string]any

// NoUID marks a device object created before its identity frame arrived.
const NoUID = "no_uid"

// UseLockTimeout bounds how long a connection waits for exclusive use of a
// device.
const UseLockTimeout = 30 * time.Second

// FormatUID canonicalizes a unit-id: lowercased, slugified.
func FormatUID(text string) string {
	return slug.Make(text)
}

// Kind discriminates the concrete device class, derived from the
// product-id.
type Kind int

const (
	KindGeneric Kind = iota
	KindLight
	KindVacuum
)

func (k Kind) String() string {
	switch k {
	case KindLight:
		return "light"
	case KindVacuum:
		return "vacuum"
	}
	return "generic"
}

// KindFromProductID maps a product-id like "@klyqa.lighting.rgb-cw-ww.e27"
// to a device kind.
func KindFromProductID(productID string) Kind {
	switch {
	case strings.Contains(productID, ".lighting"):
		return KindLight
	case strings.Contains(productID, ".cleaning"):
		return KindVacuum
	}
	return KindGeneric
}

// Identity is the cleartext JSON body of a type-0 frame.
type Identity struct {
	FwVersion      string `json:"fw_version"`
	FwBuild        string `json:"fw_build"`
	HwVersion      string `json:"hw_version"`
	ManufacturerID string `json:"manufacturer_id"`
	ProductID      string `json:"product_id"`
	SdkVersion     string `json:"sdk_version,omitempty"`
	UnitID         string `json:"unit_id"`
}

// Status is the polymorphic last-known state of a device. Implementations
// self-update from a status/statechange JSON frame.
type Status interface {
	UpdateFromJSON(raw []byte) error
}

// Device is one registry entry. The use-lock serializes connections doing
// work for the same device; it is acquired with a timeout and released by
// owner identity, so a non-owner release is a no-op.
type Device struct {
	mu sync.RWMutex

	uid       string
	kind      Kind
	ident     Identity
	localAddr string
	config    *Config
	status    Status

	useSem   chan struct{}
	ownerMu  sync.Mutex
	useOwner string
}

// New creates a device of the kind selected by the product-id.
func New(uid, productID string) *Device {
	uid = FormatUID(uid)
	if uid == "" {
		uid = NoUID
	}
	kind := KindFromProductID(productID)
	d := &Device{
		uid:    uid,
		kind:   kind,
		useSem: make(chan struct{}, 1),
	}
	d.ident.UnitID = uid
	d.ident.ProductID = productID
	switch kind {
	case KindLight:
		d.status = &LightStatus{}
	case KindVacuum:
		d.status = &VacuumStatus{}
	}
	return d
}

// UID returns the canonical unit-id.
func (d *Device) UID() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.uid
}

// Kind returns the device kind.
func (d *Device) Kind() Kind {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.kind
}

// ProductID returns the model string from the identity.
func (d *Device) ProductID() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.ident.ProductID
}

// Ident returns a copy of the last seen identity.
func (d *Device) Ident() Identity {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.ident
}

// SetIdent attaches an identity received over the wire.
func (d *Device) SetIdent(ident Identity) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ident.UnitID = FormatUID(ident.UnitID)
	d.ident = ident
	d.uid = ident.UnitID
	d.kind = KindFromProductID(ident.ProductID)
}

// LocalAddr returns the address of the device's last local connection.
func (d *Device) LocalAddr() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.localAddr
}

// SetLocalAddr records the remote address of the current connection.
func (d *Device) SetLocalAddr(addr string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.localAddr = addr
}

// Config returns the parsed device-config, or nil when none is cached for
// the product.
func (d *Device) Config() *Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.config
}

// ReadConfig attaches a parsed per-product trait config.
func (d *Device) ReadConfig(cfg *Config) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.config = cfg
}

// Status returns the last known status document, nil until the first
// status frame was seen on a generic device.
func (d *Device) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.status
}

// Name renders the device for logs.
func (d *Device) Name() string {
	return d.UID()
}

// SaveMessage folds a decoded device JSON frame into the identity or
// status, keyed on its "type" field. Unknown types are ignored.
func (d *Device) SaveMessage(raw []byte) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		slog.Error("Could not process device response", "uid", d.UID(), "err", err)
		return
	}
	switch envelope.Type {
	case "ident":
		var body struct {
			Ident Identity `json:"ident"`
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			slog.Error("Could not decode identity", "uid", d.UID(), "err", err)
			return
		}
		d.SetIdent(body.Ident)
	case "status", "statechange":
		d.mu.Lock()
		if d.status == nil {
			d.status = &GenericStatus{}
		}
		st := d.status
		d.mu.Unlock()
		if err := st.UpdateFromJSON(raw); err != nil {
			slog.Error("Could not save device status", "uid", d.UID(), "err", err)
		}
	}
}

// TryUse acquires the exclusive use-lock, waiting at most timeout. The
// owner string identifies the acquiring connection.
func (d *Device) TryUse(owner string, timeout time.Duration) bool {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case d.useSem <- struct{}{}:
		d.ownerMu.Lock()
		d.useOwner = owner
		d.ownerMu.Unlock()
		slog.Debug("got lock", "device", d.Name(), "owner", owner)
		return true
	case <-t.C:
		slog.Error("Timeout for getting the lock for device", "device", d.Name())
		return false
	}
}

// Release returns the use-lock if owner still holds it. Releasing from a
// non-owner is a no-op.
func (d *Device) Release(owner string) {
	d.ownerMu.Lock()
	defer d.ownerMu.Unlock()
	if d.useOwner != owner || d.useOwner == "" {
		return
	}
	d.useOwner = ""
	<-d.useSem
	slog.Debug("got unlock", "device", d.Name(), "owner", owner)
}

// GenericStatus keeps the raw document for devices of unknown kind.
type GenericStatus struct {
	mu     sync.Mutex
	Fields TypeJSON
}

func (s *GenericStatus) UpdateFromJSON(raw []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fields == nil {
		s.Fields = TypeJSON{}
	}
	incoming := TypeJSON{}
	if err := json.Unmarshal(raw, &incoming); err != nil {
		return err
	}
	for k, v := range incoming {
		s.Fields[k] = v
	}
	return nil
}
