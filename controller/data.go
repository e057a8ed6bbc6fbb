package controller

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"

	json "github.com/goccy/go-json"

	"github.com/mwandt/qcxctl/device"
	"github.com/mwandt/qcxctl/qcx"
)

// ControllerData holds the controller-wide state: the AES key table, the
// device registry and the per-product config catalog. It is created once
// at startup and passed explicitly to the handler.
type ControllerData struct {
	keyMu   sync.RWMutex
	aesKeys map[string][]byte

	devMu   sync.Mutex // serializes first-observe insertion
	devices map[string]*device.Device

	cfgMu         sync.RWMutex
	deviceConfigs map[string]json.RawMessage

	// UseDevKey enables the development-key fallback for devices without
	// an onboarded key.
	UseDevKey bool
}

// NewControllerData returns empty controller state.
func NewControllerData() *ControllerData {
	return &ControllerData{
		aesKeys:       make(map[string][]byte),
		devices:       make(map[string]*device.Device),
		deviceConfigs: make(map[string]json.RawMessage),
	}
}

// AddAESKey registers the 16-byte key for a unit-id, given as 32 hex
// characters. The reserved unit-id "all" applies to every device.
func (c *ControllerData) AddAESKey(uid, hexKey string) error {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return fmt.Errorf("controller: AES key for %s: %w", uid, err)
	}
	if len(key) != qcx.KeyLen {
		return fmt.Errorf("controller: AES key for %s: got %d bytes, want %d", uid, len(key), qcx.KeyLen)
	}
	c.keyMu.Lock()
	defer c.keyMu.Unlock()
	c.aesKeys[device.FormatUID(uid)] = key
	return nil
}

// AddAESKeyBytes registers a raw 16-byte key.
func (c *ControllerData) AddAESKeyBytes(uid string, key []byte) error {
	if len(key) != qcx.KeyLen {
		return fmt.Errorf("controller: AES key for %s: got %d bytes, want %d", uid, len(key), qcx.KeyLen)
	}
	c.keyMu.Lock()
	defer c.keyMu.Unlock()
	c.aesKeys[device.FormatUID(uid)] = append([]byte{}, key...)
	return nil
}

// KeyFor selects the key for a unit-id: a key registered under "all"
// wins, then the per-unit key, then the development key when that
// fallback is enabled.
func (c *ControllerData) KeyFor(uid string) ([]byte, bool) {
	c.keyMu.RLock()
	defer c.keyMu.RUnlock()
	if key, ok := c.aesKeys[BroadcastUID]; ok {
		return key, true
	}
	if key, ok := c.aesKeys[uid]; ok {
		return key, true
	}
	if c.UseDevKey {
		return qcx.DevKey, true
	}
	return nil, false
}

// AESKeysHex renders the key table for the on-disk cache.
func (c *ControllerData) AESKeysHex() map[string]string {
	c.keyMu.RLock()
	defer c.keyMu.RUnlock()
	out := make(map[string]string, len(c.aesKeys))
	for uid, key := range c.aesKeys {
		out[uid] = hex.EncodeToString(key)
	}
	return out
}

// Device looks a registered device up by canonical unit-id.
func (c *ControllerData) Device(uid string) (*device.Device, bool) {
	c.devMu.Lock()
	defer c.devMu.Unlock()
	d, ok := c.devices[uid]
	return d, ok
}

// Devices returns a snapshot of the registry.
func (c *ControllerData) Devices() map[string]*device.Device {
	c.devMu.Lock()
	defer c.devMu.Unlock()
	out := make(map[string]*device.Device, len(c.devices))
	for uid, d := range c.devices {
		out[uid] = d
	}
	return out
}

// GetOrCreateDevice returns the registered device for the unit-id,
// creating one of the right kind under the insertion lock on first
// observation. A freshly created device gets its product config attached
// when one is cached.
func (c *ControllerData) GetOrCreateDevice(uid, productID string) *device.Device {
	uid = device.FormatUID(uid)
	c.devMu.Lock()
	defer c.devMu.Unlock()
	if d, ok := c.devices[uid]; ok {
		return d
	}
	d := device.New(uid, productID)
	if cfg, ok := c.configLocked(productID); ok {
		d.ReadConfig(cfg)
	}
	c.devices[uid] = d
	slog.Info("Found new device", "uid", uid, "product_id", productID)
	return d
}

// SetDeviceConfig caches the raw config document for a product-id.
func (c *ControllerData) SetDeviceConfig(productID string, raw json.RawMessage) {
	c.cfgMu.Lock()
	defer c.cfgMu.Unlock()
	c.deviceConfigs[productID] = append(json.RawMessage{}, raw...)
}

// DeviceConfigs returns a snapshot of the raw config catalog.
func (c *ControllerData) DeviceConfigs() map[string]json.RawMessage {
	c.cfgMu.RLock()
	defer c.cfgMu.RUnlock()
	out := make(map[string]json.RawMessage, len(c.deviceConfigs))
	for pid, raw := range c.deviceConfigs {
		out[pid] = raw
	}
	return out
}

func (c *ControllerData) configLocked(productID string) (*device.Config, bool) {
	c.cfgMu.RLock()
	raw, ok := c.deviceConfigs[productID]
	c.cfgMu.RUnlock()
	if !ok {
		return nil, false
	}
	return device.ParseConfig(productID, raw), true
}

// ConfigFor parses the cached config for a product-id.
func (c *ControllerData) ConfigFor(productID string) (*device.Config, bool) {
	return c.configLocked(productID)
}
