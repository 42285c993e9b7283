package ble

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"

	"github.com/openlift/cable-coach/internal/machine"
)

var _ machine.Transport = (*Peripheral)(nil)

// Peripheral is one BLE device seen by the Manager. Once connected it
// satisfies machine.Transport, so the rest of the app never touches the
// bluetooth package directly.
type Peripheral struct {
	logger  *log.Logger
	address bluetooth.Address

	mu           sync.RWMutex
	localName    string
	scanRSSI     int16
	scanLastSeen time.Time
	device       *bluetooth.Device // nil while disconnected

	// bleMu serializes GATT operations; concurrent discovery/writes race
	// inside the adapter stacks.
	bleMu                  sync.Mutex
	serviceByUUID          map[string]*bluetooth.DeviceService
	characteristicByUUID   map[string]*bluetooth.DeviceCharacteristic
	serviceCharsDiscovered map[string]bool
	allServicesDiscovered  bool
}

func newPeripheral(logger *log.Logger, address bluetooth.Address) *Peripheral {
	if logger == nil {
		panic("Peripheral: logger cannot be nil")
	}
	return &Peripheral{
		logger:                 logger,
		address:                address,
		localName:              "Unknown",
		serviceByUUID:          make(map[string]*bluetooth.DeviceService),
		characteristicByUUID:   make(map[string]*bluetooth.DeviceCharacteristic),
		serviceCharsDiscovered: make(map[string]bool),
	}
}

func (p *Peripheral) GetAddressString() string {
	return p.address.String()
}

func (p *Peripheral) GetLocalName() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.localName
}

func (p *Peripheral) IsConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.device != nil
}

func (p *Peripheral) noteScan(result bluetooth.ScanResult) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if name := result.LocalName(); name != "" {
		p.localName = name
	}
	p.scanRSSI = result.RSSI
	p.scanLastSeen = time.Now()
}

func (p *Peripheral) setDevice(device *bluetooth.Device) {
	p.mu.Lock()
	p.device = device
	p.mu.Unlock()

	if device == nil {
		// Cached GATT handles die with the connection.
		p.bleMu.Lock()
		p.serviceByUUID = make(map[string]*bluetooth.DeviceService)
		p.characteristicByUUID = make(map[string]*bluetooth.DeviceCharacteristic)
		p.serviceCharsDiscovered = make(map[string]bool)
		p.allServicesDiscovered = false
		p.bleMu.Unlock()
	}
}

func (p *Peripheral) connectedDevice() *bluetooth.Device {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.device
}

// waitForConnection polls until the adapter's connect handler reports the
// device, or the timeout passes.
func (p *Peripheral) waitForConnection(timeout time.Duration) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(timeout)

	for {
		select {
		case <-ticker.C:
			if p.IsConnected() {
				return nil
			}
		case <-deadline:
			return fmt.Errorf("timeout after %v waiting for connection to %s", timeout, p.GetAddressString())
		}
	}
}

// EnableNotifications subscribes callback to a characteristic.
func (p *Peripheral) EnableNotifications(serviceUUID string, characteristicUUID string, callback func(buf []byte)) error {
	p.bleMu.Lock()
	defer p.bleMu.Unlock()

	characteristic, err := p.getCharacteristicLocked(serviceUUID, characteristicUUID)
	if err != nil {
		return err
	}
	if err := characteristic.EnableNotifications(callback); err != nil {
		return fmt.Errorf("enabling notifications on %s: %w", characteristicUUID, err)
	}
	p.logger.Printf("Peripheral: notifications enabled for %s", characteristicUUID)
	return nil
}

// WriteCharacteristic writes data with response.
func (p *Peripheral) WriteCharacteristic(serviceUUID string, characteristicUUID string, data []byte) error {
	p.bleMu.Lock()
	defer p.bleMu.Unlock()

	characteristic, err := p.getCharacteristicLocked(serviceUUID, characteristicUUID)
	if err != nil {
		return err
	}
	if _, err := characteristic.Write(data); err != nil {
		return fmt.Errorf("writing %s: %w", characteristicUUID, err)
	}
	return nil
}

// Disconnect drops the connection if one is up.
func (p *Peripheral) Disconnect() error {
	device := p.connectedDevice()
	if device == nil {
		return nil
	}
	return device.Disconnect()
}

// getCharacteristicLocked resolves a characteristic through the discovery
// cache. Services are discovered all at once: per-service discovery calls
// interrupt notifications already running on earlier services.
func (p *Peripheral) getCharacteristicLocked(serviceUUIDStr, charUUIDStr string) (*bluetooth.DeviceCharacteristic, error) {
	cacheKey := serviceUUIDStr + "_" + charUUIDStr
	if characteristic, ok := p.characteristicByUUID[cacheKey]; ok {
		return characteristic, nil
	}

	device := p.connectedDevice()
	if device == nil {
		return nil, errors.New("not connected")
	}

	if !p.allServicesDiscovered {
		p.logger.Printf("Peripheral: discovering services on %s", p.GetAddressString())
		services, err := device.DiscoverServices(nil)
		if err != nil {
			return nil, fmt.Errorf("discovering services: %w", err)
		}
		for i := range services {
			svc := &services[i]
			p.serviceByUUID[svc.UUID().String()] = svc
		}
		p.allServicesDiscovered = true
	}

	service, ok := p.serviceByUUID[serviceUUIDStr]
	if !ok {
		return nil, fmt.Errorf("service %s not found on device", serviceUUIDStr)
	}

	if !p.serviceCharsDiscovered[serviceUUIDStr] {
		p.logger.Printf("Peripheral: discovering characteristics for %s", serviceUUIDStr)
		characteristics, err := service.DiscoverCharacteristics(nil)
		if err != nil {
			return nil, fmt.Errorf("discovering characteristics for %s: %w", serviceUUIDStr, err)
		}
		for i := range characteristics {
			char := &characteristics[i]
			p.characteristicByUUID[serviceUUIDStr+"_"+char.UUID().String()] = char
		}
		p.serviceCharsDiscovered[serviceUUIDStr] = true
	}

	characteristic, ok := p.characteristicByUUID[cacheKey]
	if !ok {
		return nil, fmt.Errorf("characteristic %s not found in service %s", charUUIDStr, serviceUUIDStr)
	}
	return characteristic, nil
}
