package ble

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"

	"github.com/openlift/cable-coach/internal/machine"
	"github.com/openlift/cable-coach/internal/syncutil"
)

const connectTimeout = 10 * time.Second

// Filter selects which advertisement ends a scan. Address wins when set,
// then NamePrefix; with neither, any device advertising the trainer service
// matches.
type Filter struct {
	Address    string
	NamePrefix string
}

func (f Filter) matches(result bluetooth.ScanResult) bool {
	if f.Address != "" {
		return strings.EqualFold(result.Address.String(), f.Address)
	}
	if f.NamePrefix != "" {
		return strings.HasPrefix(result.LocalName(), f.NamePrefix)
	}
	for _, svc := range result.ServiceUUIDs() {
		if svc.String() == machine.ServiceUUIDTrainer {
			return true
		}
	}
	return false
}

// Manager owns the BLE adapter: scanning for the trainer, connecting, and
// keeping Peripheral connection state in step with the adapter's connect
// events.
type Manager struct {
	adapter *bluetooth.Adapter
	logger  *log.Logger

	mu                  sync.Mutex
	peripheralByAddress map[string]*Peripheral
	scanning            bool
}

func NewManager(adapter *bluetooth.Adapter, logger *log.Logger) *Manager {
	if adapter == nil {
		panic("Manager: adapter cannot be nil")
	}
	if logger == nil {
		panic("Manager: logger cannot be nil")
	}
	return &Manager{
		adapter:             adapter,
		logger:              logger,
		peripheralByAddress: make(map[string]*Peripheral),
	}
}

// Enable powers the adapter and installs the connect handler. Call once,
// before FindTrainer.
func (m *Manager) Enable() error {
	m.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		address := device.Address.String()
		peripheral := m.peripheral(address)
		if peripheral == nil {
			m.logger.Printf("Manager: connect event for unknown device %s (connected=%t)", address, connected)
			return
		}
		if connected {
			m.logger.Printf("Manager: connected to %s (%s)", peripheral.GetLocalName(), address)
			peripheral.setDevice(&device)
		} else {
			m.logger.Printf("Manager: disconnected from %s (%s)", peripheral.GetLocalName(), address)
			peripheral.setDevice(nil)
		}
	})
	if err := m.adapter.Enable(); err != nil {
		return fmt.Errorf("enabling BLE adapter: %w", err)
	}
	return nil
}

// FindTrainer scans until the filter matches an advertisement, then connects
// and waits for the link to come up.
func (m *Manager) FindTrainer(ctx context.Context, filter Filter) (*Peripheral, error) {
	m.mu.Lock()
	if m.scanning {
		m.mu.Unlock()
		return nil, errors.New("scan already in progress")
	}
	m.scanning = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.scanning = false
		m.mu.Unlock()
	}()

	found := make(chan bluetooth.ScanResult, 1)
	syncutil.Go(m.logger, func() {
		// Scan blocks until StopScan is called.
		err := m.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
			m.trackScanResult(result)
			if filter.matches(result) {
				select {
				case found <- result:
				default:
				}
			}
		})
		if err != nil {
			m.logger.Printf("Manager: scan ended with error: %v", err)
		}
	})

	var result bluetooth.ScanResult
	select {
	case result = <-found:
	case <-ctx.Done():
		if err := m.adapter.StopScan(); err != nil {
			m.logger.Printf("Manager: stopping scan: %v", err)
		}
		return nil, fmt.Errorf("scanning for trainer: %w", ctx.Err())
	}
	if err := m.adapter.StopScan(); err != nil {
		m.logger.Printf("Manager: stopping scan: %v", err)
	}

	peripheral := m.peripheral(result.Address.String())
	m.logger.Printf("Manager: found %s (%s), RSSI %d", peripheral.GetLocalName(), peripheral.GetAddressString(), result.RSSI)

	if _, err := m.adapter.Connect(result.Address, bluetooth.ConnectionParams{}); err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", result.Address.String(), err)
	}
	if err := peripheral.waitForConnection(connectTimeout); err != nil {
		return nil, err
	}
	return peripheral, nil
}

func (m *Manager) trackScanResult(result bluetooth.ScanResult) {
	address := result.Address.String()
	m.mu.Lock()
	peripheral, ok := m.peripheralByAddress[address]
	if !ok {
		peripheral = newPeripheral(m.logger, result.Address)
		m.peripheralByAddress[address] = peripheral
	}
	m.mu.Unlock()
	peripheral.noteScan(result)
}

func (m *Manager) peripheral(address string) *Peripheral {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peripheralByAddress[address]
}

// Shutdown disconnects everything and stops any scan in flight.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	peripherals := make([]*Peripheral, 0, len(m.peripheralByAddress))
	for _, peripheral := range m.peripheralByAddress {
		peripherals = append(peripherals, peripheral)
	}
	scanning := m.scanning
	m.mu.Unlock()

	if scanning {
		if err := m.adapter.StopScan(); err != nil {
			m.logger.Printf("Manager: stopping scan during shutdown: %v", err)
		}
	}
	for _, peripheral := range peripherals {
		if peripheral.IsConnected() {
			if err := peripheral.Disconnect(); err != nil {
				m.logger.Printf("Manager: disconnecting %s: %v", peripheral.GetAddressString(), err)
			}
		}
	}
	m.logger.Println("Manager: shutdown complete")
}
