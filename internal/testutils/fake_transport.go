package testutils

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/srg/shotbridge/internal/device"
)

// FakePeripheral describes a simulated timer. Build one with NewPeripheral.
type FakePeripheral struct {
	Address string
	Name    string

	values       map[string][]byte
	readErrs     map[string]error
	subscribeErr error
}

// PeripheralBuilder configures a FakePeripheral fluently.
type PeripheralBuilder struct {
	p *FakePeripheral
}

// NewPeripheral starts a peripheral with the given address and advertised name.
func NewPeripheral(address, name string) *PeripheralBuilder {
	return &PeripheralBuilder{p: &FakePeripheral{
		Address:  address,
		Name:     name,
		values:   make(map[string][]byte),
		readErrs: make(map[string]error),
	}}
}

// WithCharacteristic exposes a characteristic with an initial value.
func (b *PeripheralBuilder) WithCharacteristic(uuid string, value []byte) *PeripheralBuilder {
	b.p.values[device.NormalizeUUID(uuid)] = value
	return b
}

// WithReadError makes reads of uuid fail.
func (b *PeripheralBuilder) WithReadError(uuid string, err error) *PeripheralBuilder {
	key := device.NormalizeUUID(uuid)
	b.p.readErrs[key] = err
	if _, ok := b.p.values[key]; !ok {
		b.p.values[key] = nil
	}
	return b
}

// WithSubscribeError makes every Subscribe fail.
func (b *PeripheralBuilder) WithSubscribeError(err error) *PeripheralBuilder {
	b.p.subscribeErr = err
	return b
}

// Build returns the configured peripheral.
func (b *PeripheralBuilder) Build() *FakePeripheral {
	return b.p
}

// FakeTransport is an in-memory device.Transport.
type FakeTransport struct {
	// ScanDelay holds every scan open for this long (or until ctx ends).
	ScanDelay time.Duration

	mu          sync.Mutex
	peripherals map[string]*FakePeripheral
	connectErrs map[string]error
	scanErr     error
	links       map[string][]*FakeLink

	scanCalls    atomic.Int32
	connectCalls atomic.Int32
}

// NewFakeTransport creates a transport that knows the given peripherals.
func NewFakeTransport(peripherals ...*FakePeripheral) *FakeTransport {
	t := &FakeTransport{
		peripherals: make(map[string]*FakePeripheral),
		connectErrs: make(map[string]error),
		links:       make(map[string][]*FakeLink),
	}
	for _, p := range peripherals {
		t.Add(p)
	}
	return t
}

// Add registers a peripheral.
func (t *FakeTransport) Add(p *FakePeripheral) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.peripherals[p.Address] = p
}

// SetConnectError makes future connects to address fail with err (nil clears it).
func (t *FakeTransport) SetConnectError(address string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err == nil {
		delete(t.connectErrs, address)
		return
	}
	t.connectErrs[address] = err
}

// SetScanError makes future scans fail with err.
func (t *FakeTransport) SetScanError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.scanErr = err
}

// ScanCalls returns how many hardware scans ran.
func (t *FakeTransport) ScanCalls() int {
	return int(t.scanCalls.Load())
}

// ConnectCalls returns how many connects were attempted.
func (t *FakeTransport) ConnectCalls() int {
	return int(t.connectCalls.Load())
}

// Links returns every link opened to address, oldest first.
func (t *FakeTransport) Links(address string) []*FakeLink {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*FakeLink(nil), t.links[address]...)
}

// LastLink returns the most recent link to address, or nil.
func (t *FakeTransport) LastLink(address string) *FakeLink {
	links := t.Links(address)
	if len(links) == 0 {
		return nil
	}
	return links[len(links)-1]
}

func (t *FakeTransport) Scan(ctx context.Context, timeout time.Duration) ([]device.Descriptor, error) {
	t.scanCalls.Add(1)

	if t.ScanDelay > 0 {
		select {
		case <-time.After(min(t.ScanDelay, timeout)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.scanErr != nil {
		return nil, t.scanErr
	}
	result := make([]device.Descriptor, 0, len(t.peripherals))
	for _, p := range t.peripherals {
		result = append(result, device.NewDescriptor(p.Address, p.Name))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Address < result[j].Address })
	return result, nil
}

func (t *FakeTransport) Connect(ctx context.Context, address string) (device.Link, error) {
	t.connectCalls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.connectErrs[address]; err != nil {
		return nil, err
	}
	p, ok := t.peripherals[address]
	if !ok {
		return nil, fmt.Errorf("device %s not found", address)
	}
	link := &FakeLink{peripheral: p, handlers: make(map[string]device.NotificationHandler)}
	link.connected.Store(true)
	t.links[address] = append(t.links[address], link)
	return link, nil
}

// FakeLink is a simulated open connection.
type FakeLink struct {
	peripheral *FakePeripheral

	mu       sync.Mutex
	handlers map[string]device.NotificationHandler

	connected     atomic.Bool
	disconnects   atomic.Int32
	unsubscribes  atomic.Int32
	DisconnectErr error
}

func (l *FakeLink) Read(ctx context.Context, uuid string) ([]byte, error) {
	if !l.connected.Load() {
		return nil, device.ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := device.NormalizeUUID(uuid)
	if err := l.peripheral.readErrs[key]; err != nil {
		return nil, err
	}
	v, ok := l.peripheral.values[key]
	if !ok {
		return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{uuid}}
	}
	return append([]byte(nil), v...), nil
}

func (l *FakeLink) Subscribe(uuid string, handler device.NotificationHandler) error {
	if !l.connected.Load() {
		return device.ErrNotConnected
	}
	if l.peripheral.subscribeErr != nil {
		return l.peripheral.subscribeErr
	}
	key := device.NormalizeUUID(uuid)
	if _, ok := l.peripheral.values[key]; !ok {
		return &device.NotFoundError{Resource: "characteristic", UUIDs: []string{uuid}}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers[key] = handler
	return nil
}

func (l *FakeLink) Unsubscribe(uuid string) error {
	l.unsubscribes.Add(1)
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.handlers, device.NormalizeUUID(uuid))
	if !l.connected.Load() {
		return device.ErrNotConnected
	}
	return nil
}

func (l *FakeLink) IsConnected() bool {
	return l.connected.Load()
}

func (l *FakeLink) Disconnect() error {
	l.disconnects.Add(1)
	l.connected.Store(false)
	return l.DisconnectErr
}

// Notify delivers data to the handler subscribed on uuid, reusing the buffer
// afterwards the way a real stack does. Returns an error if nothing is subscribed.
func (l *FakeLink) Notify(uuid string, data []byte) error {
	l.mu.Lock()
	h := l.handlers[device.NormalizeUUID(uuid)]
	l.mu.Unlock()
	if h == nil {
		return errors.New("no subscriber for " + uuid)
	}
	buf := append([]byte(nil), data...)
	h(buf)
	for i := range buf {
		buf[i] = 0xFF
	}
	return nil
}

// Drop simulates link loss without a local disconnect.
func (l *FakeLink) Drop() {
	l.connected.Store(false)
}

// Disconnects returns how many times Disconnect was called.
func (l *FakeLink) Disconnects() int {
	return int(l.disconnects.Load())
}

// Unsubscribes returns how many times Unsubscribe was called.
func (l *FakeLink) Unsubscribes() int {
	return int(l.unsubscribes.Load())
}
