package device

import (
	"context"
	"strings"
	"time"
)

// Model identifies the timer hardware family, derived from the advertised name.
type Model string

const (
	ModelSportTimer Model = "SG Timer Sport"
	ModelGoTimer    Model = "SG Timer GO"
	ModelUnknown    Model = "Unknown Model"
)

// modelCodeIndex is the position of the hardware code in names like "SG-SST-A1234".
const modelCodeIndex = 7

// ParseModel derives the model from the character at a fixed position in the
// advertised name: 'A' is the Sport timer, 'B' the GO timer.
func ParseModel(name string) Model {
	if len(name) <= modelCodeIndex {
		return ModelUnknown
	}
	switch strings.ToUpper(name[modelCodeIndex : modelCodeIndex+1]) {
	case "A":
		return ModelSportTimer
	case "B":
		return ModelGoTimer
	default:
		return ModelUnknown
	}
}

// Descriptor is a device seen during a scan. It is not retained between scans.
type Descriptor struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Model   Model  `json:"model"`
}

// NewDescriptor builds a Descriptor with the model derived from name.
func NewDescriptor(address, name string) Descriptor {
	return Descriptor{Name: name, Address: address, Model: ParseModel(name)}
}

// NotificationHandler receives raw notification payloads. Implementations must
// not retain data after returning; the transport may reuse the buffer.
type NotificationHandler func(data []byte)

// Transport is the BLE capability the bridge calls into.
type Transport interface {
	// Scan discovers advertising peripherals until timeout or ctx cancellation.
	Scan(ctx context.Context, timeout time.Duration) ([]Descriptor, error)
	// Connect opens a link to the device with the given address.
	Connect(ctx context.Context, address string) (Link, error)
}

// Link is an open connection to one peripheral.
type Link interface {
	// Read returns the current value of a characteristic.
	Read(ctx context.Context, charUUID string) ([]byte, error)
	// Subscribe enables notifications on a characteristic.
	Subscribe(charUUID string, handler NotificationHandler) error
	// Unsubscribe disables notifications on a characteristic.
	Unsubscribe(charUUID string) error
	// IsConnected reports whether the underlying link is still up.
	IsConnected() bool
	// Disconnect closes the link. Calling it twice is harmless.
	Disconnect() error
}
