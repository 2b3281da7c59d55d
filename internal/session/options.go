package session

import "time"

// Timer GATT layout.
const (
	DefaultServiceUUID    = "7520ffff-14d2-4cda-8b6b-697c554c9311"
	DefaultEventUUID      = "75200001-14d2-4cda-8b6b-697c554c9311"
	DefaultAPIVersionUUID = "7520fffe-14d2-4cda-8b6b-697c554c9311"
)

// Options tunes a Session. Zero fields are replaced by DefaultOptions values.
type Options struct {
	EventUUID      string
	APIVersionUUID string

	ConnectTimeout   time.Duration
	ReadTimeout      time.Duration
	VersionReadDelay time.Duration
	WatchdogInterval time.Duration

	// QueueSize bounds the notifications waiting for the worker.
	QueueSize int
}

// DefaultOptions returns the production settings.
func DefaultOptions() Options {
	return Options{
		EventUUID:        DefaultEventUUID,
		APIVersionUUID:   DefaultAPIVersionUUID,
		ConnectTimeout:   30 * time.Second,
		ReadTimeout:      5 * time.Second,
		VersionReadDelay: 500 * time.Millisecond,
		WatchdogInterval: 5 * time.Second,
		QueueSize:        1024,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.EventUUID == "" {
		o.EventUUID = d.EventUUID
	}
	if o.APIVersionUUID == "" {
		o.APIVersionUUID = d.APIVersionUUID
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = d.ConnectTimeout
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = d.ReadTimeout
	}
	if o.VersionReadDelay < 0 {
		o.VersionReadDelay = 0
	}
	if o.WatchdogInterval <= 0 {
		o.WatchdogInterval = d.WatchdogInterval
	}
	if o.QueueSize <= 0 {
		o.QueueSize = d.QueueSize
	}
	return o
}
