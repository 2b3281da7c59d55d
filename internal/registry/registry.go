// Package registry maps device addresses to their sessions and runs scans.
//
// Sessions are created on first reference and live for the whole process.
// Only one hardware scan runs at a time: concurrent callers share the result
// of the scan already in flight.
package registry

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/shotbridge/internal/device"
	"github.com/srg/shotbridge/internal/session"
	"golang.org/x/sync/singleflight"
)

const scanKey = "scan"

// Options configures scanning and new sessions.
type Options struct {
	NamePrefix  string
	ScanTimeout time.Duration
	Session     session.Options
}

// Status aggregates every known device.
type Status struct {
	Connected bool             `json:"connected"`
	Devices   []session.Status `json:"devices"`
}

// Registry owns every Session.
type Registry struct {
	transport device.Transport
	hub       session.Publisher
	ledger    session.Ledger
	opts      Options
	logger    *logrus.Logger

	sessions *hashmap.Map[string, *session.Session]
	scans    singleflight.Group
}

// New creates an empty Registry.
func New(transport device.Transport, hub session.Publisher, ldg session.Ledger, opts Options, logger *logrus.Logger) *Registry {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.ScanTimeout <= 0 {
		opts.ScanTimeout = 4 * time.Second
	}
	return &Registry{
		transport: transport,
		hub:       hub,
		ledger:    ldg,
		opts:      opts,
		logger:    logger,
		sessions:  hashmap.New[string, *session.Session](),
	}
}

// GetOrCreate returns the session for address, creating it on first use.
// A non-empty name replaces the cached one.
func (r *Registry) GetOrCreate(address, name string) *session.Session {
	if s, ok := r.sessions.Get(address); ok {
		s.SetName(name)
		return s
	}

	created := session.New(address, name, r.transport, r.hub, r.ledger, r.opts.Session, r.logger)
	s, loaded := r.sessions.GetOrInsert(address, created)
	if loaded {
		// Another caller won the race.
		created.Close()
		s.SetName(name)
		return s
	}
	r.logger.WithFields(logrus.Fields{
		"address": address,
		"name":    s.Name(),
	}).Debug("Device session created")
	return s
}

// Get returns the session for address, if one exists.
func (r *Registry) Get(address string) (*session.Session, bool) {
	return r.sessions.Get(address)
}

// Scan returns timers seen during one scan window, filtered by name prefix
// and deduplicated by address.
func (r *Registry) Scan(ctx context.Context) ([]device.Descriptor, error) {
	ch := r.scans.DoChan(scanKey, func() (any, error) {
		// The scan is shared, so it must not die with the first caller.
		scanCtx := context.WithoutCancel(ctx)
		r.logger.WithField("timeout", r.opts.ScanTimeout).Info("Scanning for timers...")
		return r.transport.Scan(scanCtx, r.opts.ScanTimeout)
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if res.Err != nil {
		return nil, res.Err
	}

	found := res.Val.([]device.Descriptor)
	seen := make(map[string]struct{}, len(found))
	result := make([]device.Descriptor, 0, len(found))
	for _, d := range found {
		if d.Name == "" || !strings.HasPrefix(d.Name, r.opts.NamePrefix) {
			continue
		}
		if _, dup := seen[d.Address]; dup {
			continue
		}
		seen[d.Address] = struct{}{}
		result = append(result, device.NewDescriptor(d.Address, d.Name))
	}
	r.logger.WithField("devices", len(result)).Info("Scan completed")
	return result, nil
}

// Connect connects the device at address, creating its session if needed.
func (r *Registry) Connect(ctx context.Context, address, name string) (*session.Session, error) {
	if strings.TrimSpace(address) == "" {
		return nil, device.NewRequestError("Missing address")
	}
	s := r.GetOrCreate(address, name)
	return s, s.Connect(ctx)
}

// Disconnect disconnects the device at address. It reports false when the
// address has never been seen.
func (r *Registry) Disconnect(address string) bool {
	s, ok := r.sessions.Get(address)
	if !ok {
		return false
	}
	s.Disconnect()
	return true
}

// Status returns every device sorted by address.
func (r *Registry) Status() Status {
	st := Status{Devices: []session.Status{}}
	r.sessions.Range(func(_ string, s *session.Session) bool {
		ds := s.Status()
		st.Devices = append(st.Devices, ds)
		st.Connected = st.Connected || ds.Connected
		return true
	})
	sort.Slice(st.Devices, func(i, j int) bool {
		return st.Devices[i].Address < st.Devices[j].Address
	})
	return st
}

// Len returns the number of known devices.
func (r *Registry) Len() int {
	return r.sessions.Len()
}

// Close disconnects every device and stops their workers.
func (r *Registry) Close() {
	r.sessions.Range(func(_ string, s *session.Session) bool {
		s.Close()
		return true
	})
}
