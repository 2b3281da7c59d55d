// Package message defines the push-channel messages sent to subscribers.
//
// Message is a closed set: every variant lives in this package and carries an
// unexported marker method. On the wire each message is a JSON object with a
// "type" field naming the variant.
package message

import (
	"encoding/json"
	"fmt"

	"github.com/srg/shotbridge/internal/device"
	"github.com/srg/shotbridge/internal/ledger"
)

// Type is the wire discriminant of a message.
type Type string

const (
	TypeTitleUpdate        Type = "TITLE_UPDATE"
	TypeSessionSync        Type = "SESSION_SYNC"
	TypeDeviceConnected    Type = "DEVICE_CONNECTED"
	TypeDeviceDisconnected Type = "DEVICE_DISCONNECTED"
	TypeError              Type = "ERROR"
	TypeWatchdog           Type = "WATCHDOG"
	TypeSessionStarted     Type = "SESSION_STARTED"
	TypeSessionSuspended   Type = "SESSION_SUSPENDED"
	TypeSessionResumed     Type = "SESSION_RESUMED"
	TypeSessionStopped     Type = "SESSION_STOPPED"
	TypeSessionSetBegin    Type = "SESSION_SET_BEGIN"
	TypeShotDetected       Type = "SHOT_DETECTED"
	TypeUnknown            Type = "UNKNOWN"
)

// Watchdog statuses. Failed retries use RetryFailedPrefix followed by the reason.
const (
	WatchdogDisconnected = "disconnected"
	WatchdogReconnected  = "reconnected"
	RetryFailedPrefix    = "retry_failed:"
)

// Message is one push-channel message.
type Message interface {
	Type() Type
	isMessage()
}

// DeviceInfo identifies a device in connection messages.
type DeviceInfo struct {
	Addr       string       `json:"addr"`
	Name       string       `json:"name"`
	Model      device.Model `json:"model"`
	APIVersion string       `json:"api_version"`
}

type TitleUpdate struct {
	Title string `json:"title"`
}

type SessionSync struct {
	State *ledger.SessionRecord `json:"state"`
}

type DeviceConnected struct {
	DeviceInfo
}

type DeviceDisconnected struct {
	DeviceInfo
}

type Error struct {
	Message string `json:"message"`
}

type Watchdog struct {
	Status     string       `json:"status"`
	Addr       string       `json:"addr"`
	Name       string       `json:"name"`
	Model      device.Model `json:"model,omitempty"`
	APIVersion string       `json:"api_version,omitempty"`
}

type SessionStarted struct {
	Addr   string `json:"addr"`
	SessID uint32 `json:"sess_id"`
}

type SessionSuspended struct {
	Addr string `json:"addr"`
}

type SessionResumed struct {
	Addr string `json:"addr"`
}

type SessionStopped struct {
	Addr string `json:"addr"`
}

type SessionSetBegin struct {
	Addr string `json:"addr"`
}

// ShotDetected reports one shot. Split is null for the first shot.
type ShotDetected struct {
	Addr  string   `json:"addr"`
	Num   int      `json:"num"`
	Time  float64  `json:"time"`
	Split *float64 `json:"split"`
}

type Unknown struct {
	Addr string `json:"addr"`
}

func (TitleUpdate) Type() Type        { return TypeTitleUpdate }
func (SessionSync) Type() Type        { return TypeSessionSync }
func (DeviceConnected) Type() Type    { return TypeDeviceConnected }
func (DeviceDisconnected) Type() Type { return TypeDeviceDisconnected }
func (Error) Type() Type              { return TypeError }
func (Watchdog) Type() Type           { return TypeWatchdog }
func (SessionStarted) Type() Type     { return TypeSessionStarted }
func (SessionSuspended) Type() Type   { return TypeSessionSuspended }
func (SessionResumed) Type() Type     { return TypeSessionResumed }
func (SessionStopped) Type() Type     { return TypeSessionStopped }
func (SessionSetBegin) Type() Type    { return TypeSessionSetBegin }
func (ShotDetected) Type() Type       { return TypeShotDetected }
func (Unknown) Type() Type            { return TypeUnknown }

func (TitleUpdate) isMessage()        {}
func (SessionSync) isMessage()        {}
func (DeviceConnected) isMessage()    {}
func (DeviceDisconnected) isMessage() {}
func (Error) isMessage()              {}
func (Watchdog) isMessage()           {}
func (SessionStarted) isMessage()     {}
func (SessionSuspended) isMessage()   {}
func (SessionResumed) isMessage()     {}
func (SessionStopped) isMessage()     {}
func (SessionSetBegin) isMessage()    {}
func (ShotDetected) isMessage()       {}
func (Unknown) isMessage()            {}

// Encode marshals msg with its "type" field.
func Encode(msg Message) ([]byte, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", msg.Type(), err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", msg.Type(), err)
	}
	typ, _ := json.Marshal(msg.Type())
	fields["type"] = typ
	return json.Marshal(fields)
}

// Decode parses a wire message into its variant.
func Decode(data []byte) (Message, error) {
	var head struct {
		Type Type `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("invalid message: %w", err)
	}

	var msg Message
	var err error
	switch head.Type {
	case TypeTitleUpdate:
		msg, err = decodeAs[TitleUpdate](data)
	case TypeSessionSync:
		msg, err = decodeAs[SessionSync](data)
	case TypeDeviceConnected:
		msg, err = decodeAs[DeviceConnected](data)
	case TypeDeviceDisconnected:
		msg, err = decodeAs[DeviceDisconnected](data)
	case TypeError:
		msg, err = decodeAs[Error](data)
	case TypeWatchdog:
		msg, err = decodeAs[Watchdog](data)
	case TypeSessionStarted:
		msg, err = decodeAs[SessionStarted](data)
	case TypeSessionSuspended:
		msg, err = decodeAs[SessionSuspended](data)
	case TypeSessionResumed:
		msg, err = decodeAs[SessionResumed](data)
	case TypeSessionStopped:
		msg, err = decodeAs[SessionStopped](data)
	case TypeSessionSetBegin:
		msg, err = decodeAs[SessionSetBegin](data)
	case TypeShotDetected:
		msg, err = decodeAs[ShotDetected](data)
	case TypeUnknown:
		msg, err = decodeAs[Unknown](data)
	default:
		return nil, fmt.Errorf("unknown message type %q", head.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("invalid %s message: %w", head.Type, err)
	}
	return msg, nil
}

func decodeAs[T Message](data []byte) (Message, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}
