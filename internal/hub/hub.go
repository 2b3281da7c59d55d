// Package hub fans push messages out to live subscribers.
//
// Subscribers are kept in join order and every message is delivered to each
// of them in that order. A subscriber whose Send fails is dropped and closed;
// the others are unaffected. New subscribers are synchronized on join with
// the current title and, when one exists, the live or last session snapshot.
package hub

import (
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/shotbridge/internal/ledger"
	"github.com/srg/shotbridge/internal/message"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// ErrClosed is returned by Subscribe after Close.
var ErrClosed = errors.New("hub closed")

// Subscriber receives push messages. Send must not block.
type Subscriber interface {
	ID() string
	Send(msg message.Message) error
	Close() error
}

// SnapshotSource supplies the session state handed to late joiners.
type SnapshotSource interface {
	SnapshotForSync() *ledger.SessionRecord
}

// TitleFunc returns the current display title.
type TitleFunc func() string

// Hub is the broadcast point for all push messages.
type Hub struct {
	snapshots SnapshotSource
	title     TitleFunc
	logger    *logrus.Logger

	// mu serializes membership changes, deliveries and Commit sections.
	mu     sync.Mutex
	subs   *orderedmap.OrderedMap[string, Subscriber]
	closed bool
}

// New creates a Hub. snapshots and title may be nil.
func New(snapshots SnapshotSource, title TitleFunc, logger *logrus.Logger) *Hub {
	if logger == nil {
		logger = logrus.New()
	}
	return &Hub{
		snapshots: snapshots,
		title:     title,
		logger:    logger,
		subs:      orderedmap.New[string, Subscriber](),
	}
}

// Subscribe registers sub and sends it TITLE_UPDATE followed by SESSION_SYNC
// when a snapshot exists. Both are sent before any later publish can reach sub.
func (h *Hub) Subscribe(sub Subscriber) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrClosed
	}
	h.subs.Set(sub.ID(), sub)

	log := h.logger.WithField("subscriber", sub.ID())
	log.WithField("subscribers", h.subs.Len()).Info("Subscriber joined")

	if h.title != nil {
		if err := sub.Send(message.TitleUpdate{Title: h.title()}); err != nil {
			h.dropLocked(sub, err)
			return err
		}
	}
	if h.snapshots != nil {
		if snap := h.snapshots.SnapshotForSync(); snap != nil {
			if err := sub.Send(message.SessionSync{State: snap}); err != nil {
				h.dropLocked(sub, err)
				return err
			}
		}
	}
	return nil
}

// Unsubscribe removes sub. Unknown subscribers are ignored.
func (h *Hub) Unsubscribe(sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.subs.Delete(sub.ID()); ok {
		h.logger.WithFields(logrus.Fields{
			"subscriber":  sub.ID(),
			"subscribers": h.subs.Len(),
		}).Info("Subscriber left")
	}
}

// Publish delivers msg to every subscriber.
func (h *Hub) Publish(msg message.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.deliverLocked(msg)
}

// Commit runs fn and publishes its message as one step: no subscriber can
// join between the state change made by fn and the delivery of its result.
// Nothing is published when fn returns false.
func (h *Hub) Commit(fn func() (message.Message, bool)) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if msg, ok := fn(); ok {
		h.deliverLocked(msg)
	}
}

// Len returns the number of live subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.subs.Len()
}

// Close closes every subscriber and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for pair := h.subs.Oldest(); pair != nil; pair = pair.Next() {
		_ = pair.Value.Close()
	}
	h.subs = orderedmap.New[string, Subscriber]()
}

func (h *Hub) deliverLocked(msg message.Message) {
	var failed []Subscriber
	for pair := h.subs.Oldest(); pair != nil; pair = pair.Next() {
		if err := pair.Value.Send(msg); err != nil {
			h.logger.WithFields(logrus.Fields{
				"subscriber": pair.Key,
				"type":       msg.Type(),
				"error":      err,
			}).Debug("Delivery failed")
			failed = append(failed, pair.Value)
		}
	}
	for _, sub := range failed {
		h.dropLocked(sub, nil)
	}
}

func (h *Hub) dropLocked(sub Subscriber, cause error) {
	h.subs.Delete(sub.ID())
	if err := sub.Close(); err != nil {
		h.logger.WithField("error", err).Debug("Subscriber close failed")
	}
	h.logger.WithFields(logrus.Fields{
		"subscriber":  sub.ID(),
		"subscribers": h.subs.Len(),
		"error":       cause,
	}).Info("Subscriber pruned")
}
