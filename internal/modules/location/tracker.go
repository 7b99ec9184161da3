// README: Driver-side ingestion path; movement-gates raw GPS samples before
// they reach storage and the dispatcher.
package location

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"reparto/internal/types"
)

// FixStatus is the positioning health surfaced to the driver-facing UI.
type FixStatus string

const (
	FixOK FixStatus = "ok"
	// FixDegraded means the signal dropped or a read timed out; the last
	// known good position stays exposed and sampling continues.
	FixDegraded FixStatus = "degraded"
	// FixStopped means positioning permission was revoked; samples are
	// rejected until Restart.
	FixStopped FixStatus = "stopped"
)

var ErrTrackingStopped = errors.New("tracking stopped")

// Writer persists the durable driver record.
type Writer interface {
	UpsertDriverLocation(ctx context.Context, rec DriverLocation) error
}

// Emitter pushes a surviving sample into the real-time layer.
type Emitter interface {
	EmitPosition(driverID types.ID, pos types.Point, orderID types.ID, heading, speed float64)
}

type Sample struct {
	Position types.Point
	Heading  float64
	Speed    float64
	At       time.Time
}

// Tracker runs per driver device. It compares each raw sample against the
// last forwarded one and only forwards samples that moved at least
// thresholdMeters. Persistence and the real-time emit are independent
// best-effort side effects: a storage failure is logged and never blocks the
// live feed.
type Tracker struct {
	driverID        types.ID
	thresholdMeters float64
	writer          Writer
	emitter         Emitter
	log             *logrus.Entry

	mu            sync.Mutex
	lastForwarded *types.Point
	activeOrder   types.ID
	status        FixStatus
}

func NewTracker(driverID types.ID, thresholdMeters float64, w Writer, e Emitter, log *logrus.Entry) *Tracker {
	return &Tracker{
		driverID:        driverID,
		thresholdMeters: thresholdMeters,
		writer:          w,
		emitter:         e,
		log:             log.WithField("driver_id", driverID),
		status:          FixOK,
	}
}

// StartDelivery tags subsequent forwarded samples with the active order so
// the order room receives them.
func (t *Tracker) StartDelivery(orderID types.ID) {
	t.mu.Lock()
	t.activeOrder = orderID
	t.mu.Unlock()
}

func (t *Tracker) EndDelivery() {
	t.mu.Lock()
	t.activeOrder = ""
	t.mu.Unlock()
}

// Offer feeds one raw sample through the movement filter. It reports whether
// the sample was forwarded. Below-threshold samples produce no write and no
// emit, and do not move the comparison reference.
func (t *Tracker) Offer(ctx context.Context, s Sample) (bool, error) {
	if err := ValidatePoint(s.Position.Lat, s.Position.Lng); err != nil {
		return false, err
	}

	t.mu.Lock()
	if t.status == FixStopped {
		t.mu.Unlock()
		return false, ErrTrackingStopped
	}
	if t.lastForwarded != nil {
		d, err := DistanceMeters(t.lastForwarded.Lat, t.lastForwarded.Lng, s.Position.Lat, s.Position.Lng)
		if err != nil {
			t.mu.Unlock()
			return false, err
		}
		if d < t.thresholdMeters {
			t.mu.Unlock()
			return false, nil
		}
	}
	pos := s.Position
	t.lastForwarded = &pos
	t.status = FixOK
	orderID := t.activeOrder
	t.mu.Unlock()

	at := s.At
	if at.IsZero() {
		at = time.Now()
	}
	if err := t.writer.UpsertDriverLocation(ctx, DriverLocation{
		DriverID:  t.driverID,
		Position:  s.Position,
		Heading:   s.Heading,
		Speed:     s.Speed,
		UpdatedAt: at,
		Available: true,
	}); err != nil {
		t.log.WithError(err).Warn("location persist failed; emitting anyway")
	}

	t.emitter.EmitPosition(t.driverID, s.Position, orderID, s.Heading, s.Speed)
	return true, nil
}

// ReportSignalLost marks the fix degraded. The last known good position is
// retained, not cleared.
func (t *Tracker) ReportSignalLost() {
	t.setStatus(FixDegraded)
}

// ReportTimeout is a soft failure like signal loss; sampling may continue.
func (t *Tracker) ReportTimeout() {
	t.setStatus(FixDegraded)
}

// ReportPermissionDenied halts the tracker until Restart.
func (t *Tracker) ReportPermissionDenied() {
	t.setStatus(FixStopped)
}

// Restart re-arms a stopped tracker. The last forwarded position survives so
// the first new sample is still movement-gated.
func (t *Tracker) Restart() {
	t.setStatus(FixOK)
}

func (t *Tracker) Status() FixStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// LastKnown exposes the last forwarded position, if any.
func (t *Tracker) LastKnown() (types.Point, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.lastForwarded == nil {
		return types.Point{}, false
	}
	return *t.lastForwarded, true
}

func (t *Tracker) setStatus(s FixStatus) {
	t.mu.Lock()
	t.status = s
	t.mu.Unlock()
}
