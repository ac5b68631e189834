package rides

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/example/rider-api/internal/models"
	"github.com/example/rider-api/internal/store"
	"github.com/example/rider-api/internal/stream"
)

// Phase is the UI-facing state derived from the ride status.
type Phase string

const (
	PhaseSearching Phase = "searching" // pending, waiting for a driver
	PhaseEnroute   Phase = "enroute"   // accepted, driver on the way
	PhaseRiding    Phase = "riding"    // ongoing
	PhaseDone      Phase = "done"      // completed or cancelled, shown briefly
	PhaseHome      Phase = "home"      // terminal state displayed, back to booking
)

func PhaseFor(status models.Status) Phase {
	switch status {
	case models.StatusPending:
		return PhaseSearching
	case models.StatusAccepted:
		return PhaseEnroute
	case models.StatusOngoing:
		return PhaseRiding
	default:
		return PhaseDone
	}
}

// View is the composite the dashboard renders: the ride, its driver once
// matched, and the derived phase.
type View struct {
	Phase  Phase              `json:"phase"`
	Ride   models.RideRequest `json:"ride"`
	Driver *models.Driver     `json:"driver,omitempty"`
}

// homeDelay is how long a terminal state stays on screen before the
// tracker sends the watcher back to the neutral view.
const homeDelay = 3 * time.Second

// resyncEvery bounds how stale a view can get when hub events are
// dropped to a slow subscriber: the tracker re-reads the request on this
// interval and reconciles against the store.
const resyncEvery = 30 * time.Second

// Tracker follows a rider's active request and the matched driver,
// recomputing the composite view on every update. All subscriptions are
// scoped to the watch context and torn down with it.
type Tracker struct {
	Store     store.Store
	Hub       *stream.Hub
	Logger    *slog.Logger
	HomeDelay time.Duration // defaults to homeDelay
	Resync    time.Duration // defaults to resyncEvery
}

// Watch emits a view for the rider's active ride, then one per update.
// After a terminal status the final view stays current for the home
// delay, a PhaseHome view is emitted, and the channel closes. With no
// active ride it returns store.ErrNotFound.
func (t *Tracker) Watch(ctx context.Context, riderID string) (<-chan View, error) {
	req, err := t.Store.ActiveRequest(ctx, riderID)
	if err != nil {
		return nil, err
	}

	delay := t.HomeDelay
	if delay <= 0 {
		delay = homeDelay
	}

	out := make(chan View, 8)
	go t.run(ctx, riderID, req, delay, out)
	return out, nil
}

func (t *Tracker) run(ctx context.Context, riderID string, req models.RideRequest, delay time.Duration, out chan<- View) {
	defer close(out)

	rideSub := t.Hub.Subscribe(ctx, stream.RideTopic(riderID))

	var driver *models.Driver
	var driverID string
	var driverSub *stream.Subscription
	var driverCh <-chan stream.Event
	// watchDriver retargets the driver subscription when the ride's
	// driver changes, e.g. after a rebooking is matched to someone else.
	watchDriver := func(id string) {
		if id == driverID {
			return
		}
		if driverSub != nil {
			driverSub.Close()
			driverSub = nil
			driverCh = nil
		}
		driver = nil
		driverID = id
		if id == "" {
			return
		}
		if d, err := t.Store.Driver(ctx, id); err == nil {
			driver = &d
		}
		driverSub = t.Hub.Subscribe(ctx, stream.DriverTopic(id))
		driverCh = driverSub.Events()
	}
	watchDriver(req.DriverID)

	emit := func() bool {
		v := View{Phase: PhaseFor(req.Status), Ride: req, Driver: driver}
		select {
		case out <- v:
			return true
		case <-ctx.Done():
			return false
		}
	}
	if !emit() {
		return
	}

	var homeTimer <-chan time.Time
	if req.Status.Terminal() {
		homeTimer = time.After(delay)
	}

	apply := func(updated models.RideRequest) bool {
		req = updated
		watchDriver(req.DriverID)
		if !emit() {
			return false
		}
		if req.Status.Terminal() && homeTimer == nil {
			homeTimer = time.After(delay)
		}
		return true
	}

	resync := t.Resync
	if resync <= 0 {
		resync = resyncEvery
	}
	ticker := time.NewTicker(resync)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-homeTimer:
			select {
			case out <- View{Phase: PhaseHome, Ride: req, Driver: driver}:
			case <-ctx.Done():
			}
			return
		case ev, ok := <-rideSub.Events():
			if !ok {
				return
			}
			var updated models.RideRequest
			if err := json.Unmarshal(ev.Data, &updated); err != nil {
				t.Logger.Warn("bad ride update", "rider_id", riderID, "error", err)
				continue
			}
			if !apply(updated) {
				return
			}
		case <-ticker.C:
			// dropped hub events cannot be detected, so reconcile
			// against the store and pick up anything missed
			fresh, err := t.Store.Request(ctx, riderID)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return
				}
				t.Logger.Warn("tracker resync failed", "rider_id", riderID, "error", err)
				continue
			}
			if fresh.ID == req.ID && fresh.Status == req.Status && fresh.DriverID == req.DriverID {
				continue
			}
			if !apply(fresh) {
				return
			}
		case ev, ok := <-driverCh:
			if !ok {
				driverCh = nil
				continue
			}
			var d models.Driver
			if err := json.Unmarshal(ev.Data, &d); err != nil {
				t.Logger.Warn("bad driver update", "rider_id", riderID, "error", err)
				continue
			}
			driver = &d
			if !emit() {
				return
			}
		}
	}
}
