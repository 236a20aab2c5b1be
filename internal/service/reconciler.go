package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/lascruzadas/carpool/internal/model"
)

// Reconciler repairs rides whose cached free count drifted from their
// seats.  Seat mutations keep the two in step, so any drift it finds
// comes from writes made outside the engine.
type Reconciler struct {
	rides    RideStore
	interval time.Duration
	log      logrus.FieldLogger
}

func NewReconciler(rides RideStore, interval time.Duration, log logrus.FieldLogger) *Reconciler {
	return &Reconciler{rides: rides, interval: interval, log: log}
}

// Reconcile runs one pass and returns what it repaired.
func (r *Reconciler) Reconcile(ctx context.Context) ([]model.FreeSeatDrift, error) {
	drifts, err := r.rides.ReconcileFreeCounts(ctx)
	for _, d := range drifts {
		r.log.WithFields(logrus.Fields{
			"ride_id": d.RideID,
			"cached":  d.Cached,
			"actual":  d.Actual,
		}).Warn("free seat count repaired")
	}
	return drifts, err
}

// Run reconciles every interval until ctx is done.  A non-positive
// interval disables it.
func (r *Reconciler) Run(ctx context.Context) {
	if r.interval <= 0 {
		return
	}
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := r.Reconcile(ctx); err != nil {
				r.log.WithError(err).Error("reconcile free seat counts")
			}
		}
	}
}
