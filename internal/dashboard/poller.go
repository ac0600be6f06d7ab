// Package dashboard keeps the polled active-fleet and history snapshots
// served to the dashboard.
package dashboard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/loaner-command-center/internal/models"
)

// Lister is the read side of fleet.Service the poller needs.
type Lister interface {
	ListActive(ctx context.Context) ([]models.LoanerRequest, error)
	ListHistory(ctx context.Context) ([]models.LoanerRequest, error)
}

// Snapshot is the result of the last completed fetch.
type Snapshot struct {
	Vehicles  []models.LoanerRequest `json:"vehicles"`
	FetchedAt time.Time              `json:"fetched_at"`
}

// Poller refreshes the snapshots on a cron schedule. Refreshes are not
// coordinated with each other; the last one to finish wins.
type Poller struct {
	source Lister
	cron   *cron.Cron
	now    func() time.Time

	mu      sync.RWMutex
	active  Snapshot
	history Snapshot
}

// NewPoller schedules the active refresh every activeInterval and the
// history refresh every historyInterval.
func NewPoller(source Lister, activeInterval, historyInterval time.Duration) (*Poller, error) {
	if activeInterval <= 0 || historyInterval <= 0 {
		return nil, fmt.Errorf("poll intervals must be positive")
	}
	p := &Poller{
		source: source,
		cron:   cron.New(cron.WithLocation(time.UTC)),
		now:    time.Now,
	}

	if _, err := p.cron.AddFunc(every(activeInterval), p.job("refresh_active", activeInterval, p.RefreshActive)); err != nil {
		return nil, fmt.Errorf("schedule active refresh: %w", err)
	}
	if _, err := p.cron.AddFunc(every(historyInterval), p.job("refresh_history", historyInterval, p.RefreshHistory)); err != nil {
		return nil, fmt.Errorf("schedule history refresh: %w", err)
	}
	return p, nil
}

func every(d time.Duration) string {
	return "@every " + d.String()
}

// job adapts a refresh to a cron func, bounding each run by its own interval
// and recovering panics so one bad fetch does not stop the schedule.
func (p *Poller) job(name string, timeout time.Duration, refresh func(context.Context) error) func() {
	return func() {
		defer func() {
			if r := recover(); r != nil {
				log.WithFields(log.Fields{"job": name, "panic": r}).Error("Poll job panicked")
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		_ = refresh(ctx)
	}
}

// Start fetches both snapshots once and starts the schedule.
func (p *Poller) Start(ctx context.Context) {
	_ = p.RefreshActive(ctx)
	_ = p.RefreshHistory(ctx)
	p.cron.Start()
	log.WithField("jobs", len(p.cron.Entries())).Info("Dashboard poller started")
}

// Stop stops the schedule and waits for running refreshes to finish.
func (p *Poller) Stop() {
	<-p.cron.Stop().Done()
	log.Info("Dashboard poller stopped")
}

// RefreshActive fetches the active fleet. On failure the previous snapshot
// is kept.
func (p *Poller) RefreshActive(ctx context.Context) error {
	rows, err := p.source.ListActive(ctx)
	if err != nil {
		log.WithError(err).Error("Active fleet refresh failed")
		return err
	}
	p.mu.Lock()
	p.active = Snapshot{Vehicles: rows, FetchedAt: p.now().UTC()}
	p.mu.Unlock()
	log.WithField("count", len(rows)).Debug("Active fleet refreshed")
	return nil
}

// RefreshHistory fetches the history board. On failure the previous
// snapshot is kept.
func (p *Poller) RefreshHistory(ctx context.Context) error {
	rows, err := p.source.ListHistory(ctx)
	if err != nil {
		log.WithError(err).Error("History refresh failed")
		return err
	}
	p.mu.Lock()
	p.history = Snapshot{Vehicles: rows, FetchedAt: p.now().UTC()}
	p.mu.Unlock()
	log.WithField("count", len(rows)).Debug("History refreshed")
	return nil
}

// Active returns the latest active-fleet snapshot.
func (p *Poller) Active() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.active
}

// History returns the latest history snapshot.
func (p *Poller) History() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.history
}
