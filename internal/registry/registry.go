// Package registry tracks known robots, their reachability, and their
// heartbeat freshness (spec §4.4).
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/bobmcallan/robotmw/internal/apperr"
	"github.com/bobmcallan/robotmw/internal/models"
)

// Registry is a concurrency-safe robot directory.
type Registry struct {
	mu        sync.RWMutex
	robots    map[string]*models.RobotEntry
	heartbeat time.Duration
}

// New creates a Registry that marks a robot offline once its last
// heartbeat is older than heartbeatTimeout.
func New(heartbeatTimeout time.Duration) *Registry {
	return &Registry{
		robots:    make(map[string]*models.RobotEntry),
		heartbeat: heartbeatTimeout,
	}
}

// Register inserts or replaces a robot entry.
func (r *Registry) Register(entry *models.RobotEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := entry.Clone()
	if cp.LastHeartbeat.IsZero() {
		cp.LastHeartbeat = time.Now()
	}
	r.robots[cp.RobotID] = cp
}

// Deregister removes a robot from the directory.
func (r *Registry) Deregister(robotID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.robots, robotID)
}

// Get resolves a robot id, returning ERR_ROBOT_NOT_FOUND if unknown.
func (r *Registry) Get(robotID string) (*models.RobotEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.robots[robotID]
	if !ok {
		return nil, apperr.New(apperr.CodeRobotNotFound, "robot not registered").WithDetail("robot_id", robotID)
	}
	return entry.Clone(), nil
}

// List returns a snapshot of every registered robot.
func (r *Registry) List() []*models.RobotEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.RobotEntry, 0, len(r.robots))
	for _, e := range r.robots {
		out = append(out, e.Clone())
	}
	return out
}

// Heartbeat refreshes a robot's last-seen timestamp and, if it was
// offline, restores it to online.
func (r *Registry) Heartbeat(robotID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.robots[robotID]
	if !ok {
		return apperr.New(apperr.CodeRobotNotFound, "robot not registered").WithDetail("robot_id", robotID)
	}
	entry.LastHeartbeat = time.Now()
	if entry.Status == models.RobotOffline {
		entry.Status = models.RobotOnline
	}
	return nil
}

// SetStatus transitions a robot's status, e.g. busy while a command
// runs, online once it completes.
func (r *Registry) SetStatus(robotID string, status models.RobotStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.robots[robotID]
	if !ok {
		return apperr.New(apperr.CodeRobotNotFound, "robot not registered").WithDetail("robot_id", robotID)
	}
	entry.Status = status
	return nil
}

// RunWatchdog blocks, periodically marking robots whose last heartbeat
// exceeds the configured timeout as offline, until ctx is cancelled.
func (r *Registry) RunWatchdog(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweepStale()
		}
	}
}

func (r *Registry) sweepStale() {
	cutoff := time.Now().Add(-r.heartbeat)
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, entry := range r.robots {
		if entry.Status != models.RobotOffline && entry.LastHeartbeat.Before(cutoff) {
			entry.Status = models.RobotOffline
		}
	}
}
