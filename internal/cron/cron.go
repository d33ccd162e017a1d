// Package cron schedules periodic update checks inside the webhook server
// process.
package cron

import (
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jsprague84/updatectl/internal/log"
)

// CheckTimeout bounds one scheduled fleet check.
const CheckTimeout = 15 * time.Minute

// Manager runs the scheduled update check.
type Manager struct {
	cron     *cron.Cron
	logger   *log.Logger
	schedule string
	check    func()
}

// NewManager creates a manager that runs check on the given cron schedule
// (standard 5-field syntax).
func NewManager(logger *log.Logger, schedule string, check func()) *Manager {
	return &Manager{
		cron:     cron.New(cron.WithLogger(cron.DefaultLogger)),
		logger:   logger,
		schedule: schedule,
		check:    check,
	}
}

// Start registers the check job and starts the scheduler.
func (m *Manager) Start() error {
	if _, err := m.cron.AddFunc(m.schedule, m.runCheck); err != nil {
		return err
	}
	m.cron.Start()
	m.logger.Info("Scheduled update check registered (%s)", m.schedule)
	return nil
}

// Stop stops the scheduler. Running jobs finish on their own.
func (m *Manager) Stop() {
	m.cron.Stop()
	m.logger.Info("Scheduled update check stopped")
}

func (m *Manager) runCheck() {
	m.logger.Info("Running scheduled update check")
	m.check()
}
