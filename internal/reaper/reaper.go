// internal/reaper/reaper.go
package reaper

import (
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Handler is the callback invoked on each scheduled sweep.
type Handler func()

// Reaper periodically fires a sandbox sweep on a cron schedule. The sweep
// itself lives in the orchestrator; the reaper only owns the ticker.
type Reaper struct {
	schedule string
	handler  Handler
	cron     *cron.Cron
}

// cronParser accepts both standard 5-field cron expressions and 6-field
// expressions with an optional seconds field, plus @every descriptors.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// New creates a Reaper firing the handler on the given cron schedule.
func New(schedule string, handler Handler) *Reaper {
	return &Reaper{
		schedule: schedule,
		handler:  handler,
		cron:     cron.New(cron.WithParser(cronParser)),
	}
}

// Start registers the sweep entry and starts the cron ticker.
func (r *Reaper) Start() error {
	_, err := r.cron.AddFunc(r.schedule, func() {
		slog.Debug("sandbox sweep firing", "schedule", r.schedule)
		r.handler()
	})
	if err != nil {
		return err
	}
	r.cron.Start()
	return nil
}

// Stop stops the cron ticker. Running sweeps are not interrupted.
func (r *Reaper) Stop() {
	r.cron.Stop()
}
