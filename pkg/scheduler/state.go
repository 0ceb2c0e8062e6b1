package scheduler

import (
	"errors"
	"fmt"

	"github.com/Ramsey-B/fern/pkg/models"
)

// ErrInvalidTransition is returned when an event is not allowed in the current state
var ErrInvalidTransition = errors.New("invalid schedule state transition")

// Event drives a configuration from one schedule state to the next
type Event string

const (
	EventInitialize     Event = "initialize"
	EventBecameDue      Event = "became_due"
	EventStarted        Event = "started"
	EventSucceeded      Event = "succeeded"
	EventFailed         Event = "failed"
	EventRetryScheduled Event = "retry_scheduled"
	EventRescheduled    Event = "rescheduled"
	EventSkipped        Event = "skipped"
)

// transitions lists every allowed (state, event) pair.
//
//	unscheduled --initialize--> scheduled --became_due--> due --started--> running
//	running --succeeded--> succeeded --rescheduled--> scheduled
//	running --failed--> failed --retry_scheduled--> retry_pending --became_due--> due
//	due|running --skipped--> scheduled
//
// Manual runs start from any resting state. running --became_due--> due
// recovers a run whose process died before recording its outcome.
var transitions = map[models.ScheduleState]map[Event]models.ScheduleState{
	models.ScheduleStateUnscheduled: {
		EventInitialize: models.ScheduleStateScheduled,
		EventBecameDue:  models.ScheduleStateDue,
		EventStarted:    models.ScheduleStateRunning,
	},
	models.ScheduleStateScheduled: {
		EventInitialize: models.ScheduleStateScheduled,
		EventBecameDue:  models.ScheduleStateDue,
		EventStarted:    models.ScheduleStateRunning,
	},
	models.ScheduleStateDue: {
		EventInitialize: models.ScheduleStateScheduled,
		EventStarted:    models.ScheduleStateRunning,
		EventSkipped:    models.ScheduleStateScheduled,
	},
	models.ScheduleStateRunning: {
		EventSucceeded: models.ScheduleStateSucceeded,
		EventFailed:    models.ScheduleStateFailed,
		EventSkipped:   models.ScheduleStateScheduled,
		EventBecameDue: models.ScheduleStateDue,
	},
	models.ScheduleStateSucceeded: {
		EventRescheduled: models.ScheduleStateScheduled,
	},
	models.ScheduleStateFailed: {
		EventRetryScheduled: models.ScheduleStateRetryPending,
	},
	models.ScheduleStateRetryPending: {
		EventInitialize: models.ScheduleStateScheduled,
		EventBecameDue:  models.ScheduleStateDue,
		EventStarted:    models.ScheduleStateRunning,
	},
}

// Transition returns the state reached by firing ev in from. Rows written
// before schedule states existed carry "" and are read as unscheduled.
func Transition(from models.ScheduleState, ev Event) (models.ScheduleState, error) {
	if from == "" {
		from = models.ScheduleStateUnscheduled
	}
	next, ok := transitions[from][ev]
	if !ok {
		return from, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, ev, from)
	}
	return next, nil
}

// CanFire reports whether ev is allowed in from
func CanFire(from models.ScheduleState, ev Event) bool {
	_, err := Transition(from, ev)
	return err == nil
}

// fire applies events in order to cfg, stopping at the first illegal one.
func fire(cfg *models.ImportConfiguration, events ...Event) error {
	state := cfg.ScheduleState
	for _, ev := range events {
		next, err := Transition(state, ev)
		if err != nil {
			return err
		}
		state = next
	}
	cfg.ScheduleState = state
	return nil
}

// settle collapses scheduled to unscheduled when there is no next slot.
func settle(cfg *models.ImportConfiguration) {
	if cfg.ScheduleState == models.ScheduleStateScheduled && cfg.NextScheduledRunAt == nil {
		cfg.ScheduleState = models.ScheduleStateUnscheduled
	}
}
