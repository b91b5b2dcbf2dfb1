package tool

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

type schedulerArgs struct {
	Message string `json:"message" jsonschema:"description=Reminder message or task description"`
	At      string `json:"at" jsonschema:"description=When to fire: RFC3339 timestamp or relative like 'in 30 minutes'"`
	Kind    string `json:"kind,omitempty" jsonschema:"description=Type of reminder,enum=medication,enum=appointment,enum=task,enum=other"`
}

// Reminder is one scheduled entry.
type Reminder struct {
	ID           string    `json:"id"`
	Message      string    `json:"message"`
	Kind         string    `json:"kind"`
	ScheduledFor time.Time `json:"scheduled_for"`
	CreatedAt    time.Time `json:"created_at"`
}

// Scheduler stores reminders in memory keyed by id. Delivery is out of
// scope; the entry records what was scheduled and for when.
type Scheduler struct {
	mu        sync.Mutex
	reminders map[string]Reminder
	now       func() time.Time
}

func NewScheduler() *Scheduler {
	return &Scheduler{
		reminders: make(map[string]Reminder),
		now:       time.Now,
	}
}

func (s *Scheduler) Describe() Descriptor {
	return Descriptor{
		Name:           "scheduler",
		Description:    "Schedules reminders for medication, appointments, or other tasks at an absolute or relative time.",
		ArgumentSchema: reflectSchema(schedulerArgs{}),
	}
}

func (s *Scheduler) Execute(ctx context.Context, args map[string]any) (any, error) {
	var a schedulerArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, err
	}
	if a.Message == "" || a.At == "" {
		return nil, fmt.Errorf("invalid input: message and at are required")
	}

	when, err := s.parseTime(a.At)
	if err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	if !when.After(s.now()) {
		return nil, fmt.Errorf("invalid input: reminder time %s is in the past", when.Format(time.RFC3339))
	}

	kind := a.Kind
	if kind == "" {
		kind = "other"
	}

	rem := Reminder{
		ID:           uuid.NewString(),
		Message:      a.Message,
		Kind:         kind,
		ScheduledFor: when,
		CreatedAt:    s.now().UTC(),
	}

	s.mu.Lock()
	s.reminders[rem.ID] = rem
	s.mu.Unlock()

	return map[string]any{
		"reminder_id":   rem.ID,
		"message":       rem.Message,
		"kind":          rem.Kind,
		"scheduled_for": rem.ScheduledFor.Format(time.RFC3339),
	}, nil
}

// List returns all scheduled reminders.
func (s *Scheduler) List() []Reminder {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Reminder, 0, len(s.reminders))
	for _, r := range s.reminders {
		out = append(out, r)
	}
	return out
}

var relativePattern = regexp.MustCompile(`^in\s+(\d+)\s+(minute|minutes|hour|hours|day|days)$`)

func (s *Scheduler) parseTime(raw string) (time.Time, error) {
	if m := relativePattern.FindStringSubmatch(raw); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return time.Time{}, fmt.Errorf("bad amount %q", m[1])
		}
		var unit time.Duration
		switch m[2] {
		case "minute", "minutes":
			unit = time.Minute
		case "hour", "hours":
			unit = time.Hour
		case "day", "days":
			unit = 24 * time.Hour
		}
		return s.now().Add(time.Duration(n) * unit), nil
	}

	when, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("cannot parse time %q, use RFC3339 or 'in N minutes'", raw)
	}
	return when, nil
}
