// Package quest keeps quests (time-boxed work containers) consistent with the
// clock: it validates proposed windows against a team's existing quests and
// reconciles each quest's active flag with the current time.
package quest

import (
	"context"
	"time"

	"questline/internal/eventbus"
	"questline/internal/model"
	logx "questline/pkg/logx"
)

// Store is the quest data the service reads and writes.
type Store interface {
	ListQuests(ctx context.Context, teamID string) ([]model.Quest, error)
	ListQuestTeams(ctx context.Context) ([]string, error)
	SetQuestActive(ctx context.Context, questID string, active bool) error
}

type Service struct {
	store   Store
	log     logx.Logger
	bus     eventbus.Bus
	now     func() time.Time
	workers int
}

type Option func(*Service)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithWorkers bounds concurrent flag writes per team.
func WithWorkers(n int) Option {
	return func(s *Service) { s.workers = n }
}

func WithBus(bus eventbus.Bus) Option {
	return func(s *Service) { s.bus = bus }
}

func New(store Store, log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		store: store,
		log:   log,
		bus:   eventbus.Nop(),
		now:   time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.bus == nil {
		s.bus = eventbus.Nop()
	}
	return s
}
