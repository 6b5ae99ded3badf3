package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/occasionhub/birthdaysvc/internal/domain/messagelog"
	domainuser "github.com/occasionhub/birthdaysvc/internal/domain/user"
	"github.com/occasionhub/birthdaysvc/internal/timezone"
)

type UsersLister interface {
	WithOccasionOn(ctx context.Context, occasion domainuser.OccasionType, month time.Month, day int) ([]domainuser.User, error)
}

type MessageLogInserter interface {
	InsertScheduled(ctx context.Context, m messagelog.MessageLog) error
}

// DailyScheduler implements the Daily Precalculation Scheduler (spec.md
// §4.E): for each date in the precalculation horizon and each occasion
// type, finds matching users and inserts a SCHEDULED row per occasion.
type DailyScheduler struct {
	guard overlapGuard

	users     UsersLister
	inserter  MessageLogInserter
	resolver  *timezone.Resolver
	horizon   int
	log       *slog.Logger
	cronExpr  string
}

func NewDailyScheduler(users UsersLister, inserter MessageLogInserter, resolver *timezone.Resolver, horizonDays int, cronExpr string, log *slog.Logger) *DailyScheduler {
	if horizonDays < 1 {
		horizonDays = 1
	}
	return &DailyScheduler{
		users:    users,
		inserter: inserter,
		resolver: resolver,
		horizon:  horizonDays,
		cronExpr: cronExpr,
		log:      log,
	}
}

func (s *DailyScheduler) Report() RunReport { return s.guard.Report() }

// RunOnce executes one precalculation pass ("Trigger: ... and on demand",
// spec.md §4.E) against today_UTC.
func (s *DailyScheduler) RunOnce(ctx context.Context) {
	s.guard.tryRun(func() error {
		return s.precalculate(ctx, time.Now().UTC())
	})
}

func (s *DailyScheduler) precalculate(ctx context.Context, todayUTC time.Time) error {
	todayUTC = time.Date(todayUTC.Year(), todayUTC.Month(), todayUTC.Day(), 0, 0, 0, 0, time.UTC)

	var inserted, skipped int

	for offset := 0; offset < s.horizon; offset++ {
		d := todayUTC.AddDate(0, 0, offset)

		for _, occasion := range []domainuser.OccasionType{domainuser.Birthday, domainuser.Anniversary} {
			month, day := timezone.NormalizeOccasionDay(d.Year(), d.Month(), d.Day())

			users, err := s.users.WithOccasionOn(ctx, occasion, month, day)
			if err != nil {
				return fmt.Errorf("precalc: list users for %s %04d-%02d-%02d: %w", occasion, d.Year(), month, day, err)
			}

			// In a non-leap year, Feb 29 occasions are scheduled on Feb 28.
			if month == time.February && day == 28 {
				if _, clamped := timezone.NormalizeOccasionDay(d.Year(), time.February, 29); clamped == 28 {
					leapDay, lerr := s.users.WithOccasionOn(ctx, occasion, time.February, 29)
					if lerr != nil {
						return fmt.Errorf("precalc: list users for %s %04d-02-29: %w", occasion, d.Year(), lerr)
					}
					users = append(users, leapDay...)
				}
			}

			msgType := messagelog.TypeBirthday
			if occasion == domainuser.Anniversary {
				msgType = messagelog.TypeAnniversary
			}

			localDate := fmt.Sprintf("%04d-%02d-%02d", d.Year(), month, day)

			for _, u := range users {
				sendTime, rerr := s.resolver.ResolveSendTime(u.Timezone, d.Year(), month, day)
				if rerr != nil {
					// a single user's malformed timezone never aborts the run
					// (spec.md §7: Validation errors are reported at the
					// boundary, never propagated as a storage failure).
					s.log.WarnContext(ctx, "precalc.bad_timezone", "user_id", u.ID, "timezone", u.Timezone, "err", rerr)
					continue
				}

				content := messagelog.RenderContent(msgType, u.FirstName, u.LastName)

				m, merr := messagelog.NewScheduled(u.ID, msgType, content, sendTime, localDate)
				if merr != nil {
					return fmt.Errorf("precalc: build scheduled row: %w", merr)
				}

				if err := s.inserter.InsertScheduled(ctx, m); err != nil {
					if errors.Is(err, messagelog.ErrIdempotentSkip) {
						skipped++
						continue
					}
					return fmt.Errorf("precalc: insert_scheduled user=%s: %w", u.ID, err)
				}
				inserted++
			}
		}
	}

	s.log.InfoContext(ctx, "precalc.run", "inserted", inserted, "skipped_idempotent", skipped, "horizon_days", s.horizon)
	return nil
}

// Run starts the cron-driven loop and blocks until ctx is cancelled,
// honoring the shared concurrency contract (spec.md §4.E/F/G).
func (s *DailyScheduler) Run(ctx context.Context, shutdownGrace time.Duration) error {
	c := cron.New()
	_, err := c.AddFunc(s.cronExpr, func() { s.RunOnce(ctx) })
	if err != nil {
		return fmt.Errorf("daily scheduler: invalid cron expression %q: %w", s.cronExpr, err)
	}

	c.Start()
	<-ctx.Done()

	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(shutdownGrace):
		s.log.Warn("daily scheduler: shutdown grace exceeded")
	}
	return nil
}
