// Package enrollment implements the operator actions on enrollments:
// enroll, pause, resume, reset-error and delete.
package enrollment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jmehdipour/sms-sequencer/internal/lifecycle"
	"github.com/jmehdipour/sms-sequencer/internal/model"
	"github.com/jmehdipour/sms-sequencer/internal/repository"
	"github.com/jmehdipour/sms-sequencer/internal/util"
)

var (
	ErrNotFound         = errors.New("enrollment not found")
	ErrSequenceNotFound = errors.New("sequence not found")
	ErrSequenceInactive = errors.New("sequence is not active")
	ErrContactNotFound  = errors.New("contact not found")
	ErrOwnerMismatch    = errors.New("contact and sequence belong to different owners")
	ErrNoSteps          = errors.New("sequence has no steps")
	ErrCompleted        = errors.New("enrollment already completed")
)

// maxAttempts bounds optimistic retries when the scheduler writes the same
// enrollment between our read and our write.
const maxAttempts = 3

type Service struct {
	db          *sqlx.DB
	enrollments repository.EnrollmentsRepository
	sequences   repository.SequencesRepository
	steps       repository.StepsRepository
	contacts    repository.ContactsRepository

	now func() time.Time
}

func New(
	db *sqlx.DB,
	enrollmentsRepo repository.EnrollmentsRepository,
	sequencesRepo repository.SequencesRepository,
	stepsRepo repository.StepsRepository,
	contactsRepo repository.ContactsRepository,
) *Service {
	return &Service{
		db:          db,
		enrollments: enrollmentsRepo,
		sequences:   sequencesRepo,
		steps:       stepsRepo,
		contacts:    contactsRepo,
		now:         time.Now,
	}
}

// Enroll starts contactID on the lowest-numbered step of sequenceID, due
// after that step's delay.
func (s *Service) Enroll(ctx context.Context, sequenceID, contactID string) (*model.Enrollment, error) {
	seq, err := s.sequences.Get(ctx, sequenceID)
	if err != nil {
		return nil, fmt.Errorf("load sequence: %w", err)
	}
	if seq == nil {
		return nil, ErrSequenceNotFound
	}
	if !seq.IsActive {
		return nil, ErrSequenceInactive
	}

	contact, err := s.contacts.Get(ctx, contactID)
	if err != nil {
		return nil, fmt.Errorf("load contact: %w", err)
	}
	if contact == nil {
		return nil, ErrContactNotFound
	}
	if contact.OwnerID != seq.OwnerID {
		return nil, ErrOwnerMismatch
	}

	first, err := s.steps.First(ctx, sequenceID)
	if err != nil {
		return nil, fmt.Errorf("load first step: %w", err)
	}
	if first == nil {
		return nil, ErrNoSteps
	}

	now := s.now().UTC()
	e := lifecycle.Start(*first, now).ApplyTo(model.Enrollment{
		ID:         util.New(),
		SequenceID: seq.ID,
		ContactID:  contact.ID,
		OwnerID:    seq.OwnerID,
		CreatedAt:  now,
		UpdatedAt:  now,
	})

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.enrollments.Insert(ctx, tx, e); err != nil {
		return nil, fmt.Errorf("insert enrollment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit enrollment: %w", err)
	}

	return &e, nil
}

func (s *Service) Get(ctx context.Context, id string) (*model.Enrollment, error) {
	e, err := s.enrollments.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, ErrNotFound
	}
	return e, nil
}

// Pause holds the enrollment. Pausing a completed enrollment is rejected.
func (s *Service) Pause(ctx context.Context, id string) (*model.Enrollment, error) {
	return s.update(ctx, id, func(e model.Enrollment, _ time.Time) (model.EnrollmentUpdate, error) {
		if e.State() == model.StateCompleted {
			return model.EnrollmentUpdate{}, ErrCompleted
		}
		return lifecycle.Pause(e), nil
	})
}

// Resume unpauses; an unscheduled enrollment becomes due immediately.
func (s *Service) Resume(ctx context.Context, id string) (*model.Enrollment, error) {
	return s.update(ctx, id, func(e model.Enrollment, now time.Time) (model.EnrollmentUpdate, error) {
		if e.State() == model.StateCompleted {
			return model.EnrollmentUpdate{}, ErrCompleted
		}
		return lifecycle.Resume(e, now), nil
	})
}

// ResetError clears the diagnostic and retries the current step now.
func (s *Service) ResetError(ctx context.Context, id string) (*model.Enrollment, error) {
	return s.update(ctx, id, func(e model.Enrollment, now time.Time) (model.EnrollmentUpdate, error) {
		return lifecycle.ResetError(e, now), nil
	})
}

func (s *Service) Delete(ctx context.Context, id string) error {
	err := s.enrollments.Delete(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

type transition func(e model.Enrollment, now time.Time) (model.EnrollmentUpdate, error)

func (s *Service) update(ctx context.Context, id string, fn transition) (*model.Enrollment, error) {
	for attempt := 1; ; attempt++ {
		e, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}

		now := s.now().UTC()
		upd, err := fn(*e, now)
		if err != nil {
			return nil, err
		}

		err = s.enrollments.Save(ctx, *e, upd, now)
		if err == nil {
			out := upd.ApplyTo(*e)
			out.Version++
			out.UpdatedAt = now
			return &out, nil
		}
		if !errors.Is(err, repository.ErrConflict) || attempt == maxAttempts {
			return nil, err
		}
	}
}

// List returns enrollments for operator review, e.g. every paused one with
// an error.
func (s *Service) List(ctx context.Context, q repository.EnrollmentQuery) ([]model.Enrollment, error) {
	return s.enrollments.List(ctx, q)
}

// Counts reports how many enrollments sit in each state.
func (s *Service) Counts(ctx context.Context) (map[model.EnrollmentState]int, error) {
	return s.enrollments.CountByState(ctx)
}
