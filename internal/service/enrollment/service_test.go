package enrollment

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jmehdipour/sms-sequencer/internal/model"
	"github.com/jmehdipour/sms-sequencer/internal/repository"
	"github.com/jmehdipour/sms-sequencer/internal/repository/repotest"
)

var clock = time.Date(2026, 6, 2, 17, 0, 0, 0, time.UTC)

type fixture struct {
	svc         *Service
	enrollments *repository.EnrollmentsRepositoryImpl
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	db := repotest.Open(t)
	ctx := context.Background()

	enrollments := repository.NewEnrollmentsRepository(db)
	sequences := repository.NewSequencesRepository(db)
	steps := repository.NewStepsRepository(db)
	contacts := repository.NewContactsRepository(db)

	require.NoError(t, sequences.Insert(ctx, nil, model.Sequence{ID: "seq1", OwnerID: "o1", Name: "A", IsActive: true, CreatedAt: clock, UpdatedAt: clock}))
	require.NoError(t, sequences.Insert(ctx, nil, model.Sequence{ID: "off", OwnerID: "o1", Name: "B", IsActive: false, CreatedAt: clock, UpdatedAt: clock}))
	require.NoError(t, sequences.Insert(ctx, nil, model.Sequence{ID: "empty", OwnerID: "o1", Name: "C", IsActive: true, CreatedAt: clock, UpdatedAt: clock}))
	require.NoError(t, steps.Insert(ctx, nil, model.Step{ID: "s5", SequenceID: "seq1", StepNumber: 5, DelayMinutes: 90, BodyTemplate: "later"}))
	require.NoError(t, steps.Insert(ctx, nil, model.Step{ID: "s2", SequenceID: "seq1", StepNumber: 2, DelayMinutes: 30, BodyTemplate: "first"}))
	require.NoError(t, contacts.Insert(ctx, nil, model.Contact{ID: "c1", OwnerID: "o1"}, clock))
	require.NoError(t, contacts.Insert(ctx, nil, model.Contact{ID: "foreign", OwnerID: "o2"}, clock))

	svc := New(db, enrollments, sequences, steps, contacts)
	svc.now = func() time.Time { return clock }

	return fixture{svc: svc, enrollments: enrollments}
}

func TestEnrollStartsAtLowestStep(t *testing.T) {
	f := newFixture(t)

	e, err := f.svc.Enroll(context.Background(), "seq1", "c1")
	require.NoError(t, err)
	require.Equal(t, 2, e.CurrentStep)
	require.Equal(t, clock.Add(30*time.Minute), *e.NextRunAt)
	require.Equal(t, "o1", e.OwnerID)

	stored, err := f.svc.Get(context.Background(), e.ID)
	require.NoError(t, err)
	require.Equal(t, e.CurrentStep, stored.CurrentStep)
	require.Equal(t, *e.NextRunAt, *stored.NextRunAt)
	require.Equal(t, model.StateActive, stored.State())
}

func TestEnrollValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, tc := range []struct {
		seq, contact string
		want         error
	}{
		{"nope", "c1", ErrSequenceNotFound},
		{"off", "c1", ErrSequenceInactive},
		{"seq1", "nope", ErrContactNotFound},
		{"seq1", "foreign", ErrOwnerMismatch},
		{"empty", "c1", ErrNoSteps},
	} {
		_, err := f.svc.Enroll(ctx, tc.seq, tc.contact)
		require.ErrorIs(t, err, tc.want, "%s/%s", tc.seq, tc.contact)
	}
}

func TestPauseResumeResetDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	e, err := f.svc.Enroll(ctx, "seq1", "c1")
	require.NoError(t, err)

	paused, err := f.svc.Pause(ctx, e.ID)
	require.NoError(t, err)
	require.Equal(t, model.StatePaused, paused.State())

	stored, err := f.svc.Get(ctx, e.ID)
	require.NoError(t, err)
	require.True(t, stored.IsPaused)
	require.Equal(t, int64(1), stored.Version)

	resumed, err := f.svc.Resume(ctx, e.ID)
	require.NoError(t, err)
	require.Equal(t, model.StateActive, resumed.State())
	require.Equal(t, clock.Add(30*time.Minute), *resumed.NextRunAt, "scheduled enrollments keep their time")

	reset, err := f.svc.ResetError(ctx, e.ID)
	require.NoError(t, err)
	require.Equal(t, clock, *reset.NextRunAt)
	require.Nil(t, reset.LastError)

	require.NoError(t, f.svc.Delete(ctx, e.ID))
	_, err = f.svc.Get(ctx, e.ID)
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, f.svc.Delete(ctx, e.ID), ErrNotFound)
	_, err = f.svc.Pause(ctx, e.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestResumeSchedulesUnscheduled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.enrollments.Insert(ctx, nil, model.Enrollment{
		ID: "e1", SequenceID: "seq1", ContactID: "c1", OwnerID: "o1", CurrentStep: 2, IsPaused: true, CreatedAt: clock,
	}))

	resumed, err := f.svc.Resume(ctx, "e1")
	require.NoError(t, err)
	require.Equal(t, clock, *resumed.NextRunAt)

	counts, err := f.svc.Counts(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, counts[model.StateActive])
}

func TestCompletedEnrollmentsRejectPauseAndResume(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	done := clock.Add(-time.Hour)
	msg := "Missing step for current_step"
	require.NoError(t, f.enrollments.Insert(ctx, nil, model.Enrollment{
		ID: "e1", SequenceID: "seq1", ContactID: "c1", OwnerID: "o1", CurrentStep: 9,
		CompletedAt: &done, LastError: &msg, LastErrorAt: &done, CreatedAt: clock,
	}))

	_, err := f.svc.Pause(ctx, "e1")
	require.ErrorIs(t, err, ErrCompleted)
	_, err = f.svc.Resume(ctx, "e1")
	require.ErrorIs(t, err, ErrCompleted)

	reset, err := f.svc.ResetError(ctx, "e1")
	require.NoError(t, err)
	require.Nil(t, reset.LastError)
	require.Equal(t, model.StateCompleted, reset.State())
}

type conflictOnce struct {
	*repository.EnrollmentsRepositoryImpl
	fired bool
}

// Save lets the scheduler sneak in one write before the first attempt lands.
func (c *conflictOnce) Save(ctx context.Context, e model.Enrollment, upd model.EnrollmentUpdate, now time.Time) error {
	if !c.fired {
		c.fired = true
		cur, err := c.Get(ctx, e.ID)
		if err != nil {
			return err
		}
		adv := cur.Update()
		adv.CurrentStep = 5
		if err := c.EnrollmentsRepositoryImpl.Save(ctx, *cur, adv, now); err != nil {
			return err
		}
	}
	return c.EnrollmentsRepositoryImpl.Save(ctx, e, upd, now)
}

func TestUpdateRetriesOnConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	e, err := f.svc.Enroll(ctx, "seq1", "c1")
	require.NoError(t, err)

	f.svc.enrollments = &conflictOnce{EnrollmentsRepositoryImpl: f.enrollments}

	paused, err := f.svc.Pause(ctx, e.ID)
	require.NoError(t, err)
	require.True(t, paused.IsPaused)
	require.Equal(t, 5, paused.CurrentStep, "second attempt saw the concurrent write")
}
