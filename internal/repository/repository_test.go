package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jmehdipour/sms-sequencer/internal/model"
	"github.com/jmehdipour/sms-sequencer/internal/repository/repotest"
)

var base = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	enrollments *EnrollmentsRepositoryImpl
	steps       *StepsRepositoryImpl
	sequences   *SequencesRepositoryImpl
	contacts    *ContactsRepositoryImpl
	settings    *SettingsRepositoryImpl
	messages    *MessageLogRepositoryImpl
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	db := repotest.Open(t)
	f := fixture{
		enrollments: NewEnrollmentsRepository(db),
		steps:       NewStepsRepository(db),
		sequences:   NewSequencesRepository(db),
		contacts:    NewContactsRepository(db),
		settings:    NewSettingsRepository(db),
		messages:    NewMessageLogRepository(db),
	}

	ctx := context.Background()
	require.NoError(t, f.sequences.Insert(ctx, nil, model.Sequence{
		ID: "seq1", OwnerID: "owner1", Name: "Cold leads", IsActive: true, CreatedAt: base, UpdatedAt: base,
	}))
	require.NoError(t, f.contacts.Insert(ctx, nil, model.Contact{ID: "c1", OwnerID: "owner1"}, base))

	return f
}

func (f fixture) enroll(t *testing.T, id string, nextRunAt *time.Time, mutate func(*model.Enrollment)) {
	t.Helper()
	e := model.Enrollment{
		ID: id, SequenceID: "seq1", ContactID: "c1", OwnerID: "owner1",
		CurrentStep: 1, NextRunAt: nextRunAt, CreatedAt: base,
	}
	if mutate != nil {
		mutate(&e)
	}
	require.NoError(t, f.enrollments.Insert(context.Background(), nil, e))
}

func at(d time.Duration) *time.Time {
	t := base.Add(d)
	return &t
}

func TestSelectDueFiltersAndOrders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.enroll(t, "late", at(-time.Minute), nil)
	f.enroll(t, "early", at(-time.Hour), nil)
	f.enroll(t, "exact", at(0), nil)
	f.enroll(t, "future", at(time.Minute), nil)
	f.enroll(t, "unscheduled", nil, nil)
	f.enroll(t, "paused", at(-2*time.Hour), func(e *model.Enrollment) { e.IsPaused = true })
	f.enroll(t, "done", at(-2*time.Hour), func(e *model.Enrollment) { e.CompletedAt = at(-time.Hour) })

	due, err := f.enrollments.SelectDue(ctx, base, 20)
	require.NoError(t, err)

	ids := make([]string, 0, len(due))
	for _, e := range due {
		ids = append(ids, e.ID)
	}
	require.Equal(t, []string{"early", "late", "exact"}, ids)

	due, err = f.enrollments.SelectDue(ctx, base, 2)
	require.NoError(t, err)
	require.Len(t, due, 2)
}

func TestClaimIsExclusiveUntilLeaseExpires(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.enroll(t, "e1", at(-time.Minute), nil)

	ok, err := f.enrollments.Claim(ctx, "e1", "tokA", base, 5*time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = f.enrollments.Claim(ctx, "e1", "tokB", base.Add(time.Second), 5*time.Minute)
	require.NoError(t, err)
	require.False(t, ok)

	due, err := f.enrollments.SelectDue(ctx, base.Add(time.Second), 20)
	require.NoError(t, err)
	require.Empty(t, due)

	// An abandoned claim becomes claimable again.
	ok, err = f.enrollments.Claim(ctx, "e1", "tokB", base.Add(6*time.Minute), 5*time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	err = f.enrollments.Apply(ctx, "e1", "tokA", model.EnrollmentUpdate{CurrentStep: 2}, base)
	require.ErrorIs(t, err, ErrClaimLost)
}

func TestClaimRejectsNonDue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.enroll(t, "paused", at(-time.Minute), func(e *model.Enrollment) { e.IsPaused = true })
	f.enroll(t, "future", at(time.Hour), nil)

	for _, id := range []string{"paused", "future", "missing"} {
		ok, err := f.enrollments.Claim(ctx, id, "tok", base, time.Minute)
		require.NoError(t, err)
		require.False(t, ok, id)
	}
}

func TestApplyWritesFullStateAndReleasesClaim(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.enroll(t, "e1", at(-time.Minute), nil)

	ok, err := f.enrollments.Claim(ctx, "e1", "tok", base, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	msg := "carrier rejected"
	upd := model.EnrollmentUpdate{
		CurrentStep: 1,
		NextRunAt:   at(-time.Minute),
		IsPaused:    true,
		LastError:   &msg,
		LastErrorAt: at(0),
	}
	require.NoError(t, f.enrollments.Apply(ctx, "e1", "tok", upd, base))

	got, err := f.enrollments.Get(ctx, "e1")
	require.NoError(t, err)
	require.Equal(t, model.StatePaused, got.State())
	require.Equal(t, msg, *got.LastError)
	require.Equal(t, base, *got.LastErrorAt)
	require.Equal(t, base.Add(-time.Minute), *got.NextRunAt)
	require.Equal(t, int64(1), got.Version)

	// Claim released: applying again with the same token fails.
	require.ErrorIs(t, f.enrollments.Apply(ctx, "e1", "tok", upd, base), ErrClaimLost)
}

func TestSaveIsOptimisticAndBreaksClaims(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.enroll(t, "e1", at(-time.Minute), nil)

	e, err := f.enrollments.Get(ctx, "e1")
	require.NoError(t, err)

	ok, err := f.enrollments.Claim(ctx, "e1", "tok", base, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	paused := e.Update()
	paused.IsPaused = true
	require.NoError(t, f.enrollments.Save(ctx, *e, paused, base))

	// The worker that held the claim can no longer overwrite the operator.
	require.ErrorIs(t, f.enrollments.Apply(ctx, "e1", "tok", model.EnrollmentUpdate{CurrentStep: 2}, base), ErrClaimLost)

	// A stale snapshot is rejected.
	require.ErrorIs(t, f.enrollments.Save(ctx, *e, paused, base), ErrConflict)

	got, err := f.enrollments.Get(ctx, "e1")
	require.NoError(t, err)
	require.True(t, got.IsPaused)
	require.Equal(t, 1, got.CurrentStep)
}

func TestGetAndDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	got, err := f.enrollments.Get(ctx, "nope")
	require.NoError(t, err)
	require.Nil(t, got)
	require.ErrorIs(t, f.enrollments.Delete(ctx, "nope"), ErrNotFound)

	f.enroll(t, "e1", at(0), nil)
	require.NoError(t, f.enrollments.Delete(ctx, "e1"))
	got, err = f.enrollments.Get(ctx, "e1")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestCountByState(t *testing.T) {
	f := newFixture(t)
	f.enroll(t, "a1", at(0), nil)
	f.enroll(t, "a2", nil, nil)
	f.enroll(t, "p1", at(0), func(e *model.Enrollment) { e.IsPaused = true })
	f.enroll(t, "d1", nil, func(e *model.Enrollment) { e.CompletedAt = at(0); e.IsPaused = true })

	counts, err := f.enrollments.CountByState(context.Background())
	require.NoError(t, err)
	require.Equal(t, map[model.EnrollmentState]int{
		model.StateActive:    2,
		model.StatePaused:    1,
		model.StateCompleted: 1,
	}, counts)
}

func TestListFiltersByStateAndError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	boom := "template missing"

	f.enroll(t, "a1", at(0), nil)
	f.enroll(t, "p-old", at(0), func(e *model.Enrollment) { e.IsPaused = true; e.LastError = &boom })
	f.enroll(t, "p-new", at(0), func(e *model.Enrollment) {
		e.IsPaused = true
		e.LastError = &boom
		e.CreatedAt = base.Add(time.Hour)
	})
	f.enroll(t, "p-manual", at(0), func(e *model.Enrollment) { e.IsPaused = true })
	f.enroll(t, "d1", nil, func(e *model.Enrollment) { e.CompletedAt = at(0); e.LastError = &boom })
	f.enroll(t, "other", at(0), func(e *model.Enrollment) { e.OwnerID = "owner2"; e.IsPaused = true })

	ids := func(q EnrollmentQuery) []string {
		t.Helper()
		list, err := f.enrollments.List(ctx, q)
		require.NoError(t, err)
		out := make([]string, 0, len(list))
		for _, e := range list {
			out = append(out, e.ID)
		}
		return out
	}

	require.Equal(t, []string{"p-new", "other", "p-manual", "p-old"}, ids(EnrollmentQuery{State: model.StatePaused}))
	require.Equal(t, []string{"p-new", "p-old"}, ids(EnrollmentQuery{OwnerID: "owner1", State: model.StatePaused, Errored: true}))
	require.Equal(t, []string{"p-new", "d1", "p-old"}, ids(EnrollmentQuery{Errored: true}))
	require.Equal(t, []string{"a1"}, ids(EnrollmentQuery{State: model.StateActive}))
	require.Equal(t, []string{"d1"}, ids(EnrollmentQuery{State: model.StateCompleted}))
	require.Equal(t, []string{"other"}, ids(EnrollmentQuery{OwnerID: "owner2"}))
	require.Equal(t, []string{"p-manual"}, ids(EnrollmentQuery{State: model.StatePaused, Limit: 1, Offset: 2}))
}

func TestStepsLookup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, s := range []model.Step{
		{ID: "s3", SequenceID: "seq1", StepNumber: 3, DelayMinutes: 60, BodyTemplate: "third"},
		{ID: "s1", SequenceID: "seq1", StepNumber: 1, DelayMinutes: 0, BodyTemplate: "first"},
		{ID: "s7", SequenceID: "seq1", StepNumber: 7, DelayMinutes: 1440},
	} {
		require.NoError(t, f.steps.Insert(ctx, nil, s))
	}

	first, err := f.steps.First(ctx, "seq1")
	require.NoError(t, err)
	require.Equal(t, 1, first.StepNumber)

	next, err := f.steps.Next(ctx, "seq1", 1)
	require.NoError(t, err)
	require.Equal(t, 3, next.StepNumber)
	require.Equal(t, 60, next.DelayMinutes)

	next, err = f.steps.Next(ctx, "seq1", 3)
	require.NoError(t, err)
	require.Equal(t, 7, next.StepNumber)
	require.Empty(t, next.BodyTemplate)

	next, err = f.steps.Next(ctx, "seq1", 7)
	require.NoError(t, err)
	require.Nil(t, next)

	got, err := f.steps.Get(ctx, "seq1", 2)
	require.NoError(t, err)
	require.Nil(t, got)

	none, err := f.steps.First(ctx, "other")
	require.NoError(t, err)
	require.Nil(t, none)
}

func TestSequencesContactsSettings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	seq, err := f.sequences.Get(ctx, "seq1")
	require.NoError(t, err)
	require.Equal(t, "Cold leads", seq.Name)
	require.True(t, seq.IsActive)
	require.Equal(t, base, seq.CreatedAt)

	price, baths, dom := 350000.0, 2.5, 12
	require.NoError(t, f.contacts.Insert(ctx, nil, model.Contact{
		ID: "c2", OwnerID: "owner1", Address: "12 Elm St", City: "Austin",
		ListPrice: &price, Baths: &baths, DOM: &dom, SellerPhone: "+15125550100",
	}, base))

	c, err := f.contacts.Get(ctx, "c2")
	require.NoError(t, err)
	require.Equal(t, "12 Elm St", c.Address)
	require.Equal(t, price, *c.ListPrice)
	require.Nil(t, c.ARV)
	require.Equal(t, 12, *c.DOM)
	require.Equal(t, "+15125550100", c.SellerPhone)

	missing, err := f.contacts.Get(ctx, "nope")
	require.NoError(t, err)
	require.Nil(t, missing)

	qh, err := f.settings.QuietHours(ctx, "owner1")
	require.NoError(t, err)
	require.Nil(t, qh)

	setting := model.QuietHoursSetting{OwnerID: "owner1", Enabled: true, Start: "21:00", End: "08:00", Timezone: "America/Chicago"}
	require.NoError(t, f.settings.UpsertQuietHours(ctx, nil, setting, base))
	setting.Start = "22:00"
	require.NoError(t, f.settings.UpsertQuietHours(ctx, nil, setting, base))

	qh, err = f.settings.QuietHours(ctx, "owner1")
	require.NoError(t, err)
	require.Equal(t, setting, *qh)
}

func TestMessageLogAppendOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	entries := []*model.MessageLogEntry{
		{ID: "m1", OwnerID: "owner1", ContactID: "c1", EnrollmentID: "e1", ToNumber: "+1", FromNumber: "+2",
			Body: "hi", Status: model.StatusSent, ProviderRef: "SM1", Source: "sequence", CreatedAt: base},
		{ID: "m2", OwnerID: "owner1", ContactID: "c1", ToNumber: "+1", FromNumber: "+2",
			Body: "hi again", Status: model.StatusFailed, Error: "boom", Source: "manual", CreatedAt: base.Add(time.Minute)},
		{ID: "m0", OwnerID: "owner1", ContactID: "c1", ToNumber: "+1", FromNumber: "+2",
			Body: "old", Status: model.StatusSent, Source: "sequence-mock", CreatedAt: base.Add(-48 * time.Hour)},
	}
	for _, e := range entries {
		require.NoError(t, f.messages.Append(ctx, e))
	}
	require.Error(t, f.messages.Append(ctx, entries[0]), "ids are unique")

	counts, err := f.messages.CountSince(ctx, base.Add(-time.Hour))
	require.NoError(t, err)
	require.Equal(t, map[model.MessageStatus]int{model.StatusSent: 1, model.StatusFailed: 1}, counts)

	list, err := f.messages.ListByContact(ctx, "c1", 10)
	require.NoError(t, err)
	require.Len(t, list, 3)
	require.Equal(t, "m0", list[0].ID)
	require.Equal(t, *entries[0], list[1])
	require.Equal(t, "boom", list[2].Error)
	require.Empty(t, list[2].EnrollmentID)
}

func TestBuildMessageQuery(t *testing.T) {
	q, args := buildMessageQuery(MessageQuery{OwnerID: "o1", Status: model.StatusFailed, Limit: 5000, Offset: -3})
	require.Contains(t, q, "FROM smsseq.message_log_latest")
	require.Contains(t, q, "AND status = ?")
	require.NotContains(t, q, "contact_id = ?")
	require.Equal(t, []any{"o1", "failed", 50, 0}, args)

	q, args = buildMessageQuery(MessageQuery{OwnerID: "o1", ContactID: "c1", Source: "sequence", Limit: 10, Offset: 20})
	require.Contains(t, q, "AND contact_id = ?")
	require.Contains(t, q, "AND source = ?")
	require.Equal(t, []any{"o1", "c1", "sequence", 10, 20}, args)
}
