package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jmehdipour/sms-sequencer/internal/lifecycle"
	"github.com/jmehdipour/sms-sequencer/internal/metrics"
	"github.com/jmehdipour/sms-sequencer/internal/model"
	"github.com/jmehdipour/sms-sequencer/internal/quiethours"
	"github.com/jmehdipour/sms-sequencer/internal/render"
	"github.com/jmehdipour/sms-sequencer/internal/repository"
	"github.com/jmehdipour/sms-sequencer/internal/transport"
	"github.com/jmehdipour/sms-sequencer/internal/util"
)

// Sender is the message transport as seen by the scheduler.
type Sender interface {
	Send(ctx context.Context, req transport.Request) (transport.Result, error)
}

// RunRecorder keeps the outcome of the latest pass for health reporting.
type RunRecorder interface {
	Record(ctx context.Context, summary model.RunSummary, runErr error) error
}

// Runner runs one scheduler pass.
type Runner interface {
	RunOnce(ctx context.Context, now time.Time) (model.RunSummary, error)
}

// Sequencer advances due enrollments. Each RunOnce call:
// - selects a bounded batch of due enrollments,
// - claims each one before touching it,
// - runs the quiet-hours, step, contact, render and send pipeline,
// - persists the resulting state in one update.
// Enrollments are processed strictly one after another.
type Sequencer struct {
	// Dependencies
	Enrollments repository.EnrollmentsRepository
	Steps       repository.StepsRepository
	Contacts    repository.ContactsRepository
	Settings    repository.SettingsRepository
	Transport   Sender
	Recorder    RunRecorder // optional
	Logger      *zap.Logger

	// Behavior
	BatchSize       int
	ClaimLease      time.Duration // must outlive the slowest single enrollment
	SendTimeout     time.Duration
	TestDestination string // when set, every message goes here instead of the contact

	newToken func() string
	clock    func() time.Time
}

var _ Runner = (*Sequencer)(nil)

// NewSequencer builds a scheduler with defaults matching the production config.
func NewSequencer(
	enrollments repository.EnrollmentsRepository,
	steps repository.StepsRepository,
	contacts repository.ContactsRepository,
	settings repository.SettingsRepository,
	sender Sender,
	logger *zap.Logger,
) *Sequencer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sequencer{
		Enrollments: enrollments,
		Steps:       steps,
		Contacts:    contacts,
		Settings:    settings,
		Transport:   sender,
		Logger:      logger,
		BatchSize:   20,
		ClaimLease:  2 * time.Minute,
		SendTimeout: 15 * time.Second,
		newToken:    util.New,
		clock:       time.Now,
	}
}

// RunOnce processes one batch as of now. Only a failure to select the batch
// is returned as an error; per-enrollment failures are recorded on the
// enrollment and counted in the summary.
func (s *Sequencer) RunOnce(ctx context.Context, now time.Time) (model.RunSummary, error) {
	started := s.clock()
	summary := model.RunSummary{StartedAt: now}

	due, err := s.Enrollments.SelectDue(ctx, now, s.BatchSize)
	if err != nil {
		err = fmt.Errorf("select due enrollments: %w", err)
		summary.FinishedAt = now.Add(s.clock().Sub(started))
		s.finish(ctx, summary, err, started)
		return summary, err
	}

	for _, e := range due {
		if ctx.Err() != nil {
			break
		}

		outcome, ok := s.processOne(ctx, e, now)
		metrics.EnrollmentsTotal.WithLabelValues(outcome.String()).Inc()
		if !ok {
			summary.Skipped++
			continue
		}

		summary.Processed++
		switch {
		case outcome.Succeeded():
			summary.Succeeded++
		case outcome.Failed():
			summary.Failed++
		case outcome == lifecycle.Deferred:
			summary.Deferred++
		}
	}

	summary.FinishedAt = now.Add(s.clock().Sub(started))
	s.finish(ctx, summary, nil, started)

	return summary, nil
}

const skipped lifecycle.Outcome = "skipped"

// processOne claims and advances one enrollment. ok is false when the
// enrollment was not processed by this pass.
func (s *Sequencer) processOne(ctx context.Context, e model.Enrollment, now time.Time) (lifecycle.Outcome, bool) {
	log := s.Logger.With(zap.String("enrollment_id", e.ID), zap.Int("step", e.CurrentStep))

	token := s.newToken()
	claimed, err := s.Enrollments.Claim(ctx, e.ID, token, now, s.ClaimLease)
	if err != nil {
		log.Error("claim enrollment", zap.Error(err))
		return skipped, false
	}
	if !claimed {
		log.Debug("enrollment claimed elsewhere")
		return skipped, false
	}

	tr, err := s.advance(ctx, e, now, log)
	if err != nil {
		log.Error("enrollment processing failed", zap.Error(err))
		tr = lifecycle.Crashed(e, now, err)
	}

	// The send already happened; persist its effect even if the caller gave up.
	if err := s.Enrollments.Apply(context.WithoutCancel(ctx), e.ID, token, tr.Update, now); err != nil {
		if errors.Is(err, repository.ErrClaimLost) {
			log.Warn("enrollment changed by an operator during processing", zap.String("outcome", tr.Outcome.String()))
			return skipped, false
		}
		log.Error("persist enrollment, retried after the claim lease",
			zap.String("outcome", tr.Outcome.String()),
			zap.Duration("claim_lease", s.ClaimLease),
			zap.Error(err),
		)
		return lifecycle.PersistFailed, true
	}

	log.Info("enrollment processed", zap.String("outcome", tr.Outcome.String()))
	return tr.Outcome, true
}

// advance computes the transition for one claimed enrollment. A panic is
// turned into an error so the rest of the batch keeps going.
func (s *Sequencer) advance(ctx context.Context, e model.Enrollment, now time.Time, log *zap.Logger) (tr lifecycle.Transition, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while processing enrollment: %v", r)
		}
	}()

	setting, err := s.Settings.QuietHours(ctx, e.OwnerID)
	if err != nil {
		return tr, fmt.Errorf("load quiet hours: %w", err)
	}
	if _, _, perr := quiethours.Parse(setting); perr != nil {
		log.Warn("ignoring invalid quiet hours setting", zap.String("owner_id", e.OwnerID), zap.Error(perr))
	}
	if quiethours.IsSuppressed(setting, now) {
		return lifecycle.Defer(e, quiethours.NextAllowed(setting, now)), nil
	}

	step, err := s.Steps.Get(ctx, e.SequenceID, e.CurrentStep)
	if err != nil {
		return tr, fmt.Errorf("load step: %w", err)
	}
	if step == nil {
		return lifecycle.MissingStep(e, now), nil
	}

	contact, err := s.Contacts.Get(ctx, e.ContactID)
	if err != nil {
		return tr, fmt.Errorf("load contact: %w", err)
	}
	if contact == nil {
		return lifecycle.RecipientError(e, now, lifecycle.ErrMissingContact), nil
	}

	if strings.TrimSpace(step.BodyTemplate) == "" {
		return lifecycle.RecipientError(e, now, lifecycle.ErrMissingTemplate), nil
	}

	to := s.destination(contact)
	if to == "" {
		return lifecycle.RecipientError(e, now, lifecycle.ErrMissingDestination), nil
	}

	sendCtx, cancel := s.sendContext(ctx)
	res, err := s.Transport.Send(sendCtx, transport.Request{
		To:           to,
		Body:         render.Render(step.BodyTemplate, contact.Fields()),
		OwnerID:      e.OwnerID,
		ContactID:    e.ContactID,
		EnrollmentID: e.ID,
		Source:       model.SourceSequence,
	})
	cancel()
	if err != nil {
		return tr, err
	}
	if !res.Sent {
		return lifecycle.SendFailed(e, now, res.Error), nil
	}

	next, err := s.Steps.Next(ctx, e.SequenceID, e.CurrentStep)
	if err != nil {
		return tr, fmt.Errorf("load next step: %w", err)
	}

	return lifecycle.Sent(e, now, next), nil
}

func (s *Sequencer) sendContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.SendTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.SendTimeout)
}

func (s *Sequencer) destination(c *model.Contact) string {
	if s.TestDestination != "" {
		return s.TestDestination
	}
	return util.NormalizePhone(c.SellerPhone)
}

func (s *Sequencer) finish(ctx context.Context, summary model.RunSummary, runErr error, started time.Time) {
	metrics.RunDuration.Observe(s.clock().Sub(started).Seconds())

	result := "ok"
	if runErr != nil {
		result = "error"
		s.Logger.Error("scheduler pass failed", zap.Error(runErr))
	} else {
		s.Logger.Info("scheduler pass finished",
			zap.Int("processed", summary.Processed),
			zap.Int("succeeded", summary.Succeeded),
			zap.Int("failed", summary.Failed),
			zap.Int("deferred", summary.Deferred),
			zap.Int("skipped", summary.Skipped),
		)
	}
	metrics.RunsTotal.WithLabelValues(result).Inc()

	if s.Recorder != nil {
		if err := s.Recorder.Record(context.WithoutCancel(ctx), summary, runErr); err != nil {
			s.Logger.Warn("record run state", zap.Error(err))
		}
	}
}
