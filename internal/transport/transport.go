// Package transport sends one SMS through a live provider or the mock path
// and records every attempt in the message log.
package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jmehdipour/sms-sequencer/internal/metrics"
	"github.com/jmehdipour/sms-sequencer/internal/model"
	"github.com/jmehdipour/sms-sequencer/internal/util"
)

type Mode string

const (
	ModeLive Mode = "live"
	ModeMock Mode = "mock"
)

func (m Mode) String() string { return string(m) }

// ParseMode treats live, prod and production as live. Anything else is mock.
func ParseMode(raw string) Mode {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "live", "prod", "production":
		return ModeLive
	default:
		return ModeMock
	}
}

var ErrMisconfigured = errors.New("transport misconfigured")

type Config struct {
	Mode     Mode
	SenderID string
	Twilio   TwilioConfig
}

// Validate rejects a live configuration without a sender or credentials.
func (c Config) Validate() error {
	if c.Mode != ModeLive {
		return nil
	}

	if c.SenderID == "" {
		return fmt.Errorf("%w: sender id not configured", ErrMisconfigured)
	}

	if c.Twilio.AccountSID == "" || c.Twilio.AuthToken == "" {
		return fmt.Errorf("%w: provider credentials not configured", ErrMisconfigured)
	}

	return nil
}

// MessageLogger is the append-only sink for send attempts.
type MessageLogger interface {
	Append(ctx context.Context, entry *model.MessageLogEntry) error
}

type Request struct {
	To           string
	From         string // defaults to the configured sender
	Body         string
	OwnerID      string
	ContactID    string
	EnrollmentID string
	Source       string // defaults to manual
}

type Result struct {
	Sent        bool
	ProviderRef string
	Error       string
}

type Transport struct {
	mode     Mode
	senderID string
	provider Provider
	log      MessageLogger
	logger   *zap.Logger
	now      func() time.Time
}

// New builds a transport. In mock mode the provider argument is ignored.
func New(cfg Config, provider Provider, log MessageLogger, logger *zap.Logger) (*Transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if log == nil {
		return nil, fmt.Errorf("%w: message log is required", ErrMisconfigured)
	}

	if cfg.Mode != ModeLive {
		cfg.Mode = ModeMock
		provider = MockProvider{}
	}

	if provider == nil {
		return nil, fmt.Errorf("%w: live mode needs a provider", ErrMisconfigured)
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	return &Transport{
		mode:     cfg.Mode,
		senderID: cfg.SenderID,
		provider: provider,
		log:      log,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// NewFromConfig wires the Twilio provider for live mode.
func NewFromConfig(cfg Config, log MessageLogger, logger *zap.Logger) (*Transport, error) {
	var p Provider
	if cfg.Mode == ModeLive {
		p = NewTwilioProvider(cfg.Twilio)
	}
	return New(cfg, p, log, logger)
}

func (t *Transport) Mode() Mode { return t.mode }

// Ready reports whether the provider would accept a send right now.
// Providers without a breaker are always ready.
func (t *Transport) Ready() bool {
	if r, ok := t.provider.(interface{ Ready() bool }); ok {
		return r.Ready()
	}
	return true
}

// Send performs at most one provider call and appends exactly one log entry.
// A non-nil error means the log entry could not be written.
func (t *Transport) Send(ctx context.Context, req Request) (Result, error) {
	from := req.From
	if from == "" {
		from = t.senderID
	}

	source := req.Source
	if source == "" {
		source = model.SourceManual
	}

	var res Result
	if t.mode == ModeMock {
		source += "-mock"
		res = Result{Sent: true}
	} else {
		ref, err := t.provider.Send(ctx, req.To, from, req.Body)
		if err != nil {
			res = Result{Error: err.Error()}
		} else {
			res = Result{Sent: true, ProviderRef: ref}
		}
	}

	entry := &model.MessageLogEntry{
		ID:           util.New(),
		OwnerID:      req.OwnerID,
		ContactID:    req.ContactID,
		EnrollmentID: req.EnrollmentID,
		ToNumber:     req.To,
		FromNumber:   from,
		Body:         req.Body,
		Status:       model.StatusSent,
		ProviderRef:  res.ProviderRef,
		Error:        res.Error,
		Source:       source,
		CreatedAt:    t.now().UTC(),
	}
	if !res.Sent {
		entry.Status = model.StatusFailed
	}

	metrics.MessagesTotal.WithLabelValues(entry.Status.String(), t.mode.String()).Inc()

	// The attempt is recorded even when the send deadline already fired.
	if err := t.log.Append(context.WithoutCancel(ctx), entry); err != nil {
		t.logger.Error("append message log failed",
			zap.String("contact_id", req.ContactID),
			zap.String("enrollment_id", req.EnrollmentID),
			zap.Bool("sent", res.Sent),
			zap.Error(err),
		)
		return res, fmt.Errorf("append message log: %w", err)
	}

	if !res.Sent {
		t.logger.Warn("sms send failed",
			zap.String("provider", t.provider.Name()),
			zap.String("contact_id", req.ContactID),
			zap.String("error", res.Error),
		)
	}

	return res, nil
}
