package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jmehdipour/sms-sequencer/internal/model"
)

type memLog struct {
	mu      sync.Mutex
	entries []*model.MessageLogEntry
	err     error
}

func (m *memLog) Append(_ context.Context, e *model.MessageLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, e)
	return nil
}

type stubProvider struct {
	calls int
	ref   string
	err   error
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) Send(context.Context, string, string, string) (string, error) {
	s.calls++
	return s.ref, s.err
}

func liveConfig() Config {
	return Config{
		Mode:     ModeLive,
		SenderID: "+15550001111",
		Twilio:   TwilioConfig{AccountSID: "AC123", AuthToken: "secret"},
	}
}

func TestParseMode(t *testing.T) {
	for raw, want := range map[string]Mode{
		"live":       ModeLive,
		"PROD":       ModeLive,
		"production": ModeLive,
		" Live ":     ModeLive,
		"":           ModeMock,
		"mock":       ModeMock,
		"staging":    ModeMock,
	} {
		require.Equal(t, want, ParseMode(raw), raw)
	}
}

func TestNewRejectsIncompleteLiveConfig(t *testing.T) {
	log := &memLog{}

	cfg := liveConfig()
	cfg.SenderID = ""
	_, err := New(cfg, &stubProvider{}, log, nil)
	require.ErrorIs(t, err, ErrMisconfigured)

	cfg = liveConfig()
	cfg.Twilio.AuthToken = ""
	_, err = New(cfg, &stubProvider{}, log, nil)
	require.ErrorIs(t, err, ErrMisconfigured)

	_, err = New(Config{Mode: ModeMock}, nil, log, nil)
	require.NoError(t, err)
}

func TestMockSendLogsTaggedEntry(t *testing.T) {
	log := &memLog{}
	p := &stubProvider{}
	tr, err := New(Config{Mode: ModeMock, SenderID: "+15550001111"}, p, log, nil)
	require.NoError(t, err)

	res, err := tr.Send(context.Background(), Request{
		To: "+15550002222", Body: "hi", OwnerID: "o1", ContactID: "c1", Source: model.SourceSequence,
	})
	require.NoError(t, err)
	require.True(t, res.Sent)
	require.Empty(t, res.ProviderRef)
	require.Zero(t, p.calls)

	require.Len(t, log.entries, 1)
	e := log.entries[0]
	require.Equal(t, "sequence-mock", e.Source)
	require.Equal(t, model.StatusSent, e.Status)
	require.Equal(t, "+15550001111", e.FromNumber)
	require.Equal(t, "hi", e.Body)
	require.NotEmpty(t, e.ID)
}

func TestLiveSendOutcomesAreLogged(t *testing.T) {
	log := &memLog{}
	p := &stubProvider{ref: "SM1"}
	tr, err := New(liveConfig(), p, log, nil)
	require.NoError(t, err)

	res, err := tr.Send(context.Background(), Request{To: "+15550002222", Body: "one"})
	require.NoError(t, err)
	require.Equal(t, Result{Sent: true, ProviderRef: "SM1"}, res)

	p.err = errors.New("unreachable handset")
	p.ref = ""
	res, err = tr.Send(context.Background(), Request{To: "+15550002222", Body: "two"})
	require.NoError(t, err)
	require.False(t, res.Sent)
	require.Equal(t, "unreachable handset", res.Error)
	require.Empty(t, res.ProviderRef)

	require.Equal(t, 2, p.calls)
	require.Len(t, log.entries, 2)
	require.Equal(t, model.StatusSent, log.entries[0].Status)
	require.Equal(t, "manual", log.entries[0].Source)
	require.Equal(t, "SM1", log.entries[0].ProviderRef)
	require.Equal(t, model.StatusFailed, log.entries[1].Status)
	require.Equal(t, "unreachable handset", log.entries[1].Error)
}

func TestSendSurfacesLogFailure(t *testing.T) {
	log := &memLog{err: errors.New("disk full")}
	tr, err := New(Config{Mode: ModeMock}, nil, log, nil)
	require.NoError(t, err)

	res, err := tr.Send(context.Background(), Request{To: "+1", Body: "x"})
	require.Error(t, err)
	require.True(t, res.Sent)
}

func TestSendLogsAfterDeadline(t *testing.T) {
	log := &memLog{}
	p := &stubProvider{err: context.DeadlineExceeded}
	tr, err := New(liveConfig(), p, log, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := tr.Send(ctx, Request{To: "+1", Body: "x"})
	require.NoError(t, err)
	require.False(t, res.Sent)
	require.Len(t, log.entries, 1)
}

func TestTwilioProvider(t *testing.T) {
	var gotPath, gotUser, gotPass string
	var gotForm map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUser, gotPass, _ = r.BasicAuth()
		_ = r.ParseForm()
		gotForm = map[string]string{"To": r.PostForm.Get("To"), "From": r.PostForm.Get("From"), "Body": r.PostForm.Get("Body")}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"SM42","status":"queued"}`))
	}))
	defer srv.Close()

	p := NewTwilioProvider(TwilioConfig{BaseURL: srv.URL, AccountSID: "AC1", AuthToken: "tok"})
	ref, err := p.Send(context.Background(), "+15550002222", "+15550001111", "hello")
	require.NoError(t, err)
	require.Equal(t, "SM42", ref)
	require.Equal(t, "/2010-04-01/Accounts/AC1/Messages.json", gotPath)
	require.Equal(t, "AC1", gotUser)
	require.Equal(t, "tok", gotPass)
	require.Equal(t, map[string]string{"To": "+15550002222", "From": "+15550001111", "Body": "hello"}, gotForm)
}

func TestTwilioProviderErrorAndBreaker(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":21211,"message":"The 'To' number is not a valid phone number."}`))
	}))
	defer srv.Close()

	p := NewTwilioProvider(TwilioConfig{
		BaseURL: srv.URL, AccountSID: "AC1", AuthToken: "tok",
		BreakerThreshold: 2, BreakerOpenFor: time.Hour,
	})

	_, err := p.Send(context.Background(), "bad", "+1", "x")
	require.ErrorContains(t, err, "not a valid phone number")
	_, err = p.Send(context.Background(), "bad", "+1", "x")
	require.Error(t, err)

	_, err = p.Send(context.Background(), "bad", "+1", "x")
	require.ErrorIs(t, err, ErrBreakerOpen)
	require.Equal(t, 2, calls)
}

func TestMicroBreakerHalfOpenTrial(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewMicroBreaker(1, time.Minute)
	b.now = func() time.Time { return now }

	require.True(t, b.TryAcquire())
	b.OnFailure()
	require.False(t, b.Ready())
	require.False(t, b.TryAcquire())

	now = now.Add(2 * time.Minute)
	require.True(t, b.TryAcquire())
	require.False(t, b.TryAcquire(), "only one trial call may be in flight")

	b.OnSuccess()
	require.True(t, b.Ready())
	require.True(t, b.TryAcquire())
}

func TestTransportReadyFollowsProviderBreaker(t *testing.T) {
	mock, err := New(Config{Mode: ModeMock}, nil, &memLog{}, nil)
	require.NoError(t, err)
	require.True(t, mock.Ready())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := Config{
		Mode:     ModeLive,
		SenderID: "+15550001111",
		Twilio: TwilioConfig{
			BaseURL: srv.URL, AccountSID: "AC1", AuthToken: "tok",
			BreakerThreshold: 1, BreakerOpenFor: time.Hour,
		},
	}
	live, err := NewFromConfig(cfg, &memLog{}, nil)
	require.NoError(t, err)
	require.True(t, live.Ready())

	res, err := live.Send(context.Background(), Request{To: "+15550002222", Body: "hi"})
	require.NoError(t, err)
	require.False(t, res.Sent)
	require.False(t, live.Ready())
}
