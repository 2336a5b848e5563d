package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"comlink/internal/core/domain"
	"comlink/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTimer is one armed backoff timer captured by the fake clock.
type fakeTimer struct {
	delay   time.Duration
	fn      func()
	stopped bool
	fired   bool
}

// fakeClock drives the failover controller deterministically: time only
// moves when the test advances it, timers only fire when the test fires them.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) AfterFunc(d time.Duration, fn func()) func() bool {
	c.mu.Lock()
	t := &fakeTimer{delay: d, fn: fn}
	c.timers = append(c.timers, t)
	c.mu.Unlock()
	return func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		if t.fired {
			return false
		}
		t.stopped = true
		return true
	}
}

// pending returns armed timers that have neither fired nor been stopped.
func (c *fakeClock) pending() []*fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*fakeTimer
	for _, t := range c.timers {
		if !t.fired && !t.stopped {
			out = append(out, t)
		}
	}
	return out
}

// fire runs the newest pending timer, as the runtime would at expiry.
func (c *fakeClock) fire(t *testing.T) *fakeTimer {
	t.Helper()
	pending := c.pending()
	require.NotEmpty(t, pending, "no pending timer to fire")
	timer := pending[len(pending)-1]
	c.mu.Lock()
	timer.fired = true
	c.mu.Unlock()
	timer.fn()
	return timer
}

type recordedAlert struct {
	level     domain.AlertLevel
	text      string
	broadcast bool
}

type alertRecorder struct {
	mu     sync.Mutex
	alerts []recordedAlert
}

func (r *alertRecorder) Push(level domain.AlertLevel, text string, broadcast bool) domain.Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, recordedAlert{level, text, broadcast})
	return domain.Alert{Level: level, Text: text, Broadcast: broadcast}
}

func (r *alertRecorder) all() []recordedAlert {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedAlert(nil), r.alerts...)
}

type renegotiateRecorder struct {
	mu    sync.Mutex
	calls int
}

func (r *renegotiateRecorder) Renegotiate(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	return nil
}

func (r *renegotiateRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func newFailoverFixture() (*FailoverService, *fakeClock, *alertRecorder, *renegotiateRecorder) {
	clock := newFakeClock()
	alerts := &alertRecorder{}
	transport := &renegotiateRecorder{}

	svc := NewFailoverService(DefaultFailoverConfig(), transport, alerts, logger.Nop())
	svc.SetClock(clock.Now, clock.AfterFunc)
	svc.OnSignalingState(domain.SignalingOnline)
	return svc, clock, alerts, transport
}

func TestSevereAssessmentEngagesRelay(t *testing.T) {
	svc, clock, alerts, _ := newFailoverFixture()

	svc.OnAssessment(domain.RiskAssessment{Score: 85, Cause: domain.CauseNominal})

	state := svc.State()
	assert.True(t, state.RelayEngaged)

	recorded := alerts.all()
	require.Len(t, recorded, 1)
	assert.Equal(t, domain.AlertWarning, recorded[0].level)
	assert.True(t, recorded[0].broadcast)
	assert.Contains(t, recorded[0].text, "Engaging satellite relay")
	assert.Contains(t, recorded[0].text, "predicted link instability")

	require.Len(t, clock.pending(), 1)
	assert.Equal(t, time.Second, clock.pending()[0].delay)
}

func TestAlertThrottleWindow(t *testing.T) {
	svc, clock, alerts, _ := newFailoverFixture()
	severe := domain.RiskAssessment{Score: 90, Cause: domain.CausePacketLoss}

	svc.OnAssessment(severe)
	require.Len(t, alerts.all(), 1)

	// Inside the 20s window the condition persists but no new alert fires.
	clock.Advance(10 * time.Second)
	svc.OnAssessment(severe)
	assert.Len(t, alerts.all(), 1)

	// Once the window reopens, one more alert fires and the relay stays
	// engaged, so the text reports it as already active.
	clock.Advance(11 * time.Second)
	svc.OnAssessment(severe)
	recorded := alerts.all()
	require.Len(t, recorded, 2)
	assert.Contains(t, recorded[1].text, "Satellite relay active")
	assert.True(t, svc.State().RelayEngaged)
}

func TestBackoffProgression(t *testing.T) {
	svc, clock, _, transport := newFailoverFixture()
	severe := domain.RiskAssessment{Score: 95, Cause: domain.CausePacketLoss}

	wantDelays := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		15 * time.Second, // 16s capped
		15 * time.Second, // exponent stops growing
	}

	for i, want := range wantDelays {
		clock.Advance(21 * time.Second)
		svc.OnAssessment(severe)

		pending := clock.pending()
		require.Len(t, pending, 1, "cycle %d", i)
		assert.Equal(t, want, pending[0].delay, "cycle %d", i)

		clock.fire(t)
		assert.Equal(t, i+1, transport.count())
		assert.Equal(t, i+1, svc.State().ReconnectAttempts)
	}
}

func TestSinglePendingRenegotiation(t *testing.T) {
	svc, clock, _, _ := newFailoverFixture()

	svc.OnPeerState(domain.PeerStateDisconnected)
	require.Len(t, clock.pending(), 1)

	// Further severe inputs while a timer is armed must not arm another.
	clock.Advance(25 * time.Second)
	svc.OnAssessment(domain.RiskAssessment{Score: 99, Cause: domain.CausePacketLoss})
	svc.OnSignalingState(domain.SignalingOnline)
	assert.Len(t, clock.pending(), 1)
}

func TestRecoveryDisengagesRelay(t *testing.T) {
	svc, clock, alerts, _ := newFailoverFixture()

	svc.OnPeerState(domain.PeerStateDisconnected)
	require.True(t, svc.State().RelayEngaged)
	clock.fire(t)
	require.Equal(t, 1, svc.State().ReconnectAttempts)

	svc.OnAssessment(domain.RiskAssessment{Score: 10, Cause: domain.CauseNominal})
	svc.OnPeerState(domain.PeerStateConnected)

	state := svc.State()
	assert.False(t, state.RelayEngaged)
	assert.Zero(t, state.ReconnectAttempts)

	recorded := alerts.all()
	last := recorded[len(recorded)-1]
	assert.Equal(t, domain.AlertSuccess, last.level)
	assert.Contains(t, last.text, "Peer link established")
}

func TestRelayStaysEngagedWhileRiskHigh(t *testing.T) {
	svc, _, _, _ := newFailoverFixture()

	svc.OnPeerState(domain.PeerStateFailed)
	require.True(t, svc.State().RelayEngaged)

	// Reconnected, but the link is still scoring poorly: hold the relay.
	svc.OnAssessment(domain.RiskAssessment{Score: 45, Cause: domain.CauseNominal})
	svc.OnPeerState(domain.PeerStateConnected)

	assert.True(t, svc.State().RelayEngaged)
	assert.Zero(t, svc.State().ReconnectAttempts)
}

func TestDisconnectEmitsStateAndEngagementAlerts(t *testing.T) {
	svc, _, alerts, _ := newFailoverFixture()

	svc.OnPeerState(domain.PeerStateDisconnected)

	recorded := alerts.all()
	require.Len(t, recorded, 2)

	assert.Equal(t, domain.AlertWarning, recorded[0].level)
	assert.False(t, recorded[0].broadcast)
	assert.Contains(t, recorded[0].text, "Peer link disconnected")

	assert.Equal(t, domain.AlertWarning, recorded[1].level)
	assert.True(t, recorded[1].broadcast)
	assert.Contains(t, recorded[1].text, "Engaging satellite relay")
}

func TestConnectedCancelsPendingTimer(t *testing.T) {
	svc, clock, _, transport := newFailoverFixture()

	svc.OnPeerState(domain.PeerStateDisconnected)
	require.Len(t, clock.pending(), 1)

	svc.OnPeerState(domain.PeerStateConnected)
	assert.Empty(t, clock.pending(), "reconnect must cancel the armed renegotiation")
	assert.Zero(t, transport.count())
}

func TestManualEngageBypassesSeverity(t *testing.T) {
	svc, _, alerts, _ := newFailoverFixture()

	svc.Engage("operator requested relay")

	assert.True(t, svc.State().RelayEngaged)
	recorded := alerts.all()
	require.Len(t, recorded, 1)
	assert.Contains(t, recorded[0].text, "operator requested relay")
}

func TestSignalingRecoveryResetsAttempts(t *testing.T) {
	svc, clock, _, _ := newFailoverFixture()

	svc.OnSignalingState(domain.SignalingOffline)
	require.True(t, svc.State().RelayEngaged)
	clock.fire(t)
	require.Equal(t, 1, svc.State().ReconnectAttempts)

	svc.OnSignalingState(domain.SignalingOnline)
	assert.Zero(t, svc.State().ReconnectAttempts)
}

func TestCloseStopsScheduling(t *testing.T) {
	svc, clock, alerts, _ := newFailoverFixture()

	svc.OnPeerState(domain.PeerStateDisconnected)
	svc.Close()
	assert.Empty(t, clock.pending())

	before := len(alerts.all())
	clock.Advance(time.Minute)
	svc.OnAssessment(domain.RiskAssessment{Score: 100, Cause: domain.CausePacketLoss})
	assert.Len(t, alerts.all(), before)

	// Close twice is fine.
	svc.Close()
}
