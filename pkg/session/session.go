package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Mindburn-Labs/attestgate/pkg/attesterr"
	"github.com/Mindburn-Labs/attestgate/pkg/contracts"
	"github.com/Mindburn-Labs/attestgate/pkg/observability"
	"github.com/Mindburn-Labs/attestgate/pkg/policy"
)

// Status is the session state.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusVerifying Status = "verifying"
	StatusVerified  Status = "verified"
	StatusFailed    Status = "failed"
)

var (
	// ErrAttemptInProgress rejects a Start while an attempt is verifying.
	ErrAttemptInProgress = errors.New("a verification attempt is already in progress")
	// ErrSessionNotIdle rejects a Start from a terminal state; Dismiss or Retry first.
	ErrSessionNotIdle = errors.New("session is not idle")
	// ErrNothingToRetry rejects a Retry outside the failed state.
	ErrNothingToRetry = errors.New("no failed attempt to retry")
	// ErrNotReady is returned when the client's collaborators are not initialised.
	ErrNotReady = attesterr.New(attesterr.KindConfiguration, "not_ready", "Verification system not initialized")
)

// MsgCancelled is shown when the caller's context ends the attempt.
const MsgCancelled = "Verification was cancelled."

// Target names what the user wants to prove.
type Target struct {
	TemplateID     string
	SubjectAddress string
	Captures       []contracts.HTTPCaptureSpec
	// Relay selects the OAuth relay channel instead of the builder default.
	Relay bool
}

// Snapshot is an immutable view of the session. ActiveRequestID is set only
// while verifying; RequestID keeps the id of the last attempt for display.
type Snapshot struct {
	Status          Status
	ActiveRequestID string
	RequestID       string
	Error           string
	Err             error
	Result          *policy.Result
	Attestation     *contracts.Attestation
}

// Session is the single-attempt verification state machine.
type Session struct {
	client *Client

	mu      sync.Mutex
	snap    Snapshot
	attempt uint64
	cancel  context.CancelFunc
	done    chan Snapshot
	last    *Target

	obsMu     sync.Mutex
	observers map[int]func(Snapshot)
	nextObs   int
}

// New creates an idle session over client.
func New(client *Client) *Session {
	return &Session{
		client:    client,
		snap:      Snapshot{Status: StatusIdle},
		observers: make(map[int]func(Snapshot)),
	}
}

// Snapshot returns the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

// Subscribe registers fn to receive every state change. The returned func
// unregisters it.
func (s *Session) Subscribe(fn func(Snapshot)) func() {
	s.obsMu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	s.obsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.obsMu.Lock()
			delete(s.observers, id)
			s.obsMu.Unlock()
		})
	}
}

func (s *Session) notify(snap Snapshot) {
	s.obsMu.Lock()
	fns := make([]func(Snapshot), 0, len(s.observers))
	for i := 0; i < s.nextObs; i++ {
		if fn, ok := s.observers[i]; ok {
			fns = append(fns, fn)
		}
	}
	s.obsMu.Unlock()
	for _, fn := range fns {
		fn(snap)
	}
}

// Start begins an attempt for target. The returned channel receives the
// attempt's terminal snapshot, or is closed without a value when the attempt
// is dismissed.
func (s *Session) Start(ctx context.Context, target Target) (<-chan Snapshot, error) {
	s.mu.Lock()
	switch s.snap.Status {
	case StatusIdle:
	case StatusVerifying:
		s.mu.Unlock()
		return nil, ErrAttemptInProgress
	default:
		s.mu.Unlock()
		return nil, ErrSessionNotIdle
	}
	if !s.client.IsReady() {
		s.mu.Unlock()
		return nil, ErrNotReady
	}
	done, launch := s.startLocked(ctx, target)
	snap := s.snap
	s.mu.Unlock()

	s.notify(snap)
	launch()
	return done, nil
}

// startLocked moves an idle session to verifying. The caller holds s.mu and
// must call launch after releasing it.
func (s *Session) startLocked(ctx context.Context, target Target) (<-chan Snapshot, func()) {
	s.attempt++
	token := s.attempt
	attemptCtx, cancel := context.WithCancel(ctx)
	done := make(chan Snapshot, 1)
	t := target
	s.cancel = cancel
	s.done = done
	s.last = &t
	s.snap = Snapshot{Status: StatusVerifying}
	return done, func() { go s.run(attemptCtx, token, t) }
}

// Dismiss abandons the current attempt and resets to idle. Late completions
// of the abandoned attempt are dropped.
func (s *Session) Dismiss() {
	s.mu.Lock()
	s.dismissLocked()
	snap := s.snap
	s.mu.Unlock()
	s.notify(snap)
}

func (s *Session) dismissLocked() {
	s.attempt++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	if s.done != nil {
		close(s.done)
		s.done = nil
	}
	s.snap = Snapshot{Status: StatusIdle}
}

// Retry restarts the last failed attempt with a freshly built and signed
// request.
func (s *Session) Retry(ctx context.Context) (<-chan Snapshot, error) {
	s.mu.Lock()
	if s.snap.Status != StatusFailed || s.last == nil {
		s.mu.Unlock()
		return nil, ErrNothingToRetry
	}
	if !s.client.IsReady() {
		s.mu.Unlock()
		return nil, ErrNotReady
	}
	target := *s.last
	s.dismissLocked()
	idle := s.snap
	done, launch := s.startLocked(ctx, target)
	snap := s.snap
	s.mu.Unlock()

	s.notify(idle)
	s.notify(snap)
	launch()
	return done, nil
}

func (s *Session) run(ctx context.Context, token uint64, target Target) {
	c := s.client

	var finish func(error)
	if c.Telemetry != nil {
		ctx, finish = c.Telemetry.TrackOperation(ctx, "session.attempt",
			observability.AttemptOperation(target.TemplateID, !target.Relay)...)
	}

	req := c.builder().Build(target.TemplateID, target.SubjectAddress, target.Captures, c.AppID)
	if target.Relay {
		req.AttMode.WithExtension = false
	}

	out := Outcome{
		AppID:          req.AppID,
		TemplateID:     req.TemplateID,
		SubjectAddress: req.SubjectAddress,
	}

	result, err := s.protocol(ctx, token, req, &out)
	if finish != nil {
		finish(err)
	}

	snap := Snapshot{RequestID: out.RequestID, Attestation: out.Attestation}
	if err != nil {
		snap.Status = StatusFailed
		snap.Err = err
		snap.Error = userMessage(err)
	} else {
		snap.Status = StatusVerified
		snap.Result = result
	}
	out.Status = snap.Status
	out.Result = snap.Result
	out.Err = err
	out.At = time.Now().UTC()

	s.complete(ctx, token, snap, out)
}

// protocol runs sign, execute, verify and policy for one attempt.
func (s *Session) protocol(ctx context.Context, token uint64, req *contracts.AttestationRequest, out *Outcome) (*policy.Result, error) {
	c := s.client

	signed, err := c.Signer.Sign(ctx, req)
	if err != nil {
		return nil, err
	}
	out.Signed = signed
	out.RequestID = signed.RequestID
	if !s.activate(token, signed.RequestID) {
		return nil, context.Canceled
	}

	att, err := c.Executor.Execute(ctx, signed)
	if err != nil {
		return nil, err
	}
	out.Attestation = att

	if !c.Verifier.Verify(signed, att) {
		return nil, attesterr.ErrVerificationFailed
	}

	if c.Policy == nil {
		res := policy.DefaultResult(att)
		return &res, nil
	}
	decision, err := c.Policy.Evaluate(ctx, req.TemplateID, att)
	if err != nil {
		return nil, attesterr.ErrPolicyRejected.WithDetail(err.Error(), err)
	}
	if !decision.Allowed {
		return nil, attesterr.ErrPolicyRejected.WithDetail(decision.Reason, nil)
	}
	return &decision.Result, nil
}

// activate records the request id of the live attempt. It reports false when
// the attempt has been superseded.
func (s *Session) activate(token uint64, requestID string) bool {
	s.mu.Lock()
	if token != s.attempt || s.snap.Status != StatusVerifying {
		s.mu.Unlock()
		return false
	}
	s.snap.ActiveRequestID = requestID
	snap := s.snap
	s.mu.Unlock()
	s.notify(snap)
	return true
}

// complete applies a terminal snapshot unless the attempt is stale.
func (s *Session) complete(ctx context.Context, token uint64, snap Snapshot, out Outcome) {
	s.mu.Lock()
	if token != s.attempt || s.snap.Status != StatusVerifying ||
		(s.snap.ActiveRequestID != "" && out.RequestID != s.snap.ActiveRequestID) {
		s.mu.Unlock()
		s.client.logger().Debug("dropping stale attempt completion", "request_id", out.RequestID)
		return
	}
	s.snap = snap
	done := s.done
	s.done = nil
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.mu.Unlock()

	s.logOutcome(out)
	if s.client.Recorder != nil {
		if err := s.client.Recorder.RecordOutcome(context.WithoutCancel(ctx), out); err != nil {
			s.client.logger().Error("failed to record attempt outcome", "request_id", out.RequestID, "error", err)
		}
	}

	s.notify(snap)
	if done != nil {
		done <- snap
		close(done)
	}
}

func (s *Session) logOutcome(out Outcome) {
	log := s.client.logger()
	switch {
	case out.Err == nil:
		log.Info("attestation verified",
			"request_id", out.RequestID,
			"template_id", out.TemplateID,
			"subject", out.Result.SubjectID,
		)
	case errors.Is(out.Err, attesterr.ErrVerificationFailed):
		dataSource := ""
		if out.Attestation != nil {
			dataSource = out.Attestation.DataSourceID
		}
		log.Error("attestation failed verification, possible tampering",
			"request_id", out.RequestID,
			"template_id", out.TemplateID,
			"data_source", dataSource,
		)
	default:
		log.Warn("attestation attempt failed",
			"request_id", out.RequestID,
			"template_id", out.TemplateID,
			"error", attesterr.Describe(out.Err),
		)
	}
}

func userMessage(err error) string {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return MsgCancelled
	}
	return attesterr.Message(err)
}
