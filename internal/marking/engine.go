package marking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/campusbot/attendance-broker/internal/auth"
	"github.com/campusbot/attendance-broker/internal/domain"
	"github.com/campusbot/attendance-broker/internal/notify"
)

// sessionStore is the narrow slice of the MarkingSession store the engine
// needs.
type sessionStore interface {
	Get(ctx context.Context, id domain.MarkingSessionID) (*domain.MarkingSession, error)
	Put(ctx context.Context, session domain.MarkingSession) error
}

// selfApprover is the narrow slice of the Session Broker façade (component
// G) the engine drives per target.
type selfApprover interface {
	SelfApprove(ctx context.Context, userID domain.UserID, token domain.SecretString, userAgent string) ([]byte, error)
}

// userAgentResolver is the narrow slice of the User store the engine needs
// to look up each target's remembered user-agent (§4.H.2).
type userAgentResolver interface {
	Get(ctx context.Context, userID domain.UserID) (*domain.User, error)
}

// tokenMinter is the narrow slice of auth.Minter the engine needs to issue
// a session-ownership token for continue().
type tokenMinter interface {
	MintAccessToken(userID, sessionID string) (auth.MintResult, error)
}

// tokenValidator is the narrow slice of auth.Validator the engine needs to
// authorize a continue() call.
type tokenValidator interface {
	ValidateAccessToken(tokenString string) (*auth.Claims, error)
}

// tokenRevoker tracks ownership tokens that must no longer authorize a
// continue() call once the session they name has reached a terminal state.
type tokenRevoker interface {
	Revoke(ctx context.Context, jti string) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// waveOutcome is a single target's attempt result plus whatever group/
// subject it parsed, carried from a worker goroutine back to the
// orchestrating one without either touching shared session state directly.
type waveOutcome struct {
	result  domain.MarkingResult
	group   string
	subject string
}

// Engine implements the Mass-Marking Engine (component H). A MarkingSession
// is touched by exactly one Engine method call at a time per session id;
// the method itself is the "owning actor" — worker goroutines within a
// wave only ever report results into a private slice, never mutate the
// session directly (§9).
type Engine struct {
	store     sessionStore
	approver  selfApprover
	users     userAgentResolver
	sender    notify.Sender
	minter    tokenMinter
	validator tokenValidator
	revoker   tokenRevoker
	clock     domain.Clock
	waveSize  int
	logger    *slog.Logger
}

// New creates an Engine wiring every collaborator component H depends on.
func New(store sessionStore, approver selfApprover, users userAgentResolver, sender notify.Sender, minter tokenMinter, validator tokenValidator, revoker tokenRevoker, clock domain.Clock, logger *slog.Logger) *Engine {
	return &Engine{
		store:     store,
		approver:  approver,
		users:     users,
		sender:    sender,
		minter:    minter,
		validator: validator,
		revoker:   revoker,
		clock:     clock,
		waveSize:  domain.MarkingWaveSize,
		logger:    logger,
	}
}

// Start creates a new MarkingSession for owner over targets using token,
// runs it to completion or exhaustion, and returns the session id plus a
// signed ownership token the caller must present to Continue (§4.H.1,
// §4.H.3).
func (e *Engine) Start(ctx context.Context, owner domain.UserID, token domain.SecretString, targets []domain.UserID) (domain.MarkingSessionID, string, error) {
	id := domain.GenerateMarkingSessionID()

	minted, err := e.minter.MintAccessToken(owner.String(), id.String())
	if err != nil {
		return domain.MarkingSessionID{}, "", fmt.Errorf("marking: mint ownership token: %w", err)
	}

	session := domain.NewMarkingSession(id, owner, token, minted.JTI, targets, e.clock.Now())
	if err := e.store.Put(ctx, session); err != nil {
		return domain.MarkingSessionID{}, "", fmt.Errorf("marking: persist new session: %w", err)
	}

	if err := e.runBatch(ctx, &session); err != nil {
		return id, minted.Token, err
	}
	return id, minted.Token, nil
}

// Continue authorizes ownerToken against id, replaces the session's token,
// and spawns a fresh wave over whatever targets remain (§4.H.3). Only the
// original owner — verified via the signed ownership token, never a bare
// id comparison — may call this. Applied to an already-completed session
// it is a no-op (§8 idempotence, seed case S4): the session's ownership
// token is revoked once the batch reaches completed (see
// revokeOwnershipToken), so the terminal-state check below must happen
// before the revocation check, or a replayed continue() on a finished
// session would surface as a permission error instead of a no-op.
func (e *Engine) Continue(ctx context.Context, id domain.MarkingSessionID, ownerToken, newToken string) error {
	claims, err := e.validator.ValidateAccessToken(ownerToken)
	if err != nil {
		return fmt.Errorf("marking: validate ownership token: %w: %v", domain.ErrNotSessionOwner, err)
	}
	if claims.SessionID != id.String() {
		return fmt.Errorf("marking: ownership token names a different session: %w", domain.ErrNotSessionOwner)
	}

	session, err := e.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if claims.Subject != session.Owner.String() {
		return fmt.Errorf("marking: ownership token subject mismatch: %w", domain.ErrNotSessionOwner)
	}

	if session.Status == domain.MarkingStatusCompleted {
		return nil
	}

	if revoked, err := e.revoker.IsRevoked(ctx, claims.ID); err != nil || revoked {
		return fmt.Errorf("marking: ownership token no longer valid: %w", domain.ErrNotSessionOwner)
	}

	session.Continue(domain.SecretString(newToken))
	if err := e.store.Put(ctx, *session); err != nil {
		return fmt.Errorf("marking: persist continued session: %w", err)
	}

	return e.runBatch(ctx, session)
}

// runBatch drains session.Remaining in waves of waveSize targets,
// persisting the snapshot after each wave, until either every target has
// been attempted (completed) or a store write fails (error, §4.H.5).
func (e *Engine) runBatch(ctx context.Context, session *domain.MarkingSession) error {
	if session.Status == domain.MarkingStatusStarting {
		session.Status = domain.MarkingStatusProcessing
	}

	for !session.IsDrained() {
		wave := session.Remaining
		if len(wave) > e.waveSize {
			wave = wave[:e.waveSize]
		}

		for _, outcome := range e.runWave(ctx, session.Token, wave) {
			session.RecordResult(outcome.result)
			if outcome.result.Succeeded() {
				session.SetGroupDiscipline(outcome.group, outcome.subject)
			}
		}

		if err := e.store.Put(ctx, *session); err != nil {
			session.Status = domain.MarkingStatusError
			session.Error = err.Error()
			e.revokeOwnershipToken(ctx, session)
			return fmt.Errorf("marking: persist session after wave: %w", err)
		}
	}

	session.Status = domain.MarkingStatusCompleted
	if err := e.store.Put(ctx, *session); err != nil {
		return fmt.Errorf("marking: persist completed session: %w", err)
	}

	e.revokeOwnershipToken(ctx, session)
	e.notifySuccessfulTargets(ctx, session)
	return nil
}

// revokeOwnershipToken retires the session's ownership token once it has
// reached a terminal state, so a stale continue() call cannot resurrect a
// finished or failed batch.
func (e *Engine) revokeOwnershipToken(ctx context.Context, session *domain.MarkingSession) {
	if err := e.revoker.Revoke(ctx, session.OwnerTokenJTI); err != nil {
		e.logger.WarnContext(ctx, "failed to revoke mass-marking ownership token",
			"session_id", session.ID.String(), "error", err.Error())
	}
}

// runWave attempts every target in the wave concurrently, bounded to
// waveSize in-flight self-approve calls (§4.H.1), and returns their
// outcomes in input order. Each worker writes only to its own slot in
// outcomes — the only shared state a wave's goroutines ever touch — so the
// caller is free to fold the results into the session sequentially
// afterward without a lock.
func (e *Engine) runWave(ctx context.Context, token domain.SecretString, targets []domain.UserID) []waveOutcome {
	outcomes := make([]waveOutcome, len(targets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.waveSize)
	for i, target := range targets {
		i, target := i, target
		g.Go(func() error {
			outcomes[i] = e.attemptTarget(gctx, target, token)
			return nil
		})
	}
	_ = g.Wait() // attemptTarget classifies every failure into an outcome; it never returns an error of its own.

	return outcomes
}

// attemptTarget runs the per-target policy of §4.H.2: resolve the stored
// user-agent, self-approve, and classify the result without ever aborting
// the surrounding batch.
func (e *Engine) attemptTarget(ctx context.Context, target domain.UserID, token domain.SecretString) waveOutcome {
	var userAgent string
	if user, err := e.users.Get(ctx, target); err == nil {
		userAgent = user.UserAgent
	}

	raw, err := e.approver.SelfApprove(ctx, target, token, userAgent)
	if err != nil {
		if errors.Is(err, domain.ErrChallengeRequired) {
			return waveOutcome{result: domain.MarkingResult{Target: target, Outcome: domain.MarkingOutcomeNeeds2FA, Detail: err.Error()}}
		}
		return waveOutcome{result: domain.MarkingResult{Target: target, Outcome: domain.MarkingOutcomeFailed, Detail: err.Error()}}
	}

	group, subject := extractGroupAndSubject(raw)
	if group == "" && subject == "" {
		return waveOutcome{result: domain.MarkingResult{Target: target, Outcome: domain.MarkingOutcomeTokenExpired}}
	}

	return waveOutcome{
		result:  domain.MarkingResult{Target: target, Outcome: domain.MarkingOutcomeSuccess},
		group:   group,
		subject: subject,
	}
}

// notifySuccessfulTargets sends a best-effort completion message to every
// target marked successful, once the batch can no longer change their
// outcome (§4.H.4).
func (e *Engine) notifySuccessfulTargets(ctx context.Context, session *domain.MarkingSession) {
	if session.Discipline == "" || session.Successful == 0 {
		return
	}

	var sent, failed int
	for target, result := range session.Results {
		if !result.Succeeded() {
			continue
		}
		message := fmt.Sprintf("Marked present for %s.", session.Discipline)
		if err := e.sender.Send(ctx, target, message); err != nil {
			failed++
			continue
		}
		sent++
	}
	e.logger.InfoContext(ctx, "mass-marking completion notifications sent",
		"session_id", session.ID.String(), "sent", sent, "failed", failed)
}
