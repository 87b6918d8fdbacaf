package provision

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/quibex/botmother/internal/db"
	"github.com/quibex/botmother/internal/jobs"
	"github.com/quibex/botmother/internal/steps"
)

// The recovery lookup only trusts pending tenants this recent. An owner
// whose step was lost longer ago must restart explicitly.
const recoveryWindow = 15 * time.Minute

var ErrPlanUnavailable = errors.New("plan unavailable")

// Registry is the slice of the tenant registry the workflow drives.
type Registry interface {
	GetPlan(id int64) (*db.Plan, error)
	PurchaseBot(ownerID int64, plan *db.Plan, now time.Time) (int64, error)
	SetToken(id int64, token string) error
	SetAdmin(id int64, adminID int64) error
	FindRecoverable(ownerID int64, since time.Time) (int64, error)
}

type Dispatcher interface {
	Dispatch(name string, args ...string) error
}

type OutcomeKind int

const (
	// OutcomeNone: the message was not part of a provisioning conversation.
	OutcomeNone OutcomeKind = iota
	// OutcomeTokenSaved: credential stored, now waiting for the admin id.
	OutcomeTokenSaved
	// OutcomeInvalidAdminID: malformed admin id, step unchanged, user may retry.
	OutcomeInvalidAdminID
	// OutcomeFinalized: admin id stored and the finalize job dispatched.
	OutcomeFinalized
)

type Outcome struct {
	Kind  OutcomeKind
	BotID int64
}

// Service turns a plan purchase into an active, credentialed tenant through
// a three-step conversation. Each step commits its own partial state; the
// workflow is resumable, not atomic.
type Service struct {
	registry Registry
	steps    steps.Store
	dispatch Dispatcher
	logger   *zap.Logger
	now      func() time.Time
}

func NewService(registry Registry, stepStore steps.Store, dispatch Dispatcher, logger *zap.Logger) *Service {
	return &Service{
		registry: registry,
		steps:    stepStore,
		dispatch: dispatch,
		logger:   logger,
		now:      time.Now,
	}
}

// BeginPurchase verifies the plan and balance, debits the wallet, creates
// the pending tenant and arms the credential-collection step.
func (s *Service) BeginPurchase(ctx context.Context, userID, planID int64) (int64, error) {
	plan, err := s.registry.GetPlan(planID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return 0, ErrPlanUnavailable
		}
		return 0, err
	}
	if !plan.Active {
		return 0, ErrPlanUnavailable
	}

	botID, err := s.registry.PurchaseBot(userID, plan, s.now())
	if err != nil {
		return 0, err
	}

	if err := s.steps.Set(ctx, userID, steps.Step{Kind: steps.AwaitingToken, BotID: botID}); err != nil {
		// The tenant row exists and the wallet is debited; the recovery
		// path in Advance picks the flow back up from the owner's input.
		s.logger.Warn("step write failed after purchase",
			zap.Int64("user_id", userID), zap.Int64("bot_id", botID), zap.Error(err))
	}

	s.logger.Info("bot purchased",
		zap.Int64("user_id", userID),
		zap.Int64("plan_id", planID),
		zap.Int64("bot_id", botID),
	)
	return botID, nil
}

// Advance feeds one free-text message from the owner into the workflow.
func (s *Service) Advance(ctx context.Context, userID int64, text string) (Outcome, error) {
	text = strings.TrimSpace(text)

	st, err := s.steps.Get(ctx, userID)
	if err != nil {
		s.logger.Warn("step read failed", zap.Int64("user_id", userID), zap.Error(err))
		st = steps.Step{}
	}

	switch st.Kind {
	case steps.AwaitingToken:
		return s.acceptToken(ctx, userID, st.BotID, text)
	case steps.AwaitingAdminID:
		return s.acceptAdminID(ctx, userID, st.BotID, text)
	default:
		return s.recover(ctx, userID, text)
	}
}

func (s *Service) acceptToken(ctx context.Context, userID, botID int64, token string) (Outcome, error) {
	if token == "" {
		return Outcome{Kind: OutcomeNone}, nil
	}
	if err := s.registry.SetToken(botID, token); err != nil {
		return Outcome{}, err
	}
	if err := s.steps.Set(ctx, userID, steps.Step{Kind: steps.AwaitingAdminID, BotID: botID}); err != nil {
		s.logger.Warn("step write failed after token", zap.Int64("bot_id", botID), zap.Error(err))
	}
	return Outcome{Kind: OutcomeTokenSaved, BotID: botID}, nil
}

func (s *Service) acceptAdminID(ctx context.Context, userID, botID int64, text string) (Outcome, error) {
	adminID, ok := ParseAdminID(text)
	if !ok {
		return Outcome{Kind: OutcomeInvalidAdminID, BotID: botID}, nil
	}
	if err := s.registry.SetAdmin(botID, adminID); err != nil {
		return Outcome{}, err
	}
	if err := s.steps.Clear(ctx, userID); err != nil {
		s.logger.Warn("step clear failed", zap.Int64("user_id", userID), zap.Error(err))
	}
	if err := s.dispatch.Dispatch(jobs.JobFinalizeTenant, strconv.FormatInt(botID, 10)); err != nil {
		return Outcome{}, err
	}
	return Outcome{Kind: OutcomeFinalized, BotID: botID}, nil
}

// recover handles the lost-step race: step storage is not transactionally
// tied to the message that advances it. A numeric message from an owner
// with a fresh pending-admin-id tenant is treated as the admin submission.
func (s *Service) recover(ctx context.Context, userID int64, text string) (Outcome, error) {
	if _, ok := ParseAdminID(text); !ok {
		return Outcome{Kind: OutcomeNone}, nil
	}

	botID, err := s.registry.FindRecoverable(userID, s.now().Add(-recoveryWindow))
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return Outcome{Kind: OutcomeNone}, nil
		}
		return Outcome{}, err
	}

	s.logger.Info("recovered lost provisioning step",
		zap.Int64("user_id", userID), zap.Int64("bot_id", botID))
	return s.acceptAdminID(ctx, userID, botID, text)
}

// ParseAdminID accepts a purely numeric string of at least 5 digits.
func ParseAdminID(s string) (int64, bool) {
	if len(s) < 5 {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}
