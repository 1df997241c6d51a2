package loginflow

import (
	"context"
	"errors"

	apperrors "github.com/acemedia/loginblock/pkg/errors"
	"github.com/acemedia/loginblock/pkg/policy"
	"github.com/acemedia/loginblock/pkg/twofa"
	"github.com/acemedia/loginblock/pkg/user"
)

// UserLookupStep resolves the user and their current 2FA state.
type UserLookupStep struct{}

func (s *UserLookupStep) Name() string { return "user_lookup" }
func (s *UserLookupStep) Order() int   { return OrderUserLookup }
func (s *UserLookupStep) ShouldSkip(ctx context.Context, flowContext *FlowContext) bool {
	return false
}

func (s *UserLookupStep) Execute(ctx context.Context, flowContext *FlowContext) (*StepResult, error) {
	u, err := flowContext.Services.UserService.FindByUsername(ctx, flowContext.Request.Username)
	if err != nil {
		if errors.Is(err, user.ErrUserNotFound) {
			return &StepResult{
				Error: apperrors.Newf(apperrors.ErrCodeUserNotFound, "user not found: %s", flowContext.Request.Username),
			}, nil
		}
		return nil, err
	}
	flowContext.User = u

	settings, err := flowContext.Services.TwoFaService.Settings(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	flowContext.Settings = settings

	state, err := flowContext.Services.TwoFaService.EvaluateUser(ctx, u)
	if err != nil {
		return nil, err
	}
	flowContext.State = state

	return &StepResult{Continue: true}, nil
}

// PolicyCheckStep lets users without a 2FA obligation straight through and
// rejects users who still owe mandatory setup. Only fully enrolled users
// continue to the verification steps.
type PolicyCheckStep struct{}

func (s *PolicyCheckStep) Name() string { return "policy_check" }
func (s *PolicyCheckStep) Order() int   { return OrderPolicyCheck }
func (s *PolicyCheckStep) ShouldSkip(ctx context.Context, flowContext *FlowContext) bool {
	return false
}

func (s *PolicyCheckStep) Execute(ctx context.Context, flowContext *FlowContext) (*StepResult, error) {
	switch flowContext.State {
	case policy.StateNoTwoFARequired:
		flowContext.Result.Allowed = true
		return &StepResult{EarlyReturn: true}, nil

	case policy.StateSetupRequired:
		// No code can satisfy the requirement yet; the host learns about the
		// outstanding setup from check-2fa and sends the user there
		flowContext.Result.SetupRequired = true
		flowContext.Result.ErrorResponse = apperrors.New(apperrors.ErrCode2FARequired, "two-factor setup required")
		return &StepResult{EarlyReturn: true}, nil

	default:
		return &StepResult{Continue: true}, nil
	}
}

// CodeRequiredStep stops the grant when an enrolled user has not submitted a
// code yet, telling the host which factor to prompt for.
type CodeRequiredStep struct{}

func (s *CodeRequiredStep) Name() string { return "code_required" }
func (s *CodeRequiredStep) Order() int   { return OrderCodeRequired }
func (s *CodeRequiredStep) ShouldSkip(ctx context.Context, flowContext *FlowContext) bool {
	return flowContext.Request.Code != ""
}

func (s *CodeRequiredStep) Execute(ctx context.Context, flowContext *FlowContext) (*StepResult, error) {
	engine := policy.NewEngine(nil)
	flowContext.Result.TwoFARequired = true
	flowContext.Result.Method = engine.EffectiveMethod(flowContext.Settings.Enrollment())
	flowContext.Result.ErrorResponse = apperrors.New(apperrors.ErrCode2FARequired, "two-factor code required")
	return &StepResult{EarlyReturn: true}, nil
}

// VerificationStep checks the submitted code through the full verification
// routine (rate limit, backup codes, configured method, audit).
type VerificationStep struct{}

func (s *VerificationStep) Name() string { return "verification" }
func (s *VerificationStep) Order() int   { return OrderVerification }
func (s *VerificationStep) ShouldSkip(ctx context.Context, flowContext *FlowContext) bool {
	return false
}

func (s *VerificationStep) Execute(ctx context.Context, flowContext *FlowContext) (*StepResult, error) {
	result, err := flowContext.Services.TwoFaService.VerifyCode(ctx, twofa.VerifyRequest{
		Username:  flowContext.Request.Username,
		Code:      flowContext.Request.Code,
		IP:        flowContext.Request.IP,
		UserAgent: flowContext.Request.UserAgent,
	})
	if err != nil {
		return &StepResult{Error: err}, nil
	}

	flowContext.Result.Allowed = true
	flowContext.Result.VerifiedToken = result.VerifiedToken
	return &StepResult{Continue: false}, nil
}

// DefaultRegistry assembles the standard grant flow.
func DefaultRegistry() *StepRegistry {
	return NewStepRegistry().
		AddStep(&UserLookupStep{}).
		AddStep(&PolicyCheckStep{}).
		AddStep(&CodeRequiredStep{}).
		AddStep(&VerificationStep{})
}
