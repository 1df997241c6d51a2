// Package loginflow runs the ordered checks between a successful password
// login and the actual grant of credentials: policy evaluation, second
// factor enforcement, and verification. It also gates admin pages until a
// user who must have 2FA has finished setting it up.
package loginflow

import (
	"context"
	"fmt"
	"sort"

	"github.com/acemedia/loginblock/pkg/policy"
	"github.com/acemedia/loginblock/pkg/role"
	"github.com/acemedia/loginblock/pkg/twofa"
	"github.com/acemedia/loginblock/pkg/user"
)

// GrantStep is a single check in the credential grant flow
type GrantStep interface {
	// Name returns the unique name of this step
	Name() string

	// Order returns the execution order (lower numbers execute first)
	Order() int

	// Execute performs the step's logic
	Execute(ctx context.Context, flowContext *FlowContext) (*StepResult, error)

	// ShouldSkip determines if this step should be skipped based on current context
	ShouldSkip(ctx context.Context, flowContext *FlowContext) bool
}

// GrantRequest is what the host hands over after the password check passed.
type GrantRequest struct {
	Username  string
	Code      string
	IP        string
	UserAgent string
}

// GrantResult tells the host what to do with the login.
type GrantResult struct {
	// Allowed means credentials may be granted now.
	Allowed bool

	// SetupRequired means the login was refused because mandatory 2FA setup
	// is still outstanding; the host should steer the user into setup.
	SetupRequired bool

	// TwoFARequired means the host must collect a code and retry; Method
	// names the factor to prompt for.
	TwoFARequired bool
	Method        policy.Method

	// VerifiedToken proves a completed second factor, set when a code was
	// submitted and verified in this pass.
	VerifiedToken string

	// ErrorResponse is set when the flow rejected the login.
	ErrorResponse error
}

// FlowContext carries state between grant flow steps
type FlowContext struct {
	Request GrantRequest

	Result *GrantResult

	User     user.User
	Settings twofa.Settings
	State    policy.State

	Services *ServiceDependencies
}

// StepResult represents the result of executing a grant flow step
type StepResult struct {
	// Continue indicates whether the flow should continue to the next step
	Continue bool

	// EarlyReturn indicates the flow should return immediately with the current result
	EarlyReturn bool

	// Error indicates the flow must stop and reject the login
	Error error
}

// ServiceDependencies contains all the services needed by grant flow steps
type ServiceDependencies struct {
	TwoFaService *twofa.TwoFaService
	UserService  *user.UserService
	RoleService  *role.RoleService
}

// StepRegistry manages and orders grant flow steps
type StepRegistry struct {
	steps []GrantStep
}

// NewStepRegistry creates a new step registry
func NewStepRegistry() *StepRegistry {
	return &StepRegistry{
		steps: make([]GrantStep, 0),
	}
}

// AddStep adds a step to the registry
func (r *StepRegistry) AddStep(step GrantStep) *StepRegistry {
	r.steps = append(r.steps, step)
	return r
}

// GetOrderedSteps returns steps sorted by their order
func (r *StepRegistry) GetOrderedSteps() []GrantStep {
	orderedSteps := make([]GrantStep, len(r.steps))
	copy(orderedSteps, r.steps)

	sort.Slice(orderedSteps, func(i, j int) bool {
		return orderedSteps[i].Order() < orderedSteps[j].Order()
	})

	return orderedSteps
}

// FlowExecutor orchestrates the execution of grant flow steps
type FlowExecutor struct {
	registry *StepRegistry
	services *ServiceDependencies
}

// NewFlowExecutor creates a new flow executor
func NewFlowExecutor(registry *StepRegistry, services *ServiceDependencies) *FlowExecutor {
	return &FlowExecutor{
		registry: registry,
		services: services,
	}
}

// Execute runs the complete grant flow
func (e *FlowExecutor) Execute(ctx context.Context, request GrantRequest) GrantResult {
	flowContext := &FlowContext{
		Request:  request,
		Result:   &GrantResult{},
		Services: e.services,
	}

	for _, step := range e.registry.GetOrderedSteps() {
		if step.ShouldSkip(ctx, flowContext) {
			continue
		}

		stepResult, err := step.Execute(ctx, flowContext)
		if err != nil {
			flowContext.Result.Allowed = false
			flowContext.Result.ErrorResponse = fmt.Errorf("step %q failed: %w", step.Name(), err)
			return *flowContext.Result
		}

		if stepResult.Error != nil {
			flowContext.Result.Allowed = false
			flowContext.Result.ErrorResponse = stepResult.Error
			return *flowContext.Result
		}

		if stepResult.EarlyReturn {
			return *flowContext.Result
		}

		if !stepResult.Continue {
			break
		}
	}

	return *flowContext.Result
}

// Predefined step orders
const (
	OrderUserLookup   = 100
	OrderPolicyCheck  = 200
	OrderCodeRequired = 300
	OrderVerification = 400
)
