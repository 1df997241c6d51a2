// Package policy decides, from role configuration and a user's enrollment
// state, whether 2FA applies and whether setup is still outstanding.
package policy

import (
	"golang.org/x/exp/slices"
)

// Method is a user's 2FA delivery method.
type Method string

const (
	MethodEmail   Method = "email"
	MethodAuthApp Method = "auth_app"
)

// ValidMethod reports whether m is a known 2FA method.
func ValidMethod(m Method) bool {
	return m == MethodEmail || m == MethodAuthApp
}

// State is the per-user 2FA lifecycle state.
type State string

const (
	// StateNoTwoFARequired: no role mandates 2FA and the user never enrolled.
	StateNoTwoFARequired State = "no_2fa_required"
	// StateSetupRequired: a role mandates 2FA but enrollment is incomplete.
	StateSetupRequired State = "setup_required"
	// StateEnrolled: 2FA is enabled and set up, whether mandated or opted
	// into voluntarily.
	StateEnrolled State = "enrolled"
)

// Enrollment is the policy-relevant slice of a user's 2FA settings.
type Enrollment struct {
	Enabled       bool
	Method        Method
	SetupComplete bool
}

// Engine evaluates 2FA policy against a point-in-time snapshot of role
// requirements. Build a fresh engine per request from the role service
// snapshot; the engine itself holds no mutable state.
type Engine struct {
	requirements map[string]bool
}

// NewEngine creates an engine over a role-requirement snapshot.
func NewEngine(requirements map[string]bool) *Engine {
	if requirements == nil {
		requirements = map[string]bool{}
	}
	return &Engine{requirements: requirements}
}

// RoleRequires reports whether a single role mandates 2FA.
func (e *Engine) RoleRequires(role string) bool {
	return e.requirements[role]
}

// AnyRoleRequires reports whether any of the user's roles mandates 2FA.
func (e *Engine) AnyRoleRequires(roles []string) bool {
	return slices.ContainsFunc(roles, e.RoleRequires)
}

// UserNeedsSetup is true iff some role requires 2FA and the user has either
// not completed setup or not enabled 2FA.
func (e *Engine) UserNeedsSetup(roles []string, enrollment Enrollment) bool {
	if !e.AnyRoleRequires(roles) {
		return false
	}
	return !enrollment.SetupComplete || !enrollment.Enabled
}

// EffectiveMethod returns the user's stored method preference, defaulting to
// email when unset or unknown.
func (e *Engine) EffectiveMethod(enrollment Enrollment) Method {
	if ValidMethod(enrollment.Method) {
		return enrollment.Method
	}
	return MethodEmail
}

// EvaluateState maps roles and enrollment to the lifecycle state. A complete
// enrollment counts even when no role mandates it, so voluntary enrollees are
// challenged the same way required ones are.
func (e *Engine) EvaluateState(roles []string, enrollment Enrollment) State {
	if enrollment.Enabled && enrollment.SetupComplete {
		return StateEnrolled
	}
	if e.AnyRoleRequires(roles) {
		return StateSetupRequired
	}
	return StateNoTwoFARequired
}
