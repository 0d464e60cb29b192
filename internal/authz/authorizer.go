package authz

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/cedar-policy/cedar-go"
)

//go:embed policies.cedar
var policiesContent []byte

// Config contains options for the Authorizer.
type Config struct {
	// Logger for structured decision logging. If nil, uses slog.Default().
	Logger *slog.Logger

	// PolicyBytes replaces the embedded policies.cedar when set.
	PolicyBytes []byte
}

// Authorizer wraps the Cedar policy engine. Every permission check made by
// the resource lifecycle goes through Authorize.
type Authorizer struct {
	policies *cedar.PolicySet
	logger   *slog.Logger
}

func NewAuthorizer(cfg Config) (*Authorizer, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	policyData := cfg.PolicyBytes
	if policyData == nil {
		policyData = policiesContent
	}

	ps, err := cedar.NewPolicySetFromBytes("policies.cedar", policyData)
	if err != nil {
		return nil, fmt.Errorf("parse policies: %w", err)
	}

	return &Authorizer{policies: ps, logger: logger}, nil
}

// Authorize evaluates req. It performs no I/O; the caller supplies the
// whole ownership chain.
func (a *Authorizer) Authorize(ctx context.Context, req Request) Decision {
	start := time.Now()

	entities, resource := buildEntities(req)
	decision, diagnostic := cedar.Authorize(a.policies, entities, buildCedarRequest(req, resource))

	result := Decision{Allowed: decision == cedar.Allow}
	if len(diagnostic.Reasons) > 0 {
		result.PolicyID = string(diagnostic.Reasons[0].PolicyID)
	}
	switch {
	case result.Allowed:
		result.Reason = "access permitted"
	case result.PolicyID != "":
		result.Forbidden = true
		result.Reason = "denied by policy " + result.PolicyID
	default:
		result.Reason = "access denied - no matching permit policy"
	}
	result.Duration = time.Since(start)

	a.logDecision(ctx, req, resource, result, diagnostic)
	return result
}

func (a *Authorizer) logDecision(ctx context.Context, req Request, resource cedar.EntityUID, result Decision, diag cedar.Diagnostic) {
	a.logger.DebugContext(ctx, "authorization decision",
		"principal", req.Principal,
		"action", req.Action,
		"resource", resource.String(),
		"decision", result.Allowed,
		"reason", result.Reason,
		"policy_id", result.PolicyID,
		"duration_us", result.Duration.Microseconds(),
	)

	for _, err := range diag.Errors {
		a.logger.ErrorContext(ctx, "policy evaluation error",
			"policy", err.PolicyID,
			"error", err.Message,
		)
	}
}
