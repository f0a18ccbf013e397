package integrations

import (
	"encoding/json"
	"strings"

	"github.com/synthhq/synth/internal/pkg/entitlements"
)

// Origin tags carried by workflow steps. The tag only classifies steps that
// reference no integration; steps without one fall back to the kind list
// below.
const (
	OriginInternal = "internal"
	OriginExternal = "external"
)

// Step is one trigger or action inside a workflow definition.
type Step struct {
	Type    string `json:"type"`
	Service string `json:"service,omitempty"`
	Origin  string `json:"origin,omitempty"`
	Name    string `json:"name,omitempty"`
}

// Definition is the integration-relevant shape of a stored workflow.
type Definition struct {
	Trigger Step   `json:"trigger"`
	Actions []Step `json:"actions"`
}

// ParseDefinition decodes the trigger/actions JSON columns of a workflow.
func ParseDefinition(triggerJSON, actionsJSON string) (*Definition, error) {
	var def Definition
	if strings.TrimSpace(triggerJSON) != "" {
		if err := json.Unmarshal([]byte(triggerJSON), &def.Trigger); err != nil {
			return nil, err
		}
	}
	if strings.TrimSpace(actionsJSON) != "" {
		if err := json.Unmarshal([]byte(actionsJSON), &def.Actions); err != nil {
			return nil, err
		}
	}
	return &def, nil
}

// EncodeStep serializes a single step for the trigger column.
func EncodeStep(s Step) (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// EncodeSteps serializes an action list for the actions column. A nil list
// encodes as an empty array so stored definitions always parse.
func EncodeSteps(steps []Step) (string, error) {
	if steps == nil {
		steps = []Step{}
	}
	data, err := json.Marshal(steps)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Rejection reasons reported by ValidateWorkflow.
const (
	ReasonUnsupported        = "unsupported"
	ReasonPlanRequired       = "plan_required"
	ReasonExternalNotAllowed = "external_not_allowed"
)

// Restriction names one step the plan cannot run and why.
type Restriction struct {
	Service      string            `json:"service"`
	Reason       string            `json:"reason"`
	RequiredPlan entitlements.Plan `json:"required_plan,omitempty"`
}

// ValidationResult reports the outcome of validating a workflow definition
// against a plan.
type ValidationResult struct {
	Valid      bool          `json:"valid"`
	Restricted []Restriction `json:"restricted_integrations,omitempty"`
}

// step kinds that run inside the engine and never reach an external service
var internalStepKinds = map[string]struct{}{
	"delay":     {},
	"filter":    {},
	"branch":    {},
	"merge":     {},
	"transform": {},
	"set":       {},
	"code":      {},
	"note":      {},
	"schedule":  {},
	"manual":    {},
	"webhook":   {},
	"form":      {},
}

// isInternalStep classifies a step. Anything that names a service, or whose
// type resolves in the integration catalog, is external no matter how it is
// tagged: the origin tag travels in client-supplied definitions and only
// classifies service-less steps.
func isInternalStep(s Step) bool {
	if strings.TrimSpace(s.Service) != "" {
		return false
	}
	if _, ok := Resolve(s.Type); ok {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(s.Origin)) {
	case OriginInternal:
		return true
	case OriginExternal:
		return false
	}
	_, ok := internalStepKinds[strings.ToLower(strings.TrimSpace(s.Type))]
	return ok
}

// serviceRef returns the integration name a step references, if any.
func serviceRef(s Step) string {
	if v := strings.TrimSpace(s.Service); v != "" {
		return v
	}
	// Some authoring paths put the service name directly in the type field
	// ("gmail" rather than type=action service=gmail).
	if !isInternalStep(s) {
		return strings.TrimSpace(s.Type)
	}
	return ""
}

// ValidateWorkflow checks every integration a workflow references against the
// closed catalog and the plan tier. Free-plan workflows additionally may not
// contain any external step at all, even one whose integration the catalog
// nominally carries.
func ValidateWorkflow(plan entitlements.Plan, def *Definition) ValidationResult {
	res := ValidationResult{Valid: true}
	if def == nil {
		return res
	}

	plan = entitlements.NormalizePlan(string(plan))
	steps := append([]Step{def.Trigger}, def.Actions...)
	seen := make(map[string]struct{})

	for _, s := range steps {
		if s.Type == "" && s.Service == "" {
			continue
		}
		if isInternalStep(s) {
			continue
		}

		if plan == entitlements.PlanFree {
			res.Valid = false
			res.Restricted = append(res.Restricted, Restriction{
				Service:      serviceRef(s),
				Reason:       ReasonExternalNotAllowed,
				RequiredPlan: entitlements.PlanStarter,
			})
			continue
		}

		ref := serviceRef(s)
		if ref == "" {
			continue
		}
		canonical, ok := Resolve(ref)
		if !ok {
			if _, dup := seen["!"+ref]; dup {
				continue
			}
			seen["!"+ref] = struct{}{}
			res.Valid = false
			res.Restricted = append(res.Restricted, Restriction{
				Service: ref,
				Reason:  ReasonUnsupported,
			})
			continue
		}
		if _, dup := seen[canonical]; dup {
			continue
		}
		seen[canonical] = struct{}{}

		if !AllowedForPlan(canonical, plan) {
			min, _ := MinimumPlanFor(canonical)
			res.Valid = false
			res.Restricted = append(res.Restricted, Restriction{
				Service:      canonical,
				Reason:       ReasonPlanRequired,
				RequiredPlan: min,
			})
		}
	}

	return res
}
