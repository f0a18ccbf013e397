package entitlements

// Feature keys understood by CheckEntitlement / CheckLimit.
const (
	FeatureAIGeneration    = "ai_generation"
	FeatureKnowledgeBase   = "knowledge_base"
	FeatureInsights        = "insights"
	FeaturePrioritySupport = "priority_support"

	LimitActiveWorkflows   = "active_workflows"
	LimitMonthlyExecutions = "monthly_executions"
)

// Limits describes everything a plan unlocks. Numeric limits use a nil
// pointer for "unlimited".
type Limits struct {
	MaxActiveWorkflows   *int64
	MaxMonthlyExecutions *int64
	IntegrationTier      Plan
	SupportTier          string
	LogRetentionDays     int
	Features             map[string]bool
}

// Catalog is the immutable plan table injected into evaluators. Tests may
// build their own with fixture limits.
type Catalog struct {
	plans map[Plan]Limits
}

func limit(n int64) *int64 { return &n }

// DefaultCatalog builds the production plan table.
func DefaultCatalog() *Catalog {
	return NewCatalog(map[Plan]Limits{
		PlanFree: {
			MaxActiveWorkflows:   limit(0),
			MaxMonthlyExecutions: limit(0),
			IntegrationTier:      PlanFree,
			SupportTier:          "community",
			LogRetentionDays:     1,
			Features:             map[string]bool{},
		},
		PlanStarter: {
			MaxActiveWorkflows:   limit(5),
			MaxMonthlyExecutions: limit(1000),
			IntegrationTier:      PlanStarter,
			SupportTier:          "email",
			LogRetentionDays:     7,
			Features: map[string]bool{
				FeatureAIGeneration: true,
			},
		},
		PlanPro: {
			MaxActiveWorkflows:   limit(25),
			MaxMonthlyExecutions: limit(10000),
			IntegrationTier:      PlanPro,
			SupportTier:          "priority",
			LogRetentionDays:     30,
			Features: map[string]bool{
				FeatureAIGeneration:  true,
				FeatureKnowledgeBase: true,
				FeatureInsights:      true,
			},
		},
		PlanAgency: {
			MaxActiveWorkflows:   nil,
			MaxMonthlyExecutions: nil,
			IntegrationTier:      PlanAgency,
			SupportTier:          "dedicated",
			LogRetentionDays:     90,
			Features: map[string]bool{
				FeatureAIGeneration:    true,
				FeatureKnowledgeBase:   true,
				FeatureInsights:        true,
				FeaturePrioritySupport: true,
			},
		},
	})
}

// NewCatalog builds a catalog from a plan table.
func NewCatalog(plans map[Plan]Limits) *Catalog {
	return &Catalog{plans: plans}
}

// Limits returns the limit set for a plan. Unknown plans resolve to free.
func (c *Catalog) Limits(plan Plan) Limits {
	if l, ok := c.plans[NormalizePlan(string(plan))]; ok {
		return l
	}
	return c.plans[PlanFree]
}

// CheckEntitlement evaluates a boolean feature flag. Anything short of full
// access is denied before the plan is even consulted.
func (c *Catalog) CheckEntitlement(access Access, plan Plan, key string) bool {
	if !access.HasFullAccess() {
		return false
	}
	return c.Limits(plan).Features[key]
}

// CheckLimit evaluates a numeric limit against current usage. A nil limit
// means unlimited. Returns whether the caller may consume one more unit.
func (c *Catalog) CheckLimit(access Access, plan Plan, key string, usage int64) bool {
	if !access.HasFullAccess() {
		return false
	}
	l := c.Limits(plan)
	var max *int64
	switch key {
	case LimitActiveWorkflows:
		max = l.MaxActiveWorkflows
	case LimitMonthlyExecutions:
		max = l.MaxMonthlyExecutions
	default:
		return false
	}
	if max == nil {
		return true
	}
	return usage < *max
}
