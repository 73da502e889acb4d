package tier

import "fmt"

// ConfigurationError reports a tier or feature the catalog does not define.
// It signals a deployment fault, never a user-facing condition.
type ConfigurationError struct {
	Tier    string
	Feature string
}

func (e *ConfigurationError) Error() string {
	if e.Feature != "" {
		return fmt.Sprintf("configuration error: tier %q has no feature %q", e.Tier, e.Feature)
	}
	return fmt.Sprintf("configuration error: unknown tier %q", e.Tier)
}

// Evaluator answers entitlement questions against a Catalog.
type Evaluator struct {
	catalog *Catalog
}

func NewEvaluator(catalog *Catalog) *Evaluator {
	return &Evaluator{catalog: catalog}
}

func (e *Evaluator) Catalog() *Catalog { return e.catalog }

// LimitFor returns the raw limit stored for feature under t.
func (e *Evaluator) LimitFor(t Tier, feature Feature) (Limit, error) {
	plan, ok := e.catalog.plans[t]
	if !ok {
		return Limit{}, &ConfigurationError{Tier: string(t)}
	}
	l, ok := plan.Limits[feature]
	if !ok {
		return Limit{}, &ConfigurationError{Tier: string(t), Feature: string(feature)}
	}
	return l, nil
}

// HasFeature is true iff the stored value is true or -1.
func (e *Evaluator) HasFeature(t Tier, feature Feature) (bool, error) {
	l, err := e.LimitFor(t, feature)
	if err != nil {
		return false, err
	}
	return l.Enabled(), nil
}

// MustLimitFor panics with a *ConfigurationError on an unknown tier or feature.
func (e *Evaluator) MustLimitFor(t Tier, feature Feature) Limit {
	l, err := e.LimitFor(t, feature)
	if err != nil {
		panic(err)
	}
	return l
}

// Entitlements resolves every feature of t.
func (e *Evaluator) Entitlements(t Tier) (map[Feature]Limit, error) {
	out := make(map[Feature]Limit, len(Features))
	for _, f := range Features {
		l, err := e.LimitFor(t, f)
		if err != nil {
			return nil, err
		}
		out[f] = l
	}
	return out, nil
}
