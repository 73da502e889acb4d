package tier

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/smallbiznis/classifieds/internal/config"
)

// Plan is the resolved definition of one tier.
type Plan struct {
	Tier       Tier              `json:"tier"`
	PriceCents int64             `json:"price_cents"`
	PriceRef   string            `json:"-"`
	Limits     map[Feature]Limit `json:"limits"`
}

// Catalog is the read-only tier table. Build it once with NewCatalog and share it.
type Catalog struct {
	version string
	plans   map[Tier]Plan
	byPrice map[string]Tier
}

func DefaultPlans() []Plan {
	return []Plan{
		{
			Tier:       Free,
			PriceCents: 0,
			Limits: map[Feature]Limit{
				FeatureListings:          Numeric(3),
				FeatureImagesPerListing:  Numeric(5),
				FeatureFeaturedDuration:  Numeric(0),
				FeaturePrioritySupport:   Flag(false),
				FeatureCustomDomain:      Flag(false),
				FeatureAdvancedAnalytics: Flag(false),
				FeatureBulkUpload:        Flag(false),
				FeatureAPIAccess:         Flag(false),
			},
		},
		{
			Tier:       Basic,
			PriceCents: 999,
			Limits: map[Feature]Limit{
				FeatureListings:          Numeric(10),
				FeatureImagesPerListing:  Numeric(10),
				FeatureFeaturedDuration:  Numeric(7),
				FeaturePrioritySupport:   Flag(false),
				FeatureCustomDomain:      Flag(false),
				FeatureAdvancedAnalytics: Flag(false),
				FeatureBulkUpload:        Flag(false),
				FeatureAPIAccess:         Flag(false),
			},
		},
		{
			Tier:       Pro,
			PriceCents: 2999,
			Limits: map[Feature]Limit{
				FeatureListings:          Numeric(Unlimited),
				FeatureImagesPerListing:  Numeric(20),
				FeatureFeaturedDuration:  Numeric(14),
				FeaturePrioritySupport:   Flag(true),
				FeatureCustomDomain:      Flag(false),
				FeatureAdvancedAnalytics: Flag(true),
				FeatureBulkUpload:        Flag(true),
				FeatureAPIAccess:         Flag(true),
			},
		},
		{
			Tier:       Enterprise,
			PriceCents: 9999,
			Limits: map[Feature]Limit{
				FeatureListings:          Numeric(Unlimited),
				FeatureImagesPerListing:  Numeric(Unlimited),
				FeatureFeaturedDuration:  Numeric(30),
				FeaturePrioritySupport:   Flag(true),
				FeatureCustomDomain:      Flag(true),
				FeatureAdvancedAnalytics: Flag(true),
				FeatureBulkUpload:        Flag(true),
				FeatureAPIAccess:         Flag(true),
			},
		},
	}
}

// NewCatalog builds a validated catalog from the plans and the provider price ids
// keyed by tier name. Price ids given in priceRefs replace any set on the plan.
func NewCatalog(version string, plans []Plan, priceRefs map[string]string) (*Catalog, error) {
	c := &Catalog{
		version: version,
		plans:   make(map[Tier]Plan, len(plans)),
		byPrice: map[string]Tier{},
	}

	for _, p := range plans {
		if _, ok := ParseTier(string(p.Tier)); !ok {
			return nil, fmt.Errorf("catalog: unknown tier %q", p.Tier)
		}
		if _, dup := c.plans[p.Tier]; dup {
			return nil, fmt.Errorf("catalog: duplicate tier %q", p.Tier)
		}
		if p.PriceCents < 0 {
			return nil, fmt.Errorf("catalog: tier %q has negative price", p.Tier)
		}

		limits := make(map[Feature]Limit, len(Features))
		for _, f := range Features {
			l, ok := p.Limits[f]
			if !ok {
				return nil, fmt.Errorf("catalog: tier %q is missing feature %q", p.Tier, f)
			}
			if l.IsNumeric() != f.numeric() {
				return nil, fmt.Errorf("catalog: tier %q feature %q has the wrong value kind", p.Tier, f)
			}
			if l.IsNumeric() && l.Value() < Unlimited {
				return nil, fmt.Errorf("catalog: tier %q feature %q must be >= -1", p.Tier, f)
			}
			limits[f] = l
		}
		p.Limits = limits

		if ref := strings.TrimSpace(priceRefs[string(p.Tier)]); ref != "" {
			p.PriceRef = ref
		}
		p.PriceRef = strings.TrimSpace(p.PriceRef)
		if p.PriceRef != "" {
			if other, taken := c.byPrice[p.PriceRef]; taken {
				return nil, fmt.Errorf("catalog: price %q is mapped to both %q and %q", p.PriceRef, other, p.Tier)
			}
			c.byPrice[p.PriceRef] = p.Tier
		}

		c.plans[p.Tier] = p
	}

	for _, t := range knownTiers {
		if _, ok := c.plans[t]; !ok {
			return nil, fmt.Errorf("catalog: tier %q is not defined", t)
		}
	}
	return c, nil
}

// ProvideCatalog builds the process-wide catalog from the optional tiers file.
func ProvideCatalog(cfg config.Config, file config.TierCatalogFile) (*Catalog, error) {
	plans := DefaultPlans()
	version := "builtin"
	if file.Loaded {
		parsed, err := plansFromFile(file)
		if err != nil {
			return nil, err
		}
		plans = parsed
		version = file.Version
	}
	return NewCatalog(version, plans, cfg.PriceRefOverrides())
}

func plansFromFile(file config.TierCatalogFile) ([]Plan, error) {
	plans := make([]Plan, 0, len(file.Tiers))
	for _, def := range file.Tiers {
		t, ok := ParseTier(def.Name)
		if !ok {
			return nil, fmt.Errorf("catalog: unknown tier %q in %s", def.Name, file.Source)
		}
		limits := make(map[Feature]Limit, len(def.Limits))
		for key, raw := range def.Limits {
			f, ok := parseFeature(key)
			if !ok {
				return nil, fmt.Errorf("catalog: tier %q has unknown feature %q", t, key)
			}
			l, err := limitFromValue(f, raw)
			if err != nil {
				return nil, fmt.Errorf("catalog: tier %q feature %q: %w", t, f, err)
			}
			limits[f] = l
		}
		plans = append(plans, Plan{
			Tier:       t,
			PriceCents: def.PriceCents,
			PriceRef:   def.PriceRef,
			Limits:     limits,
		})
	}
	return plans, nil
}

func limitFromValue(f Feature, raw any) (Limit, error) {
	if !f.numeric() {
		b, ok := raw.(bool)
		if !ok {
			return Limit{}, errors.New("expected a boolean")
		}
		return Flag(b), nil
	}
	switch v := raw.(type) {
	case int:
		return Numeric(int64(v)), nil
	case int64:
		return Numeric(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return Limit{}, errors.New("value out of range")
		}
		return Numeric(int64(v)), nil
	case float64:
		if v != math.Trunc(v) {
			return Limit{}, errors.New("expected a whole number")
		}
		return Numeric(int64(v)), nil
	default:
		return Limit{}, errors.New("expected a number")
	}
}

func (c *Catalog) Version() string { return c.version }

// Plan returns the plan for t.
func (c *Catalog) Plan(t Tier) (Plan, bool) {
	p, ok := c.plans[t]
	if !ok {
		return Plan{}, false
	}
	return p.clone(), true
}

// Plans returns every plan ordered by rank.
func (c *Catalog) Plans() []Plan {
	out := make([]Plan, 0, len(c.plans))
	for _, p := range c.plans {
		out = append(out, p.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tier.Rank() < out[j].Tier.Rank() })
	return out
}

// PriceFor returns the provider price id of t.
func (c *Catalog) PriceFor(t Tier) (string, bool) {
	p, ok := c.plans[t]
	if !ok || p.PriceRef == "" {
		return "", false
	}
	return p.PriceRef, true
}

// TierForPrice maps a provider price id back to its tier.
func (c *Catalog) TierForPrice(priceRef string) (Tier, bool) {
	t, ok := c.byPrice[strings.TrimSpace(priceRef)]
	return t, ok
}

func (p Plan) clone() Plan {
	limits := make(map[Feature]Limit, len(p.Limits))
	for f, l := range p.Limits {
		limits[f] = l
	}
	p.Limits = limits
	return p
}
