package tier

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEvaluator(t *testing.T) *Evaluator {
	t.Helper()
	catalog, err := NewCatalog("test", DefaultPlans(), nil)
	require.NoError(t, err)
	return NewEvaluator(catalog)
}

func TestHasFeatureMatchesStoredValue(t *testing.T) {
	eval := newTestEvaluator(t)

	for _, plan := range eval.Catalog().Plans() {
		for _, f := range Features {
			limit, err := eval.LimitFor(plan.Tier, f)
			require.NoError(t, err)

			want := false
			if limit.IsNumeric() {
				want = limit.Value() == -1
			} else {
				want = limit.String() == "true"
			}

			got, err := eval.HasFeature(plan.Tier, f)
			require.NoError(t, err)
			assert.Equalf(t, want, got, "tier=%s feature=%s limit=%s", plan.Tier, f, limit)
		}
	}
}

func TestHasFeatureExamples(t *testing.T) {
	eval := newTestEvaluator(t)

	cases := []struct {
		tier    Tier
		feature Feature
		want    bool
	}{
		{Free, FeatureAPIAccess, false},
		{Pro, FeatureListings, true},
		{Basic, FeatureListings, false},
		{Enterprise, FeatureImagesPerListing, true},
		{Pro, FeatureImagesPerListing, false},
		{Enterprise, FeatureCustomDomain, true},
	}
	for _, tc := range cases {
		got, err := eval.HasFeature(tc.tier, tc.feature)
		require.NoError(t, err)
		assert.Equalf(t, tc.want, got, "%s/%s", tc.tier, tc.feature)
	}
}

func TestLimitForUnknownTierIsConfigurationError(t *testing.T) {
	eval := newTestEvaluator(t)

	_, err := eval.LimitFor(Tier("gold"), FeatureListings)
	var cfgErr *ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "gold", cfgErr.Tier)

	_, err = eval.HasFeature(Tier(""), FeatureAPIAccess)
	require.True(t, errors.As(err, &cfgErr))
}

func TestLimitForUnknownFeature(t *testing.T) {
	eval := newTestEvaluator(t)

	_, err := eval.LimitFor(Free, Feature("teleport"))
	var cfgErr *ConfigurationError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "teleport", cfgErr.Feature)
}

func TestMustLimitForPanicsOnUnknownTier(t *testing.T) {
	eval := newTestEvaluator(t)

	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("expected panic")
		}
		if _, ok := r.(*ConfigurationError); !ok {
			t.Fatalf("expected *ConfigurationError, got %T", r)
		}
	}()
	eval.MustLimitFor(Tier("platinum"), FeatureListings)
}

func TestLimitAllows(t *testing.T) {
	assert.True(t, Numeric(3).Allows(2))
	assert.False(t, Numeric(3).Allows(3))
	assert.True(t, Numeric(Unlimited).Allows(1_000_000))
	assert.False(t, Numeric(0).Allows(0))
	assert.True(t, Flag(true).Allows(0))
	assert.False(t, Flag(false).Allows(0))
}
