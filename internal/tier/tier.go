package tier

import (
	"encoding/json"
	"strconv"
	"strings"
)

type Tier string

const (
	Free       Tier = "free"
	Basic      Tier = "basic"
	Pro        Tier = "pro"
	Enterprise Tier = "enterprise"
)

var knownTiers = []Tier{Free, Basic, Pro, Enterprise}

// ParseTier normalizes raw into a known Tier.
func ParseTier(raw string) (Tier, bool) {
	value := Tier(strings.ToLower(strings.TrimSpace(raw)))
	for _, t := range knownTiers {
		if t == value {
			return t, true
		}
	}
	return "", false
}

// Rank orders tiers from free (0) upward; unknown tiers rank -1.
func (t Tier) Rank() int {
	for i, known := range knownTiers {
		if known == t {
			return i
		}
	}
	return -1
}

func (t Tier) IsPaid() bool {
	return t.Rank() > 0
}

func (t Tier) String() string { return string(t) }

type Feature string

const (
	FeatureListings          Feature = "listings"
	FeatureImagesPerListing  Feature = "imagesPerListing"
	FeatureFeaturedDuration  Feature = "featuredDuration"
	FeaturePrioritySupport   Feature = "prioritySupport"
	FeatureCustomDomain      Feature = "customDomain"
	FeatureAdvancedAnalytics Feature = "advancedAnalytics"
	FeatureBulkUpload        Feature = "bulkUpload"
	FeatureAPIAccess         Feature = "apiAccess"
)

// Features lists every feature key in display order. Numeric features come first.
var Features = []Feature{
	FeatureListings,
	FeatureImagesPerListing,
	FeatureFeaturedDuration,
	FeaturePrioritySupport,
	FeatureCustomDomain,
	FeatureAdvancedAnalytics,
	FeatureBulkUpload,
	FeatureAPIAccess,
}

func (f Feature) numeric() bool {
	switch f {
	case FeatureListings, FeatureImagesPerListing, FeatureFeaturedDuration:
		return true
	default:
		return false
	}
}

func parseFeature(raw string) (Feature, bool) {
	raw = strings.TrimSpace(raw)
	for _, f := range Features {
		if strings.EqualFold(string(f), raw) {
			return f, true
		}
	}
	return "", false
}

// Unlimited is the numeric limit value meaning "no cap".
const Unlimited int64 = -1

// Limit is either a numeric cap or a boolean flag.
type Limit struct {
	numeric bool
	value   int64
	enabled bool
}

func Numeric(n int64) Limit { return Limit{numeric: true, value: n} }

func Flag(enabled bool) Limit { return Limit{enabled: enabled} }

func (l Limit) IsNumeric() bool { return l.numeric }

// Value returns the numeric cap. Flags report 0.
func (l Limit) Value() int64 {
	if !l.numeric {
		return 0
	}
	return l.value
}

func (l Limit) IsUnlimited() bool {
	return l.numeric && l.value == Unlimited
}

// Enabled is true for a true flag or an unlimited numeric cap.
func (l Limit) Enabled() bool {
	if l.numeric {
		return l.value == Unlimited
	}
	return l.enabled
}

// Allows reports whether one more unit fits when current units are in use.
func (l Limit) Allows(current int64) bool {
	if !l.numeric {
		return l.enabled
	}
	if l.value == Unlimited {
		return true
	}
	return current < l.value
}

func (l Limit) String() string {
	if l.numeric {
		return strconv.FormatInt(l.value, 10)
	}
	return strconv.FormatBool(l.enabled)
}

func (l Limit) MarshalJSON() ([]byte, error) {
	if l.numeric {
		return json.Marshal(l.value)
	}
	return json.Marshal(l.enabled)
}
