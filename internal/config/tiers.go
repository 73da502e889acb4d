package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// TierDefinition is one plan entry as written in tiers.yml. Feature keys are
// matched case-insensitively because viper lowercases map keys.
type TierDefinition struct {
	Name       string         `mapstructure:"name"`
	PriceCents int64          `mapstructure:"priceCents"`
	PriceRef   string         `mapstructure:"priceRef"`
	Limits     map[string]any `mapstructure:"limits"`
}

type TierCatalogFile struct {
	Loaded  bool
	Source  string
	Version string           `mapstructure:"version"`
	Tiers   []TierDefinition `mapstructure:"tiers"`
}

// LoadTierCatalog reads the optional tier catalog file. A missing file is not
// an error; the caller falls back to the built-in catalog.
func LoadTierCatalog(cfg Config) (TierCatalogFile, error) {
	v := viper.New()

	if path := strings.TrimSpace(cfg.TierCatalogPath); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("tiers")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/classifieds")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("CLASSIFIEDS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return TierCatalogFile{}, nil
		}
		return TierCatalogFile{}, fmt.Errorf("read tier catalog: %w", err)
	}

	var file TierCatalogFile
	if err := v.UnmarshalKey("catalog", &file); err != nil {
		return TierCatalogFile{}, fmt.Errorf("decode tier catalog: %w", err)
	}
	if len(file.Tiers) == 0 {
		return TierCatalogFile{}, errors.New("catalog.tiers cannot be empty")
	}
	file.Loaded = true
	file.Source = v.ConfigFileUsed()
	return file, nil
}

// PriceRefOverrides returns the env-configured provider price ids keyed by tier name.
func (c Config) PriceRefOverrides() map[string]string {
	out := map[string]string{}
	if c.Stripe.PriceBasic != "" {
		out["basic"] = c.Stripe.PriceBasic
	}
	if c.Stripe.PricePro != "" {
		out["pro"] = c.Stripe.PricePro
	}
	if c.Stripe.PriceEnterprise != "" {
		out["enterprise"] = c.Stripe.PriceEnterprise
	}
	return out
}
