package billing

import (
	billingdomain "github.com/smallbiznis/classifieds/internal/providers/billing/domain"
	"github.com/smallbiznis/classifieds/internal/providers/billing/stripe"
	"go.uber.org/fx"
)

var Module = fx.Module("billing.provider",
	fx.Provide(
		fx.Annotate(stripe.New, fx.As(new(billingdomain.Provider))),
	),
)
