package listing

import (
	"github.com/smallbiznis/classifieds/internal/listing/repository"
	"github.com/smallbiznis/classifieds/internal/listing/service"
	"go.uber.org/fx"
)

var Module = fx.Module("listing.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
