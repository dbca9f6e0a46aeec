package components

import (
	"promotion-service/internal/handler"
	"promotion-service/internal/handler/api"

	"go.uber.org/fx"
)

var HandlerModule = fx.Module("handler",
	fx.Provide(
		api.NewPromotionHandler,
	),
	fx.Invoke(handler.NewRouter),
)
