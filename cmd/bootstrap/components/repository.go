package components

import (
	"promotion-service/internal/infra/rediscache"
	"promotion-service/internal/infra/redislock"
	repo_impl "promotion-service/internal/infra/repository"
	"promotion-service/internal/pkg/config"
	"promotion-service/internal/usecase/commands"
	"promotion-service/internal/usecase/queries"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

var RepositoryModule = fx.Module("repository",
	fx.Provide(
		fx.Annotate(
			repo_impl.NewPromotionRepository,
			fx.As(new(commands.UsageLedger)),
			fx.As(new(queries.PromotionReadStore)),
		),
		fx.Annotate(
			NewLockProvider,
			fx.As(new(commands.LockProvider)),
		),
		fx.Annotate(
			rediscache.NewPromotionCache,
			fx.As(new(commands.PromotionCache)),
		),
	),
)

func NewLockProvider(client *redis.Client, cfg config.Config) *redislock.Provider {
	return redislock.NewProvider(client, cfg.Lock)
}
