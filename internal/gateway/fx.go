package gateway

import (
	"github.com/brightmont/academy/internal/gateway/domain"
	"github.com/brightmont/academy/internal/gateway/paystack"
	"go.uber.org/fx"
)

var Module = fx.Module("gateway",
	fx.Provide(
		fx.Annotate(paystack.New, fx.As(new(domain.Gateway))),
	),
)
