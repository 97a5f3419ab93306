package payment

import (
	"github.com/brightmont/academy/internal/payment/audit"
	"github.com/brightmont/academy/internal/payment/repository"
	"github.com/brightmont/academy/internal/payment/service"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(audit.NewWriter),
	fx.Provide(service.New),
)
