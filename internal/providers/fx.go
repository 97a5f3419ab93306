package providers

import (
	"github.com/brightmont/academy/internal/providers/email"
	"github.com/brightmont/academy/internal/providers/pdf"
	"go.uber.org/fx"
)

var Module = fx.Module("providers",
	email.Module,
	pdf.Module,
)
