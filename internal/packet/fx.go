package packet

import (
	"github.com/smallbiznis/hongbao/internal/packet/service"
	"go.uber.org/fx"
)

var Module = fx.Module("packet.service",
	fx.Provide(service.NewService),
)
