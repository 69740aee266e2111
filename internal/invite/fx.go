package invite

import (
	invitedomain "github.com/smallbiznis/hongbao/internal/invite/domain"
	"github.com/smallbiznis/hongbao/internal/invite/service"
	"go.uber.org/fx"
)

var Module = fx.Module("invite.service",
	fx.Provide(service.NewService),
	// Constructed eagerly so the claim-settled subscription exists even when
	// no other component asks for the service.
	fx.Invoke(func(invitedomain.Service) {}),
)
