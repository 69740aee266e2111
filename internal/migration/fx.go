package migration

import (
	invitedomain "github.com/smallbiznis/hongbao/internal/invite/domain"
	ledgerdomain "github.com/smallbiznis/hongbao/internal/ledger/domain"
	packetdomain "github.com/smallbiznis/hongbao/internal/packet/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB) error {
		if conn.Dialector.Name() != "postgres" {
			// Dev and test databases (sqlite, mysql) take the model-derived
			// schema; the versioned SQL path is postgres-only.
			return conn.AutoMigrate(
				&ledgerdomain.Account{},
				&ledgerdomain.LedgerEntry{},
				&packetdomain.Packet{},
				&packetdomain.PacketShare{},
				&packetdomain.Claim{},
				&invitedomain.InviteRelation{},
				&invitedomain.InviteMilestone{},
			)
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}),
)
