//go:build oracle

package db

import (
	"fmt"

	"github.com/oracle-samples/gorm-oracle/oracle"
	"gorm.io/gorm"
)

// getOracleDialector builds a godror DSN. configDir points at a wallet
// directory holding tnsnames.ora; passwords are quoted, not URL-encoded.
func getOracleDialector(cfg GormConfig) gorm.Dialector {
	dsn := fmt.Sprintf(`user="%s" password="%s" connectString="%s"`,
		cfg.OracleUser, cfg.OraclePassword, cfg.OracleConnectString)
	if cfg.OracleWalletLocation != "" {
		dsn += fmt.Sprintf(` configDir="%s"`, cfg.OracleWalletLocation)
	}
	return oracle.Open(dsn)
}
