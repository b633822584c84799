//go:build !oracle

package db

import (
	"gorm.io/gorm"
)

// getOracleDialector returns nil when built without the oracle tag.
// Oracle support requires CGO and the Oracle Instant Client: go build -tags oracle
func getOracleDialector(GormConfig) gorm.Dialector {
	return nil
}
