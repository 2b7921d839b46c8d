package db

import (
	"strings"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open picks the dialect from the DSN shape: "file:", ":memory:" and *.db are
// sqlite, anything else is handed to the mysql driver.
func Open(dsn string) (*gorm.DB, error) {
	return gorm.Open(Dialector(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
}

func Dialector(dsn string) gorm.Dialector {
	if IsSQLite(dsn) {
		return gormsqlite.Open(dsn)
	}
	return mysql.Open(dsn)
}

func IsSQLite(dsn string) bool {
	d := strings.TrimSpace(dsn)
	return strings.HasPrefix(d, "file:") ||
		strings.HasPrefix(d, ":memory:") ||
		strings.HasSuffix(d, ".db") ||
		strings.HasSuffix(d, ".sqlite")
}
