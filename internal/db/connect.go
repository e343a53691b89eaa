package db

import (
	"fmt"
	"net"
	"strconv"

	drivermysql "github.com/go-sql-driver/mysql"
	"github.com/zulandar/interviewdesk/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DSN builds a MySQL DSN for the local state database.
func DSN(host string, port int, user, password, database string) string {
	c := drivermysql.NewConfig()
	c.User = user
	c.Passwd = password
	c.Net = "tcp"
	c.Addr = net.JoinHostPort(host, strconv.Itoa(port))
	c.DBName = database
	c.ParseTime = true
	return c.FormatDSN()
}

// Connect opens a GORM connection to a MySQL database.
func Connect(host string, port int, user, password, database string) (*gorm.DB, error) {
	dsn := DSN(host, port, user, password, database)
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("db: connect to %s:%d/%s: %w", host, port, database, err)
	}
	return db, nil
}

// OpenSQLite opens a GORM connection to a SQLite file. Use ":memory:" for a
// throwaway database.
func OpenSQLite(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("db: open sqlite %s: %w", path, err)
	}
	return db, nil
}

// Open connects to the database selected by cfg and migrates it.
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var (
		gormDB *gorm.DB
		err    error
	)
	switch cfg.Driver {
	case "mysql":
		gormDB, err = Connect(cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name)
	case "sqlite", "":
		gormDB, err = OpenSQLite(cfg.Path)
	default:
		return nil, fmt.Errorf("db: unsupported driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := AutoMigrate(gormDB); err != nil {
		return nil, err
	}
	return gormDB, nil
}
