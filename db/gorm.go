package db

import (
	"fmt"
	"net"
	"time"

	"DeckPilot/config"
	"DeckPilot/logger"
	"DeckPilot/model"

	"github.com/glebarez/sqlite"
	gomysql "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// GormDB is the process-wide GORM connection.
var GormDB *gorm.DB

// MySQLDSN builds the MySQL DSN for cfg.
func MySQLDSN(cfg *config.Config) string {
	mc := gomysql.NewConfig()
	mc.User = cfg.DBUser
	mc.Passwd = cfg.DBPassword
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(cfg.DBHost, cfg.DBPort)
	mc.DBName = cfg.DBName
	mc.ParseTime = true
	mc.Loc = time.Local
	mc.Params = map[string]string{"charset": "utf8mb4"}
	return mc.FormatDSN()
}

// OpenGorm opens the metadata database selected by cfg.DBDriver and stores it
// in GormDB.
func OpenGorm(cfg *config.Config) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.DBDriver {
	case "sqlite":
		dialector = sqlite.Open(cfg.DBPath)
	case "mysql", "":
		dialector = mysql.Open(MySQLDSN(cfg))
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
		// no foreign key constraints
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database with GORM: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if cfg.DBDriver == "sqlite" {
		// sqlite allows a single writer
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(100)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	GormDB = gdb
	logger.Info("database connected", logger.String("driver", cfg.DBDriver))
	return gdb, nil
}

// OpenSQLite opens a SQLite database at path, ":memory:" included.
func OpenSQLite(path string) (*gorm.DB, error) {
	return OpenGorm(&config.Config{DBDriver: "sqlite", DBPath: path})
}

// CloseGormDB closes the GORM connection.
func CloseGormDB() error {
	if GormDB == nil {
		return nil
	}
	sqlDB, err := GormDB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// AutoMigrate creates or updates the library schema.
func AutoMigrate(gdb *gorm.DB) error {
	if gdb == nil {
		return fmt.Errorf("GORM database not initialized")
	}
	if err := gdb.AutoMigrate(&model.Track{}); err != nil {
		return fmt.Errorf("failed to auto migrate models: %w", err)
	}
	logger.Debug("models migrated")
	return nil
}
