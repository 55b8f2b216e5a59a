package db

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"MediaGuard/config"
	"MediaGuard/logger"
	"MediaGuard/model"

	"github.com/cenkalti/backoff/v4"
	"github.com/glebarez/sqlite"
	mysqldriver "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// connectTimeout bounds how long Open keeps retrying an unreachable database.
const connectTimeout = 30 * time.Second

// MySQLDSN builds the DSN for the mysql dialect.
func MySQLDSN(cfg *config.Config) string {
	mc := mysqldriver.NewConfig()
	mc.User = cfg.DBUser
	mc.Passwd = cfg.DBPassword
	mc.Net = "tcp"
	mc.Addr = fmt.Sprintf("%s:%s", cfg.DBHost, cfg.DBPort)
	mc.DBName = cfg.DBName
	mc.ParseTime = true
	mc.ClientFoundRows = true
	mc.Loc = time.Local
	mc.Params = map[string]string{"charset": "utf8mb4"}
	return mc.FormatDSN()
}

// PostgresDSN builds the DSN for the postgres dialect.
func PostgresDSN(cfg *config.Config) string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName)
}

// Dialector picks the gorm dialect for cfg.DBDriver.
func Dialector(cfg *config.Config) (gorm.Dialector, error) {
	switch cfg.DBDriver {
	case "", "mysql":
		return mysql.Open(MySQLDSN(cfg)), nil
	case "postgres", "postgresql":
		return postgres.Open(PostgresDSN(cfg)), nil
	case "sqlite", "sqlite3":
		if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("create sqlite dir: %w", err)
			}
		}
		// WAL + busy timeout so background writers and request handlers can share the file
		return sqlite.Open(cfg.SQLitePath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"), nil
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
	}
}

// Open connects to the configured database, retrying with exponential backoff
// while the server is still coming up.
func Open(ctx context.Context, cfg *config.Config) (*gorm.DB, error) {
	dialector, err := Dialector(cfg)
	if err != nil {
		return nil, err
	}
	return OpenDialector(ctx, dialector)
}

// OpenDialector opens a gorm connection for an explicit dialect.
func OpenDialector(ctx context.Context, dialector gorm.Dialector) (*gorm.DB, error) {
	var gdb *gorm.DB

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = connectTimeout

	operation := func() error {
		var err error
		gdb, err = gorm.Open(dialector, &gorm.Config{
			Logger:                                   gormlogger.Default.LogMode(gormlogger.Warn),
			DisableForeignKeyConstraintWhenMigrating: true,
		})
		if err != nil {
			logger.Warn("数据库连接失败，准备重试", logger.ErrorField(err))
			return err
		}
		sqlDB, err := gdb.DB()
		if err != nil {
			return backoff.Permanent(err)
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			logger.Warn("数据库 ping 失败，准备重试", logger.ErrorField(err))
			return err
		}
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return nil, fmt.Errorf("failed to connect database with GORM: %w", err)
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if gdb.Dialector.Name() == "sqlite" {
		// sqlite 只允许单写
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(100)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	logger.Info("数据库连接成功", logger.String("dialect", gdb.Dialector.Name()))
	return gdb, nil
}

// AutoMigrate creates or updates the media_files table.
func AutoMigrate(gdb *gorm.DB) error {
	if err := gdb.AutoMigrate(&model.MediaRecord{}); err != nil {
		return fmt.Errorf("failed to auto migrate models: %w", err)
	}
	return nil
}

// Close closes the underlying connection pool.
func Close(gdb *gorm.DB) error {
	if gdb == nil {
		return nil
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
