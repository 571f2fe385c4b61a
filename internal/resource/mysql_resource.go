package resource

import (
	"fmt"
	"sync"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"transcode-pipeline/ddd/infrastructure/database/po"
	"transcode-pipeline/pkg/assert"
	"transcode-pipeline/pkg/config"
	"transcode-pipeline/pkg/logger"
	"transcode-pipeline/pkg/manager"
)

var (
	mysqlResourceOnce      sync.Once
	singletonMysqlResource *MySqlResource
)

// MySqlResource manages the gorm connection backing the job store.
type MySqlResource struct {
	db *gorm.DB
}

// DefaultMysqlResource returns the MySQL resource singleton.
func DefaultMysqlResource() *MySqlResource {
	assert.NotCircular()
	mysqlResourceOnce.Do(func() {
		singletonMysqlResource = &MySqlResource{}
	})
	assert.NotNil(singletonMysqlResource)
	return singletonMysqlResource
}

// MustOpen connects to MySQL, tunes the pool, and migrates the job table.
func (r *MySqlResource) MustOpen() {
	cfg := config.GetGlobalConfig()
	if cfg == nil {
		panic("global config not initialized before MySqlResource")
	}

	db, err := gorm.Open(mysql.Open(cfg.Database.GetDSN()), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
		TranslateError: true,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to connect mysql: %v", err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		panic(fmt.Sprintf("failed to access sql.DB: %v", err))
	}
	if cfg.Database.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	}
	if cfg.Database.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	}
	if cfg.Database.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
	} else {
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	if err := db.AutoMigrate(&po.TranscodeJob{}); err != nil {
		panic(fmt.Sprintf("failed to migrate job table: %v", err))
	}

	r.db = db
	logger.Info("MySQL resource initialized", map[string]interface{}{
		"host":     cfg.Database.Host,
		"database": cfg.Database.Database,
	})
}

// MainDB returns the shared gorm handle.
func (r *MySqlResource) MainDB() *gorm.DB {
	return r.db
}

// Close shuts the connection pool down.
func (r *MySqlResource) Close() {
	if r.db == nil {
		return
	}
	if sqlDB, err := r.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

type MySqlResourcePlugin struct{}

func (p *MySqlResourcePlugin) Name() string                         { return "mysqlResource" }
func (p *MySqlResourcePlugin) MustCreateResource() manager.Resource { return DefaultMysqlResource() }
