package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// PostgreSQL PostgreSQL连接管理器
type PostgreSQL struct {
	db     *gorm.DB
	sqlDB  *sql.DB
	dbName string
}

// PostgresOption 连接选项
type PostgresOption func(*gorm.Config)

// WithLogLevel 设置gorm日志级别
func WithLogLevel(level gormlogger.LogLevel) PostgresOption {
	return func(c *gorm.Config) {
		c.Logger = gormlogger.Default.LogMode(level)
	}
}

func gormConfig(opts ...PostgresOption) *gorm.Config {
	config := &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
		// 唯一索引冲突转换为 gorm.ErrDuplicatedKey
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		opt(config)
	}
	return config
}

// NewPostgreSQL 创建PostgreSQL连接，数据库不存在时自动创建
func NewPostgreSQL(dsn, dbName string, opts ...PostgresOption) (*PostgreSQL, error) {
	if dbName != "" {
		if err := createDatabaseIfNotExists(dsn, dbName); err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
	}

	db, err := gorm.Open(postgres.Open(dsn), gormConfig(opts...))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	p, err := wrap(db, dbName)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.Health(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}
	return p, nil
}

// NewPostgreSQLFromDSN 直接连接，不尝试建库（测试容器使用）
func NewPostgreSQLFromDSN(dsn string, opts ...PostgresOption) (*PostgreSQL, error) {
	db, err := gorm.Open(postgres.Open(dsn), gormConfig(opts...))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	return wrap(db, "")
}

func wrap(db *gorm.DB, dbName string) (*PostgreSQL, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return &PostgreSQL{
		db:     db,
		sqlDB:  sqlDB,
		dbName: dbName,
	}, nil
}

// GetDB 获取GORM数据库实例
func (p *PostgreSQL) GetDB() *gorm.DB {
	return p.db
}

// WithContext 使用上下文
func (p *PostgreSQL) WithContext(ctx context.Context) *gorm.DB {
	return p.db.WithContext(ctx)
}

// AutoMigrate 自动迁移表结构
func (p *PostgreSQL) AutoMigrate(models ...interface{}) error {
	return p.db.AutoMigrate(models...)
}

// Health 健康检查
func (p *PostgreSQL) Health(ctx context.Context) error {
	return p.sqlDB.PingContext(ctx)
}

// Close 关闭连接
func (p *PostgreSQL) Close() error {
	if p.sqlDB != nil {
		return p.sqlDB.Close()
	}
	return nil
}

// createDatabaseIfNotExists 连接到默认库检查并创建目标库
func createDatabaseIfNotExists(dsn, dbName string) error {
	adminDSN := strings.Replace(dsn, "dbname="+dbName, "dbname=postgres", 1)

	adminDB, err := gorm.Open(postgres.Open(adminDSN), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to PostgreSQL server: %w", err)
	}
	sqlDB, err := adminDB.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	defer sqlDB.Close()

	var exists bool
	if err := adminDB.Raw("SELECT EXISTS(SELECT 1 FROM pg_database WHERE datname = ?)", dbName).
		Scan(&exists).Error; err != nil {
		return fmt.Errorf("failed to check if database exists: %w", err)
	}
	if exists {
		return nil
	}
	if err := adminDB.Exec(fmt.Sprintf(`CREATE DATABASE "%s"`, dbName)).Error; err != nil {
		return fmt.Errorf("failed to create database %s: %w", dbName, err)
	}
	return nil
}
