// Package mysql 提供基于 GORM 的关系型 SyncBackend 实现
// 支持 MySQL 与 PostgreSQL 两种方言，表结构相同
package mysql

import (
	"fmt"

	"fresh_chat_server/internal/config" // 配置管理

	"go.uber.org/zap"                        // 日志库
	mysqldriver "gorm.io/driver/mysql"       // GORM MySQL 驱动
	postgresdriver "gorm.io/driver/postgres" // GORM PostgreSQL 驱动
	"gorm.io/gorm"                           // GORM ORM 框架
)

// 支持的方言
const (
	DialectMySQL    = "mysql"
	DialectPostgres = "postgres"
)

// MysqlDSN 构建 MySQL DSN 连接字符串
// 格式：user:password@tcp(host:port)/database?params
func MysqlDSN(conf config.MysqlConfig) string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		conf.User,
		conf.Password,
		conf.Host,
		conf.Port,
		conf.DatabaseName,
	)
}

// PostgresDSN 构建 PostgreSQL DSN 连接字符串
func PostgresDSN(conf config.PostgresConfig) string {
	sslMode := conf.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		conf.Host, conf.Port, conf.User, conf.Password, conf.DatabaseName, sslMode)
}

// Open 按方言建立数据库连接并自动迁移同步表
func Open(cfg *config.Config, dialect string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch dialect {
	case DialectMySQL:
		dialector = mysqldriver.Open(MysqlDSN(cfg.MysqlConfig))
	case DialectPostgres:
		dialector = postgresdriver.Open(PostgresDSN(cfg.PostgresConfig))
	default:
		return nil, fmt.Errorf("unsupported sql dialect %q", dialect)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, wrapDBErrorf(err, "连接 %s 失败", dialect)
	}

	// AutoMigrate 只创建缺失的表与索引，不会删除已有字段或数据
	if err := db.AutoMigrate(&syncDocument{}, &syncField{}); err != nil {
		return nil, wrapDBErrorf(err, "迁移 %s 表结构失败", dialect)
	}
	zap.L().Info("sql backend connected", zap.String("dialect", dialect))
	return db, nil
}
