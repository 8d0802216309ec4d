package infrastructure

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"storefront/internal/pkg/bootstrap"
	"storefront/internal/pkg/logger"
)

// OpenMySQL 建立 gorm 连接并配置连接池
func OpenMySQL(cfg bootstrap.MySQLConfig) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(cfg.DSN), &gorm.Config{
		// 事务边界完全由 GormUnitOfWork 控制
		SkipDefaultTransaction: true,
		Logger: gormlogger.New(logger.L(), gormlogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, errors.Wrap(err, "open mysql")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "get sql.DB")
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetimeSeconds > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeSeconds) * time.Second)
	}
	return db, nil
}

// AutoMigrate 创建或升级 products / orders / order_items 表
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&ProductModel{}, &OrderModel{}, &OrderLineModel{}); err != nil {
		return errors.Wrap(err, "auto migrate")
	}
	return nil
}

// SeedProducts 在商品表为空时写入演示商品，已有数据时什么都不做
func SeedProducts(ctx context.Context, db *gorm.DB, products []bootstrap.SeedProduct) (int, error) {
	if len(products) == 0 {
		return 0, nil
	}

	var count int64
	if err := db.WithContext(ctx).Model(&ProductModel{}).Count(&count).Error; err != nil {
		return 0, errors.Wrap(err, "count products")
	}
	if count > 0 {
		return 0, nil
	}

	models := make([]ProductModel, 0, len(products))
	for _, p := range products {
		models = append(models, ProductModel{Name: p.Name, Price: p.Price, StockQuantity: p.StockQuantity})
	}
	if err := db.WithContext(ctx).Create(&models).Error; err != nil {
		return 0, errors.Wrap(err, "seed products")
	}
	logger.Ctx(ctx).Info().Int("count", len(models)).Msg("Seeded demo products")
	return len(models), nil
}
