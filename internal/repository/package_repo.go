package repository

import (
	"context"
	"errors"

	"vendorpay/internal/model"

	"gorm.io/gorm"
)

// PackageRepository 套餐目录，只读协作方；Create 仅供初始化数据使用
type PackageRepository struct {
	db *gorm.DB
}

func NewPackageRepository(db *gorm.DB) *PackageRepository {
	return &PackageRepository{db: db}
}

func (r *PackageRepository) Create(ctx context.Context, pkg *model.Package) error {
	return r.db.WithContext(ctx).Create(pkg).Error
}

// FindByID 不存在时返回 nil, nil，由调用方决定错误类别
func (r *PackageRepository) FindByID(ctx context.Context, tx *gorm.DB, id uint64) (*model.Package, error) {
	if tx == nil {
		tx = r.db
	}
	var pkg model.Package
	err := tx.WithContext(ctx).Where("id = ?", id).First(&pkg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &pkg, nil
}
