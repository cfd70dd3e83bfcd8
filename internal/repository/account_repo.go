package repository

import (
	"context"
	"errors"

	"biblesketch/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrAccountNotFound  = errors.New("账户不存在")
	ErrBalanceNotEnough = errors.New("余额不足")
	ErrOptimisticLock   = errors.New("乐观锁冲突，请重试")
)

type AccountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

func (r *AccountRepository) conn(tx *gorm.DB) *gorm.DB {
	if tx == nil {
		return r.db
	}
	return tx
}

// CreateIfAbsent 插入账户，已存在时什么都不做；返回是否真正插入
func (r *AccountRepository) CreateIfAbsent(ctx context.Context, tx *gorm.DB, account *model.Account) (bool, error) {
	result := r.conn(tx).WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoNothing: true,
		}).
		Create(account)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// GetByUserID 读取账户；tx 为 nil 时走普通连接
func (r *AccountRepository) GetByUserID(ctx context.Context, tx *gorm.DB, userID string) (*model.Account, error) {
	var account model.Account
	err := r.conn(tx).WithContext(ctx).Where("user_id = ?", userID).First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// ApplyDelta 对一个余额做带版本号校验的增减
//
//	UPDATE account SET <col> = <col> + delta, version = version + 1
//	WHERE user_id = ? AND version = ? AND <col> + delta >= 0
//
// 没有命中行时在同一事务里重新读取，区分余额不足和版本冲突。
func (r *AccountRepository) ApplyDelta(ctx context.Context, tx *gorm.DB, userID string, counter model.Counter, delta int64, version int) error {
	col := clause.Column{Name: counter.Column()}
	result := r.conn(tx).WithContext(ctx).
		Model(&model.Account{}).
		Where("user_id = ? AND version = ?", userID, version).
		Where("? + ? >= 0", col, delta).
		Updates(map[string]interface{}{
			counter.Column(): gorm.Expr("? + ?", col, delta),
			"version":        gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		account, err := r.GetByUserID(ctx, tx, userID)
		if err != nil {
			return err
		}
		if account.Balance(counter)+delta < 0 {
			return ErrBalanceNotEnough
		}
		return ErrOptimisticLock
	}
	return nil
}

// SetPremium 带版本号校验地修改会员标记
func (r *AccountRepository) SetPremium(ctx context.Context, tx *gorm.DB, userID string, premium bool, version int) error {
	result := r.conn(tx).WithContext(ctx).
		Model(&model.Account{}).
		Where("user_id = ? AND version = ?", userID, version).
		Updates(map[string]interface{}{
			"is_premium": premium,
			"version":    gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		if _, err := r.GetByUserID(ctx, tx, userID); err != nil {
			return err
		}
		return ErrOptimisticLock
	}
	return nil
}
