package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"user-directory/internal/domain"
	"user-directory/internal/feature/user"
)

// UserRepo gorm 实现；每个 Atomic 单元一个事务
type UserRepo struct{ db *gorm.DB }

func NewUserRepo(db *gorm.DB) *UserRepo { return &UserRepo{db: db} }

func (r *UserRepo) Migrate() error { return r.db.AutoMigrate(&user.UserModel{}) }

func (r *UserRepo) Atomic(ctx context.Context, fn func(tx domain.UserTx) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(gormTx{db: tx})
	})
}

type gormTx struct{ db *gorm.DB }

func (t gormTx) first(query string, args ...any) (*domain.User, error) {
	var m user.UserModel
	err := t.db.Where(query, args...).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m.ToDomain(), nil
}

func (t gormTx) FindByCredentials(login, password string) (*domain.User, error) {
	return t.first("login = ? AND password = ?", login, password)
}

func (t gormTx) FindByLogin(login string) (*domain.User, error) {
	return t.first("login = ?", login)
}

func (t gormTx) LoginExists(login string) (bool, error) {
	var n int64
	if err := t.db.Model(&user.UserModel{}).Where("login = ?", login).Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

func (t gormTx) Insert(u *domain.User) error {
	if err := t.db.Create(user.FromDomain(u)).Error; err != nil {
		return mapWriteErr(err)
	}
	return nil
}

func (t gormTx) Save(u *domain.User) error {
	// Select("*") 让零值字段（gender=0、is_admin=false、nil 指针）也写回
	err := t.db.Model(&user.UserModel{ID: u.ID}).Select("*").Updates(user.FromDomain(u)).Error
	if err != nil {
		return mapWriteErr(err)
	}
	return nil
}

func (t gormTx) Delete(id string) error {
	res := t.db.Where("id = ?", id).Delete(&user.UserModel{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.NewError(domain.KindNotFound, "user not found")
	}
	return nil
}

func (t gormTx) list(q *gorm.DB) ([]domain.User, error) {
	var ms []user.UserModel
	if err := q.Order("created_at ASC").Order("id ASC").Find(&ms).Error; err != nil {
		return nil, err
	}
	out := make([]domain.User, 0, len(ms))
	for i := range ms {
		out = append(out, *ms[i].ToDomain())
	}
	return out, nil
}

func (t gormTx) ListActive() ([]domain.User, error) {
	return t.list(t.db.Model(&user.UserModel{}).Where("revoked_at IS NULL"))
}

func (t gormTx) ListBornBefore(cutoff time.Time) ([]domain.User, error) {
	// 时间比较放在 Go 里做：sqlite 以文本存时间，跨时区字面量比较不可靠
	us, err := t.list(t.db.Model(&user.UserModel{}).Where("birthday IS NOT NULL"))
	if err != nil {
		return nil, err
	}
	out := us[:0]
	for _, u := range us {
		if u.Birthday.Before(cutoff) {
			out = append(out, u)
		}
	}
	return out, nil
}

func mapWriteErr(err error) error {
	if isDupKey(err) {
		return domain.NewError(domain.KindConflict, "login already in use")
	}
	return fmt.Errorf("write user: %w", err)
}

func isDupKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate") ||
		strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "unique violation") ||
		strings.Contains(msg, "duplicate key")
}
