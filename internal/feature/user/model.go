package user

import (
	"time"

	"user-directory/internal/domain"
)

// UserModel users 表的行结构；软删用 revoked_at 表示，不使用 gorm.DeletedAt（硬删需要真删除）
type UserModel struct {
	ID       string     `gorm:"primaryKey;type:varchar(36)"`
	Login    string     `gorm:"uniqueIndex;size:191;not null"`
	Password string     `gorm:"size:191;not null"`
	Name     string     `gorm:"size:64;not null"`
	Gender   int        `gorm:"not null"`
	Birthday *time.Time `gorm:"index"`
	IsAdmin  bool       `gorm:"not null"`

	CreatedAt  time.Time `gorm:"index;not null"`
	CreatedBy  string    `gorm:"size:191;not null"`
	ModifiedAt *time.Time
	ModifiedBy *string    `gorm:"size:191"`
	RevokedAt  *time.Time `gorm:"index"`
	RevokedBy  *string    `gorm:"size:191"`
}

func (UserModel) TableName() string { return "users" }

func FromDomain(u *domain.User) *UserModel {
	c := u.Clone()
	return &UserModel{
		ID:         c.ID,
		Login:      c.Login,
		Password:   c.Password,
		Name:       c.Name,
		Gender:     c.Gender,
		Birthday:   c.Birthday,
		IsAdmin:    c.IsAdmin,
		CreatedAt:  c.CreatedAt,
		CreatedBy:  c.CreatedBy,
		ModifiedAt: c.ModifiedAt,
		ModifiedBy: c.ModifiedBy,
		RevokedAt:  c.RevokedAt,
		RevokedBy:  c.RevokedBy,
	}
}

func (m *UserModel) ToDomain() *domain.User {
	return &domain.User{
		ID:         m.ID,
		Login:      m.Login,
		Password:   m.Password,
		Name:       m.Name,
		Gender:     m.Gender,
		Birthday:   m.Birthday,
		IsAdmin:    m.IsAdmin,
		CreatedAt:  m.CreatedAt,
		CreatedBy:  m.CreatedBy,
		ModifiedAt: m.ModifiedAt,
		ModifiedBy: m.ModifiedBy,
		RevokedAt:  m.RevokedAt,
		RevokedBy:  m.RevokedBy,
	}
}
