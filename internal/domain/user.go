package domain

import (
	"context"
	"time"
)

type User struct {
	ID         string     `json:"id"`
	Login      string     `json:"login"`
	Password   string     `json:"password"`
	Name       string     `json:"name"`
	Gender     int        `json:"gender"` // 0 / 1
	Birthday   *time.Time `json:"birthday"`
	IsAdmin    bool       `json:"isAdmin"`
	CreatedAt  time.Time  `json:"createdAt"`
	CreatedBy  string     `json:"createdBy"`
	ModifiedAt *time.Time `json:"modifiedAt"`
	ModifiedBy *string    `json:"modifiedBy"`
	RevokedAt  *time.Time `json:"revokedAt"`
	RevokedBy  *string    `json:"revokedBy"`
}

// Active 未被软删
func (u *User) Active() bool { return u.RevokedAt == nil }

// Clone 深拷贝，存储层按值保存，避免调用方改到内部状态
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	c.Birthday = cloneTime(u.Birthday)
	c.ModifiedAt = cloneTime(u.ModifiedAt)
	c.RevokedAt = cloneTime(u.RevokedAt)
	c.ModifiedBy = cloneString(u.ModifiedBy)
	c.RevokedBy = cloneString(u.RevokedBy)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// Credentials 每个请求自带的登录名 + 明文密码
type Credentials struct {
	Login    string
	Password string
}

type NewAccount struct {
	Login    string
	Password string
	Name     string
	Gender   int
	Birthday *time.Time
	IsAdmin  bool
}

// ProfilePatch nil 字段保持原值
type ProfilePatch struct {
	Name     *string
	Gender   *int
	Birthday *time.Time
}

type Summary struct {
	ID    string `json:"id"`
	Login string `json:"login"`
	Name  string `json:"name"`
}

type Profile struct {
	Name     string     `json:"name"`
	Gender   int        `json:"gender"`
	Birthday *time.Time `json:"birthday"`
	IsActive bool       `json:"isActive"`
}

func (u *User) Summary() Summary { return Summary{ID: u.ID, Login: u.Login, Name: u.Name} }

func (u *User) Profile() Profile {
	return Profile{Name: u.Name, Gender: u.Gender, Birthday: cloneTime(u.Birthday), IsActive: u.Active()}
}

// UserTx 一个原子单元内可用的读写操作。查不到返回 (nil, nil)。
type UserTx interface {
	FindByCredentials(login, password string) (*User, error)
	FindByLogin(login string) (*User, error)
	LoginExists(login string) (bool, error)
	Insert(u *User) error
	Save(u *User) error
	Delete(id string) error
	// ListActive 未软删记录，按 CreatedAt 升序
	ListActive() ([]User, error)
	// ListBornBefore 有生日且生日早于 cutoff 的记录，按 CreatedAt 升序
	ListBornBefore(cutoff time.Time) ([]User, error)
}

// UserStore fn 返回错误时整个单元不生效
type UserStore interface {
	Atomic(ctx context.Context, fn func(tx UserTx) error) error
}
