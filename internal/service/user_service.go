package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"user-directory/internal/domain"
	"user-directory/pkg/utils"
)

var (
	errBadCredentials  = domain.NewError(domain.KindUnauthenticated, "invalid login or password")
	errNotAdmin        = domain.NewError(domain.KindForbidden, "admin rights required")
	errNotOwner        = domain.NewError(domain.KindForbidden, "not allowed to modify this user")
	errAdminByNonAdmin = domain.NewError(domain.KindForbidden, "only admins can create admin accounts")
	errUserNotFound    = domain.NewError(domain.KindNotFound, "user not found")
	errLoginExists     = domain.NewError(domain.KindConflict, "user with the same login already exists")
	errTargetRevoked   = domain.NewError(domain.KindBadRequest, "user has been revoked and you are not admin")
	errEchoMismatch    = domain.NewError(domain.KindNotFound, "it is not your login or password")
	errSelfNotRevoked  = domain.NewError(domain.KindBadRequest, "you have been revoked")
	errBadGender       = domain.NewError(domain.KindBadRequest, "gender must be either 0 or 1")
)

// ProfileCache getByLogin 投影缓存（可选）
type ProfileCache interface {
	Profile(ctx context.Context, login string, load func(ctx context.Context) (*domain.Profile, error)) (*domain.Profile, error)
	Forget(ctx context.Context, logins ...string) error
}

type Option func(*UserService)

func WithLogger(l *zap.Logger) Option { return func(s *UserService) { s.log = l } }

func WithCache(c ProfileCache) Option { return func(s *UserService) { s.cache = c } }

func WithClock(now func() time.Time) Option { return func(s *UserService) { s.now = now } }

func WithIDGen(gen func() string) Option { return func(s *UserService) { s.newID = gen } }

// UserService 用户目录：所有鉴权/归属规则都在这里，存储只负责原子读写
type UserService struct {
	store domain.UserStore
	cache ProfileCache
	log   *zap.Logger
	now   func() time.Time
	newID func() string
}

func NewUserService(store domain.UserStore, opts ...Option) *UserService {
	s := &UserService{
		store: store,
		log:   zap.NewNop(),
		now:   func() time.Time { return time.Now().UTC() },
		newID: utils.NewID,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Authenticate 登录名和密码都精确匹配才返回；查不到返回 (nil, nil)
func (s *UserService) Authenticate(ctx context.Context, login, password string) (*domain.User, error) {
	var u *domain.User
	err := s.store.Atomic(ctx, func(tx domain.UserTx) error {
		var e error
		u, e = tx.FindByCredentials(login, password)
		return e
	})
	return u, err
}

func (s *UserService) IsAdmin(ctx context.Context, login, password string) (bool, error) {
	u, err := s.Authenticate(ctx, login, password)
	if err != nil {
		return false, err
	}
	return u != nil && u.IsAdmin, nil
}

func (s *UserService) CreateUser(ctx context.Context, caller domain.Credentials, acc domain.NewAccount) (*domain.User, error) {
	var created *domain.User
	err := s.store.Atomic(ctx, func(tx domain.UserTx) error {
		cu, err := tx.FindByCredentials(caller.Login, caller.Password)
		if err != nil {
			return err
		}
		if cu == nil {
			return errBadCredentials
		}
		if !cu.IsAdmin && acc.IsAdmin {
			return errAdminByNonAdmin
		}
		if !validGender(acc.Gender) {
			return errBadGender
		}
		taken, err := tx.LoginExists(acc.Login)
		if err != nil {
			return err
		}
		if taken {
			return errLoginExists
		}
		u := &domain.User{
			ID:        s.newID(),
			Login:     acc.Login,
			Password:  acc.Password,
			Name:      acc.Name,
			Gender:    acc.Gender,
			Birthday:  acc.Birthday,
			IsAdmin:   acc.IsAdmin,
			CreatedAt: s.now(),
			CreatedBy: cu.Login,
		}
		if err := tx.Insert(u); err != nil {
			return err
		}
		created = u
		return nil
	})
	s.done("create", caller.Login, acc.Login, err)
	if err != nil {
		return nil, err
	}
	return created, nil
}

// mutate 本人或管理员修改目标用户；apply 返回错误则整体回滚
func (s *UserService) mutate(ctx context.Context, caller domain.Credentials, target string, apply func(cu, tu *domain.User) error) (*domain.User, error) {
	var saved *domain.User
	err := s.store.Atomic(ctx, func(tx domain.UserTx) error {
		cu, err := tx.FindByCredentials(caller.Login, caller.Password)
		if err != nil {
			return err
		}
		if cu == nil {
			return errBadCredentials
		}
		tu, err := tx.FindByLogin(target)
		if err != nil {
			return err
		}
		if tu == nil {
			return errUserNotFound
		}
		if err := apply(cu, tu); err != nil {
			return err
		}
		s.stamp(tu, cu)
		if err := tx.Save(tu); err != nil {
			return err
		}
		saved = tu
		return nil
	})
	return saved, err
}

func ownsOrAdmin(cu, tu *domain.User) error {
	if cu.IsAdmin || cu.ID == tu.ID {
		return nil
	}
	return errNotOwner
}

func (s *UserService) UpdateProfile(ctx context.Context, caller domain.Credentials, target string, p domain.ProfilePatch) error {
	_, err := s.mutate(ctx, caller, target, func(cu, tu *domain.User) error {
		if !cu.IsAdmin && !tu.Active() {
			return errTargetRevoked
		}
		if err := ownsOrAdmin(cu, tu); err != nil {
			return err
		}
		if p.Gender != nil && !validGender(*p.Gender) {
			return errBadGender
		}
		if p.Name != nil {
			tu.Name = *p.Name
		}
		if p.Gender != nil {
			tu.Gender = *p.Gender
		}
		if p.Birthday != nil {
			b := *p.Birthday
			tu.Birthday = &b
		}
		return nil
	})
	s.done("update_profile", caller.Login, target, err)
	if err == nil {
		s.forget(ctx, target)
	}
	return err
}

func (s *UserService) UpdatePassword(ctx context.Context, caller domain.Credentials, target, newPassword string) error {
	_, err := s.mutate(ctx, caller, target, func(cu, tu *domain.User) error {
		if err := ownsOrAdmin(cu, tu); err != nil {
			return err
		}
		tu.Password = newPassword
		return nil
	})
	s.done("update_password", caller.Login, target, err)
	return err
}

// UpdateLogin 新登录名被任何记录（包括已软删）占用即冲突，改成自己当前的登录名也算占用
func (s *UserService) UpdateLogin(ctx context.Context, caller domain.Credentials, target, newLogin string) error {
	err := s.store.Atomic(ctx, func(tx domain.UserTx) error {
		cu, err := tx.FindByCredentials(caller.Login, caller.Password)
		if err != nil {
			return err
		}
		if cu == nil {
			return errBadCredentials
		}
		tu, err := tx.FindByLogin(target)
		if err != nil {
			return err
		}
		if tu == nil {
			return errUserNotFound
		}
		if err := ownsOrAdmin(cu, tu); err != nil {
			return err
		}
		taken, err := tx.LoginExists(newLogin)
		if err != nil {
			return err
		}
		if taken {
			return errLoginExists
		}
		tu.Login = newLogin
		s.stamp(tu, cu)
		return tx.Save(tu)
	})
	s.done("update_login", caller.Login, target, err)
	if err == nil {
		s.forget(ctx, target, newLogin)
	}
	return err
}

// requireAdmin 调用方必须是管理员，否则返回 deny
func requireAdmin(tx domain.UserTx, caller domain.Credentials, deny error) (*domain.User, error) {
	cu, err := tx.FindByCredentials(caller.Login, caller.Password)
	if err != nil {
		return nil, err
	}
	if cu == nil || !cu.IsAdmin {
		return nil, deny
	}
	return cu, nil
}

func (s *UserService) ListActive(ctx context.Context, caller domain.Credentials) ([]domain.Summary, error) {
	var out []domain.Summary
	err := s.store.Atomic(ctx, func(tx domain.UserTx) error {
		if _, err := requireAdmin(tx, caller, errNotAdmin); err != nil {
			return err
		}
		us, err := tx.ListActive()
		if err != nil {
			return err
		}
		out = summaries(us)
		return nil
	})
	s.done("list_active", caller.Login, "", err)
	return out, err
}

func (s *UserService) GetByLogin(ctx context.Context, caller domain.Credentials, target string) (*domain.Profile, error) {
	load := func(ctx context.Context) (*domain.Profile, error) {
		var p *domain.Profile
		err := s.store.Atomic(ctx, func(tx domain.UserTx) error {
			tu, err := tx.FindByLogin(target)
			if err != nil {
				return err
			}
			if tu == nil {
				return errUserNotFound
			}
			pr := tu.Profile()
			p = &pr
			return nil
		})
		return p, err
	}

	ok, err := s.IsAdmin(ctx, caller.Login, caller.Password)
	if err == nil && !ok {
		err = errNotAdmin
	}
	var p *domain.Profile
	if err == nil {
		if s.cache != nil {
			p, err = s.cache.Profile(ctx, target, load)
		} else {
			p, err = load(ctx)
		}
	}
	s.done("get_by_login", caller.Login, target, err)
	return p, err
}

// GetSelf echo 必须与调用方凭据一致。
// 注意：未被软删的账号返回 BadRequest，已软删的才拿到完整记录（沿用现有行为，待业务确认）。
func (s *UserService) GetSelf(ctx context.Context, caller, echo domain.Credentials) (*domain.User, error) {
	var self *domain.User
	err := s.store.Atomic(ctx, func(tx domain.UserTx) error {
		cu, err := tx.FindByCredentials(caller.Login, caller.Password)
		if err != nil {
			return err
		}
		if cu == nil {
			return errBadCredentials
		}
		if echo != caller {
			return errEchoMismatch
		}
		if cu.Active() {
			return errSelfNotRevoked
		}
		self = cu
		return nil
	})
	s.done("get_self", caller.Login, caller.Login, err)
	return self, err
}

// ListOlderThan 按天数近似：now - birthday > age*365 天
func (s *UserService) ListOlderThan(ctx context.Context, caller domain.Credentials, age int) ([]domain.Summary, error) {
	cutoff := ageCutoff(s.now(), age)
	var out []domain.Summary
	err := s.store.Atomic(ctx, func(tx domain.UserTx) error {
		if _, err := requireAdmin(tx, caller, errNotAdmin); err != nil {
			return err
		}
		us, err := tx.ListBornBefore(cutoff)
		if err != nil {
			return err
		}
		out = summaries(us)
		return nil
	})
	s.done("list_older_than", caller.Login, "", err)
	return out, err
}

// DeleteUser 非管理员一律按未认证处理
func (s *UserService) DeleteUser(ctx context.Context, caller domain.Credentials, target string, soft bool) error {
	err := s.store.Atomic(ctx, func(tx domain.UserTx) error {
		cu, err := requireAdmin(tx, caller, errBadCredentials)
		if err != nil {
			return err
		}
		tu, err := tx.FindByLogin(target)
		if err != nil {
			return err
		}
		if tu == nil {
			return errUserNotFound
		}
		if !soft {
			return tx.Delete(tu.ID)
		}
		now := s.now()
		by := cu.Login
		tu.RevokedAt, tu.RevokedBy = &now, &by
		s.stamp(tu, cu)
		return tx.Save(tu)
	})
	op := "hard_delete"
	if soft {
		op = "soft_delete"
	}
	s.done(op, caller.Login, target, err)
	if err == nil {
		s.forget(ctx, target)
	}
	return err
}

// RestoreUser 不检查目标是否真的被软删过
func (s *UserService) RestoreUser(ctx context.Context, caller domain.Credentials, target string) error {
	err := s.store.Atomic(ctx, func(tx domain.UserTx) error {
		cu, err := requireAdmin(tx, caller, errNotAdmin)
		if err != nil {
			return err
		}
		tu, err := tx.FindByLogin(target)
		if err != nil {
			return err
		}
		if tu == nil {
			return errUserNotFound
		}
		tu.RevokedAt, tu.RevokedBy = nil, nil
		s.stamp(tu, cu)
		return tx.Save(tu)
	})
	s.done("restore", caller.Login, target, err)
	if err == nil {
		s.forget(ctx, target)
	}
	return err
}

// EnsureAdmin 登录名不存在时创建管理员账号（启动引导用）
func (s *UserService) EnsureAdmin(ctx context.Context, login, password, name string) (bool, error) {
	created := false
	err := s.store.Atomic(ctx, func(tx domain.UserTx) error {
		taken, err := tx.LoginExists(login)
		if err != nil || taken {
			return err
		}
		bd := time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC)
		u := &domain.User{
			ID:        s.newID(),
			Login:     login,
			Password:  password,
			Name:      name,
			Gender:    1,
			Birthday:  &bd,
			IsAdmin:   true,
			CreatedAt: s.now(),
			CreatedBy: login,
		}
		if err := tx.Insert(u); err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if created {
		s.log.Info("bootstrap admin created", zap.String("login", login))
	}
	return created, nil
}

func (s *UserService) stamp(tu, cu *domain.User) {
	now := s.now()
	by := cu.Login
	tu.ModifiedAt, tu.ModifiedBy = &now, &by
}

func (s *UserService) forget(ctx context.Context, logins ...string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Forget(ctx, logins...); err != nil {
		s.log.Warn("profile cache invalidate failed", zap.Strings("logins", logins), zap.Error(err))
	}
}

func (s *UserService) done(op, caller, target string, err error) {
	opsTotal.WithLabelValues(op, resultLabel(err)).Inc()
	fields := []zap.Field{zap.String("op", op), zap.String("caller", caller)}
	if target != "" {
		fields = append(fields, zap.String("target", target))
	}
	switch {
	case err == nil:
		s.log.Info("user directory", fields...)
	case domain.KindOf(err) != 0:
		s.log.Debug("user directory denied", append(fields, zap.Error(err))...)
	default:
		s.log.Error("user directory failed", append(fields, zap.Error(err))...)
	}
}

// 超出这个范围的年龄筛选结果与边界值相同；按天算，避免 Duration 溢出
const maxAgeYears = 10000

func ageCutoff(now time.Time, age int) time.Time {
	age = min(max(age, -maxAgeYears), maxAgeYears)
	return now.AddDate(0, 0, -age*365)
}

func validGender(g int) bool { return g == 0 || g == 1 }

func summaries(us []domain.User) []domain.Summary {
	out := make([]domain.Summary, 0, len(us))
	for i := range us {
		out = append(out, us[i].Summary())
	}
	return out
}
