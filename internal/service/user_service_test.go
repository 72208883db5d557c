package service_test

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"user-directory/internal/core/database"
	"user-directory/internal/domain"
	"user-directory/internal/repo"
	"user-directory/internal/service"
)

var (
	admin = domain.Credentials{Login: "admin", Password: "admin"}
	bob   = domain.Credentials{Login: "bob", Password: "pw1"}
)

// stepClock 每次调用前进一秒，保证 CreatedAt 严格递增
type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

var start = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc   *service.UserService
	store domain.UserStore
	clock *stepClock
}

func stores() map[string]func(t *testing.T) domain.UserStore {
	return map[string]func(t *testing.T) domain.UserStore{
		"memory": func(t *testing.T) domain.UserStore { return repo.NewMemoryUserRepo() },
		"gorm": func(t *testing.T) domain.UserStore {
			db, err := database.NewGorm(database.Opts{
				Driver:   "sqlite",
				DSN:      filepath.Join(t.TempDir(), "users.db"),
				LogLevel: "silent",
			})
			require.NoError(t, err)
			r := repo.NewUserRepo(db)
			require.NoError(t, r.Migrate())
			t.Cleanup(func() {
				if sqlDB, err := db.DB(); err == nil {
					_ = sqlDB.Close()
				}
			})
			return r
		},
	}
}

// forEachStore 同一套规则分别跑内存和 gorm 两种存储
func forEachStore(t *testing.T, fn func(t *testing.T, f *fixture)) {
	for name, open := range stores() {
		t.Run(name, func(t *testing.T) {
			store := open(t)
			clock := &stepClock{t: start}
			svc := service.NewUserService(store, service.WithClock(clock.Now))
			_, err := svc.EnsureAdmin(context.Background(), admin.Login, admin.Password, "Admin")
			require.NoError(t, err)
			fn(t, &fixture{svc: svc, store: store, clock: clock})
		})
	}
}

func (f *fixture) create(t *testing.T, caller domain.Credentials, login, password string, isAdmin bool) *domain.User {
	t.Helper()
	u, err := f.svc.CreateUser(context.Background(), caller, domain.NewAccount{
		Login: login, Password: password, Name: login, Gender: 0, IsAdmin: isAdmin,
	})
	require.NoError(t, err)
	return u
}

func (f *fixture) load(t *testing.T, login string) *domain.User {
	t.Helper()
	var u *domain.User
	require.NoError(t, f.store.Atomic(context.Background(), func(tx domain.UserTx) error {
		var err error
		u, err = tx.FindByLogin(login)
		return err
	}))
	return u
}

func logins(ss []domain.Summary) []string {
	out := make([]string, 0, len(ss))
	for _, s := range ss {
		out = append(out, s.Login)
	}
	return out
}

func TestAuthenticate(t *testing.T) {
	forEachStore(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		u, err := f.svc.Authenticate(ctx, "admin", "admin")
		require.NoError(t, err)
		require.NotNil(t, u)
		assert.True(t, u.IsAdmin)

		u, err = f.svc.Authenticate(ctx, "admin", "ADMIN")
		require.NoError(t, err)
		assert.Nil(t, u)

		u, err = f.svc.Authenticate(ctx, "Admin", "admin")
		require.NoError(t, err)
		assert.Nil(t, u, "login match is case-sensitive")

		f.create(t, admin, "bob", "pw1", false)
		ok, err := f.svc.IsAdmin(ctx, "bob", "pw1")
		require.NoError(t, err)
		assert.False(t, ok)
		ok, err = f.svc.IsAdmin(ctx, "admin", "admin")
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestCreateUser(t *testing.T) {
	forEachStore(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		bd := time.Date(2000, 6, 1, 0, 0, 0, 0, time.UTC)
		u, err := f.svc.CreateUser(ctx, admin, domain.NewAccount{
			Login: "bob", Password: "pw1", Name: "Bob", Gender: 1, Birthday: &bd,
		})
		require.NoError(t, err)
		assert.NotEmpty(t, u.ID)
		assert.Equal(t, "admin", u.CreatedBy)
		assert.False(t, u.CreatedAt.IsZero())
		assert.Nil(t, u.RevokedAt)

		got := f.load(t, "bob")
		require.NotNil(t, got)
		assert.Equal(t, u.ID, got.ID)
		assert.Equal(t, "Bob", got.Name)
		assert.Equal(t, 1, got.Gender)
		require.NotNil(t, got.Birthday)
		assert.True(t, bd.Equal(*got.Birthday))

		t.Run("unauthenticated", func(t *testing.T) {
			_, err := f.svc.CreateUser(ctx, domain.Credentials{Login: "admin", Password: "nope"},
				domain.NewAccount{Login: "x", Password: "x", Name: "x"})
			assert.ErrorIs(t, err, domain.ErrUnauthenticated)
		})

		t.Run("non-admin cannot create admin", func(t *testing.T) {
			_, err := f.svc.CreateUser(ctx, bob, domain.NewAccount{Login: "eve", Password: "x", Name: "Eve", IsAdmin: true})
			assert.ErrorIs(t, err, domain.ErrForbidden)
			assert.Nil(t, f.load(t, "eve"))
		})

		t.Run("non-admin may create plain account", func(t *testing.T) {
			u, err := f.svc.CreateUser(ctx, bob, domain.NewAccount{Login: "carol", Password: "x", Name: "Carol"})
			require.NoError(t, err)
			assert.Equal(t, "bob", u.CreatedBy)
		})

		t.Run("duplicate login conflicts for any caller", func(t *testing.T) {
			for _, caller := range []domain.Credentials{admin, bob} {
				_, err := f.svc.CreateUser(ctx, caller, domain.NewAccount{Login: "bob", Password: "other", Name: "B2"})
				assert.ErrorIs(t, err, domain.ErrConflict)
			}
		})

		t.Run("bad gender", func(t *testing.T) {
			_, err := f.svc.CreateUser(ctx, admin, domain.NewAccount{Login: "g", Password: "x", Name: "G", Gender: 2})
			assert.ErrorIs(t, err, domain.ErrBadRequest)
		})
	})
}

func TestUpdateProfile(t *testing.T) {
	forEachStore(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		f.create(t, admin, "bob", "pw1", false)
		f.create(t, admin, "dave", "pw2", false)
		dave := domain.Credentials{Login: "dave", Password: "pw2"}

		name := "Robert"
		require.NoError(t, f.svc.UpdateProfile(ctx, bob, "bob", domain.ProfilePatch{Name: &name}))
		got := f.load(t, "bob")
		assert.Equal(t, "Robert", got.Name)
		assert.Equal(t, 0, got.Gender)
		require.NotNil(t, got.ModifiedBy)
		assert.Equal(t, "bob", *got.ModifiedBy)

		g := 1
		require.NoError(t, f.svc.UpdateProfile(ctx, admin, "bob", domain.ProfilePatch{Gender: &g}))
		got = f.load(t, "bob")
		assert.Equal(t, "Robert", got.Name)
		assert.Equal(t, 1, got.Gender)
		assert.Equal(t, "admin", *got.ModifiedBy)

		assert.ErrorIs(t, f.svc.UpdateProfile(ctx, domain.Credentials{Login: "bob", Password: "bad"}, "bob", domain.ProfilePatch{}),
			domain.ErrUnauthenticated)
		assert.ErrorIs(t, f.svc.UpdateProfile(ctx, bob, "ghost", domain.ProfilePatch{}), domain.ErrNotFound)
		assert.ErrorIs(t, f.svc.UpdateProfile(ctx, dave, "bob", domain.ProfilePatch{Name: &name}), domain.ErrForbidden)

		bad := 3
		assert.ErrorIs(t, f.svc.UpdateProfile(ctx, bob, "bob", domain.ProfilePatch{Gender: &bad}), domain.ErrBadRequest)
	})
}

func TestUpdateProfileEmptyPatchStampsOnly(t *testing.T) {
	forEachStore(t, func(t *testing.T, f *fixture) {
		f.create(t, admin, "bob", "pw1", false)
		before := f.load(t, "bob")
		require.Nil(t, before.ModifiedAt)

		require.NoError(t, f.svc.UpdateProfile(context.Background(), bob, "bob", domain.ProfilePatch{}))
		after := f.load(t, "bob")
		assert.Equal(t, before.Name, after.Name)
		assert.Equal(t, before.Gender, after.Gender)
		assert.Equal(t, before.Birthday, after.Birthday)
		require.NotNil(t, after.ModifiedAt)
		assert.Equal(t, "bob", *after.ModifiedBy)
	})
}

func TestUpdateProfileRevokedTarget(t *testing.T) {
	forEachStore(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		f.create(t, admin, "bob", "pw1", false)
		require.NoError(t, f.svc.DeleteUser(ctx, admin, "bob", true))

		name := "Still Bob"
		// 被软删的账号仍能认证，但非管理员不能改它
		assert.ErrorIs(t, f.svc.UpdateProfile(ctx, bob, "bob", domain.ProfilePatch{Name: &name}), domain.ErrBadRequest)
		require.NoError(t, f.svc.UpdateProfile(ctx, admin, "bob", domain.ProfilePatch{Name: &name}))
		assert.Equal(t, "Still Bob", f.load(t, "bob").Name)
	})
}

func TestUpdatePassword(t *testing.T) {
	forEachStore(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		f.create(t, admin, "bob", "pw1", false)
		f.create(t, admin, "dave", "pw2", false)

		require.NoError(t, f.svc.UpdatePassword(ctx, bob, "bob", "pw9"))
		u, err := f.svc.Authenticate(ctx, "bob", "pw1")
		require.NoError(t, err)
		assert.Nil(t, u)
		u, err = f.svc.Authenticate(ctx, "bob", "pw9")
		require.NoError(t, err)
		assert.NotNil(t, u)

		newBob := domain.Credentials{Login: "bob", Password: "pw9"}
		assert.ErrorIs(t, f.svc.UpdatePassword(ctx, newBob, "dave", "hijack"), domain.ErrForbidden)
		assert.ErrorIs(t, f.svc.UpdatePassword(ctx, bob, "dave", "hijack"), domain.ErrUnauthenticated)
		assert.ErrorIs(t, f.svc.UpdatePassword(ctx, newBob, "ghost", "x"), domain.ErrNotFound)
		require.NoError(t, f.svc.UpdatePassword(ctx, admin, "dave", "reset"))

		// 软删账号本人仍可改密码
		require.NoError(t, f.svc.DeleteUser(ctx, admin, "bob", true))
		require.NoError(t, f.svc.UpdatePassword(ctx, newBob, "bob", "pw10"))
	})
}

func TestUpdateLogin(t *testing.T) {
	forEachStore(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		orig := f.create(t, admin, "bob", "pw1", false)
		f.create(t, admin, "dave", "pw2", false)

		assert.ErrorIs(t, f.svc.UpdateLogin(ctx, bob, "bob", "dave"), domain.ErrConflict)
		assert.ErrorIs(t, f.svc.UpdateLogin(ctx, bob, "bob", "bob"), domain.ErrConflict)
		assert.ErrorIs(t, f.svc.UpdateLogin(ctx, bob, "dave", "davey"), domain.ErrForbidden)
		assert.ErrorIs(t, f.svc.UpdateLogin(ctx, bob, "ghost", "x"), domain.ErrNotFound)

		require.NoError(t, f.svc.UpdateLogin(ctx, bob, "bob", "robert"))
		assert.Nil(t, f.load(t, "bob"))
		got := f.load(t, "robert")
		require.NotNil(t, got)
		assert.Equal(t, orig.ID, got.ID)
		assert.Equal(t, "bob", *got.ModifiedBy)

		// 旧登录名可以再次使用
		f.create(t, admin, "bob", "fresh", false)
	})
}

func TestListActive(t *testing.T) {
	forEachStore(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		f.create(t, admin, "bob", "pw1", false)
		f.create(t, admin, "carol", "pw", false)
		f.create(t, admin, "dave", "pw", false)
		require.NoError(t, f.svc.DeleteUser(ctx, admin, "carol", true))

		out, err := f.svc.ListActive(ctx, admin)
		require.NoError(t, err)
		assert.Equal(t, []string{"admin", "bob", "dave"}, logins(out))

		_, err = f.svc.ListActive(ctx, bob)
		assert.ErrorIs(t, err, domain.ErrForbidden)
		_, err = f.svc.ListActive(ctx, domain.Credentials{Login: "nobody", Password: "x"})
		assert.ErrorIs(t, err, domain.ErrForbidden)
	})
}

func TestGetByLogin(t *testing.T) {
	forEachStore(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		f.create(t, admin, "bob", "pw1", false)

		p, err := f.svc.GetByLogin(ctx, admin, "bob")
		require.NoError(t, err)
		assert.Equal(t, "bob", p.Name)
		assert.True(t, p.IsActive)

		require.NoError(t, f.svc.DeleteUser(ctx, admin, "bob", true))
		p, err = f.svc.GetByLogin(ctx, admin, "bob")
		require.NoError(t, err)
		assert.False(t, p.IsActive)

		_, err = f.svc.GetByLogin(ctx, admin, "ghost")
		assert.ErrorIs(t, err, domain.ErrNotFound)
		_, err = f.svc.GetByLogin(ctx, bob, "admin")
		assert.ErrorIs(t, err, domain.ErrForbidden)
	})
}

func TestGetSelf(t *testing.T) {
	forEachStore(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		f.create(t, admin, "bob", "pw1", false)

		_, err := f.svc.GetSelf(ctx, domain.Credentials{Login: "bob", Password: "x"}, bob)
		assert.ErrorIs(t, err, domain.ErrUnauthenticated)

		_, err = f.svc.GetSelf(ctx, bob, domain.Credentials{Login: "bob", Password: "other"})
		assert.ErrorIs(t, err, domain.ErrNotFound)

		// 现有行为：未软删账号拿不到自己的记录
		_, err = f.svc.GetSelf(ctx, bob, bob)
		assert.ErrorIs(t, err, domain.ErrBadRequest)

		require.NoError(t, f.svc.DeleteUser(ctx, admin, "bob", true))
		u, err := f.svc.GetSelf(ctx, bob, bob)
		require.NoError(t, err)
		assert.Equal(t, "bob", u.Login)
		assert.Equal(t, "pw1", u.Password)
		require.NotNil(t, u.RevokedBy)
		assert.Equal(t, "admin", *u.RevokedBy)
	})
}

func TestListOlderThan(t *testing.T) {
	forEachStore(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		// 时钟每次调用 +1s；边界用户按 30 年整（天数近似）往前推，再留足余量
		edge := start.Add(-30 * 365 * 24 * time.Hour)
		justUnder := edge.Add(time.Hour) // 还差一点才满 30*365 天
		justOver := edge.Add(-24 * time.Hour)
		bd2000 := time.Date(2000, 6, 1, 0, 0, 0, 0, time.UTC)

		for _, a := range []struct {
			login string
			bd    *time.Time
		}{{"young", &bd2000}, {"under", &justUnder}, {"over", &justOver}, {"nobday", nil}} {
			_, err := f.svc.CreateUser(ctx, admin, domain.NewAccount{Login: a.login, Password: "x", Name: a.login, Birthday: a.bd})
			require.NoError(t, err)
		}

		out, err := f.svc.ListOlderThan(ctx, admin, 30)
		require.NoError(t, err)
		assert.Equal(t, []string{"admin", "over"}, logins(out))

		out, err = f.svc.ListOlderThan(ctx, admin, 20)
		require.NoError(t, err)
		assert.Equal(t, []string{"admin", "young", "under", "over"}, logins(out))

		// 软删用户同样参与筛选
		require.NoError(t, f.svc.DeleteUser(ctx, admin, "over", true))
		out, err = f.svc.ListOlderThan(ctx, admin, 30)
		require.NoError(t, err)
		assert.Equal(t, []string{"admin", "over"}, logins(out))

		// 年龄很大时没人满足，不能因为时长溢出把所有人都列出来
		for _, age := range []int{293, 300, 1000, math.MaxInt} {
			out, err = f.svc.ListOlderThan(ctx, admin, age)
			require.NoError(t, err)
			assert.Empty(t, out, "age %d", age)
		}

		_, err = f.svc.ListOlderThan(ctx, bob, 1)
		assert.ErrorIs(t, err, domain.ErrForbidden)
	})
}

func TestDeleteUser(t *testing.T) {
	forEachStore(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		f.create(t, admin, "bob", "pw1", false)

		assert.ErrorIs(t, f.svc.DeleteUser(ctx, bob, "admin", false), domain.ErrUnauthenticated)
		assert.ErrorIs(t, f.svc.DeleteUser(ctx, domain.Credentials{Login: "admin", Password: "x"}, "bob", true),
			domain.ErrUnauthenticated)
		assert.ErrorIs(t, f.svc.DeleteUser(ctx, admin, "ghost", true), domain.ErrNotFound)

		require.NoError(t, f.svc.DeleteUser(ctx, admin, "bob", false))
		_, err := f.svc.GetByLogin(ctx, admin, "bob")
		assert.ErrorIs(t, err, domain.ErrNotFound)
		assert.ErrorIs(t, f.svc.RestoreUser(ctx, admin, "bob"), domain.ErrNotFound)

		// 硬删后登录名可复用
		n := f.create(t, admin, "bob", "pw2", false)
		assert.NotEmpty(t, n.ID)
	})
}

func TestSoftDeleteRestoreRoundTrip(t *testing.T) {
	forEachStore(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		bd := time.Date(1995, 3, 3, 0, 0, 0, 0, time.UTC)
		_, err := f.svc.CreateUser(ctx, admin, domain.NewAccount{Login: "bob", Password: "pw1", Name: "Bob", Gender: 1, Birthday: &bd})
		require.NoError(t, err)
		before := f.load(t, "bob")

		require.NoError(t, f.svc.DeleteUser(ctx, admin, "bob", true))
		mid := f.load(t, "bob")
		require.NotNil(t, mid.RevokedAt)
		assert.Equal(t, "admin", *mid.RevokedBy)

		require.NoError(t, f.svc.RestoreUser(ctx, admin, "bob"))
		after := f.load(t, "bob")
		assert.Nil(t, after.RevokedAt)
		assert.Nil(t, after.RevokedBy)
		assert.Equal(t, before.ID, after.ID)
		assert.Equal(t, before.Login, after.Login)
		assert.Equal(t, before.Password, after.Password)
		assert.Equal(t, before.Name, after.Name)
		assert.Equal(t, before.Gender, after.Gender)
		assert.Equal(t, before.IsAdmin, after.IsAdmin)
		assert.Equal(t, before.CreatedBy, after.CreatedBy)
		assert.True(t, before.CreatedAt.Equal(after.CreatedAt))
		assert.True(t, before.Birthday.Equal(*after.Birthday))
		require.NotNil(t, after.ModifiedAt)

		// 恢复不检查是否已软删
		require.NoError(t, f.svc.RestoreUser(ctx, admin, "bob"))
		assert.ErrorIs(t, f.svc.RestoreUser(ctx, bob, "bob"), domain.ErrForbidden)
		assert.ErrorIs(t, f.svc.RestoreUser(ctx, admin, "ghost"), domain.ErrNotFound)
	})
}

func TestConcurrentCreateSameLogin(t *testing.T) {
	forEachStore(t, func(t *testing.T, f *fixture) {
		const n = 16
		var wg sync.WaitGroup
		errs := make([]error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = f.svc.CreateUser(context.Background(), admin, domain.NewAccount{
					Login: "race", Password: fmt.Sprint(i), Name: "Race",
				})
			}(i)
		}
		wg.Wait()

		ok, conflicts := 0, 0
		for _, err := range errs {
			switch {
			case err == nil:
				ok++
			case domain.KindOf(err) == domain.KindConflict:
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}
		assert.Equal(t, 1, ok)
		assert.Equal(t, n-1, conflicts)
	})
}

func TestEnsureAdminIdempotent(t *testing.T) {
	forEachStore(t, func(t *testing.T, f *fixture) {
		created, err := f.svc.EnsureAdmin(context.Background(), "admin", "other", "Admin")
		require.NoError(t, err)
		assert.False(t, created)
		u, err := f.svc.Authenticate(context.Background(), "admin", "admin")
		require.NoError(t, err)
		assert.NotNil(t, u)
	})
}

func TestScenario(t *testing.T) {
	forEachStore(t, func(t *testing.T, f *fixture) {
		ctx := context.Background()
		_, err := f.svc.CreateUser(ctx, admin, domain.NewAccount{Login: "bob", Password: "pw1", Name: "Bob"})
		require.NoError(t, err)

		require.NoError(t, f.svc.UpdatePassword(ctx, bob, "bob", "pw2"))
		nb := domain.Credentials{Login: "bob", Password: "pw2"}
		u, err := f.svc.Authenticate(ctx, nb.Login, nb.Password)
		require.NoError(t, err)
		require.NotNil(t, u)

		err = f.svc.DeleteUser(ctx, nb, "admin", true)
		assert.ErrorIs(t, err, domain.ErrUnauthenticated)

		require.NoError(t, f.svc.DeleteUser(ctx, admin, "bob", true))
		out, err := f.svc.ListActive(ctx, admin)
		require.NoError(t, err)
		assert.NotContains(t, logins(out), "bob")

		require.NoError(t, f.svc.RestoreUser(ctx, admin, "bob"))
		out, err = f.svc.ListActive(ctx, admin)
		require.NoError(t, err)
		assert.Contains(t, logins(out), "bob")
	})
}
