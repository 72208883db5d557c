package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"user-directory/internal/domain"
)

type memEntry struct {
	u   *domain.User
	seq uint64 // 插入顺序，CreatedAt 相同时用来稳定排序
}

// MemoryUserRepo 进程内实现；一把互斥锁包住整个 Atomic 单元
type MemoryUserRepo struct {
	mu   sync.Mutex
	rows map[string]memEntry
	seq  uint64
}

func NewMemoryUserRepo() *MemoryUserRepo {
	return &MemoryUserRepo{rows: make(map[string]memEntry)}
}

func (r *MemoryUserRepo) Atomic(ctx context.Context, fn func(tx domain.UserTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	// 只读单元直接读 r.rows；第一次写时才复制，fn 成功才替换
	tx := &memTx{rows: r.rows, seq: r.seq}
	if err := fn(tx); err != nil {
		return err
	}
	if tx.dirty {
		r.rows = tx.rows
		r.seq = tx.seq
	}
	return nil
}

type memTx struct {
	rows  map[string]memEntry
	seq   uint64
	dirty bool // rows 已是本单元私有的副本
}

func (t *memTx) writable() {
	if t.dirty {
		return
	}
	staged := make(map[string]memEntry, len(t.rows)+1)
	for k, v := range t.rows {
		staged[k] = v
	}
	t.rows = staged
	t.dirty = true
}

func (t *memTx) find(match func(u *domain.User) bool) *domain.User {
	for _, e := range t.rows {
		if match(e.u) {
			return e.u.Clone()
		}
	}
	return nil
}

func (t *memTx) FindByCredentials(login, password string) (*domain.User, error) {
	return t.find(func(u *domain.User) bool { return u.Login == login && u.Password == password }), nil
}

func (t *memTx) FindByLogin(login string) (*domain.User, error) {
	return t.find(func(u *domain.User) bool { return u.Login == login }), nil
}

func (t *memTx) LoginExists(login string) (bool, error) {
	u, _ := t.FindByLogin(login)
	return u != nil, nil
}

func (t *memTx) Insert(u *domain.User) error {
	if _, ok := t.rows[u.ID]; ok {
		return domain.NewError(domain.KindConflict, "user id already exists")
	}
	if ok, _ := t.LoginExists(u.Login); ok {
		return domain.NewError(domain.KindConflict, "login already in use")
	}
	t.writable()
	t.seq++
	t.rows[u.ID] = memEntry{u: u.Clone(), seq: t.seq}
	return nil
}

func (t *memTx) Save(u *domain.User) error {
	e, ok := t.rows[u.ID]
	if !ok {
		return domain.NewError(domain.KindNotFound, "user not found")
	}
	for id, o := range t.rows {
		if id != u.ID && o.u.Login == u.Login {
			return domain.NewError(domain.KindConflict, "login already in use")
		}
	}
	t.writable()
	t.rows[u.ID] = memEntry{u: u.Clone(), seq: e.seq}
	return nil
}

func (t *memTx) Delete(id string) error {
	if _, ok := t.rows[id]; !ok {
		return domain.NewError(domain.KindNotFound, "user not found")
	}
	t.writable()
	delete(t.rows, id)
	return nil
}

func (t *memTx) list(keep func(u *domain.User) bool) []domain.User {
	es := make([]memEntry, 0, len(t.rows))
	for _, e := range t.rows {
		if keep(e.u) {
			es = append(es, e)
		}
	}
	sort.Slice(es, func(i, j int) bool {
		if !es[i].u.CreatedAt.Equal(es[j].u.CreatedAt) {
			return es[i].u.CreatedAt.Before(es[j].u.CreatedAt)
		}
		return es[i].seq < es[j].seq
	})
	out := make([]domain.User, 0, len(es))
	for _, e := range es {
		out = append(out, *e.u.Clone())
	}
	return out
}

func (t *memTx) ListActive() ([]domain.User, error) {
	return t.list(func(u *domain.User) bool { return u.Active() }), nil
}

func (t *memTx) ListBornBefore(cutoff time.Time) ([]domain.User, error) {
	return t.list(func(u *domain.User) bool { return u.Birthday != nil && u.Birthday.Before(cutoff) }), nil
}
