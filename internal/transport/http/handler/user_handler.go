package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"user-directory/internal/domain"
	"user-directory/internal/transport/http/ez"
	resp "user-directory/internal/transport/http/response"
)

// Directory 用户目录能力（service.UserService 实现）
type Directory interface {
	CreateUser(ctx context.Context, caller domain.Credentials, acc domain.NewAccount) (*domain.User, error)
	UpdateProfile(ctx context.Context, caller domain.Credentials, target string, p domain.ProfilePatch) error
	UpdatePassword(ctx context.Context, caller domain.Credentials, target, newPassword string) error
	UpdateLogin(ctx context.Context, caller domain.Credentials, target, newLogin string) error
	ListActive(ctx context.Context, caller domain.Credentials) ([]domain.Summary, error)
	GetByLogin(ctx context.Context, caller domain.Credentials, target string) (*domain.Profile, error)
	GetSelf(ctx context.Context, caller, echo domain.Credentials) (*domain.User, error)
	ListOlderThan(ctx context.Context, caller domain.Credentials, age int) ([]domain.Summary, error)
	DeleteUser(ctx context.Context, caller domain.Credentials, target string, soft bool) error
	RestoreUser(ctx context.Context, caller domain.Credentials, target string) error
}

type UserHandler struct{ dir Directory }

func NewUserHandler(dir Directory) *UserHandler { return &UserHandler{dir: dir} }

// Priority 挂载顺序
func (h *UserHandler) Priority() int { return 10 }

// 每个请求自带的调用方凭据
type credsIn struct {
	Login    string `json:"login"    form:"login"    binding:"required"`
	Password string `json:"password" form:"password" binding:"required"`
}

func (c credsIn) creds() domain.Credentials {
	return domain.Credentials{Login: c.Login, Password: c.Password}
}

type empty struct{}

// MountAPI 挂在 /api/v1 下
func (h *UserHandler) MountAPI(api *gin.RouterGroup) {
	g := api.Group("/users")

	// --- POST /users  新建用户 ---
	type createIn struct {
		credsIn
		CreatedLogin    string `json:"createdLogin"    binding:"required"`
		CreatedPassword string `json:"createdPassword" binding:"required"`
		Name            string `json:"name"            binding:"required,max=64"`
		Gender          *int   `json:"gender"          binding:"required,oneof=0 1"`
		Birthday        *Date  `json:"birthday"`
		Admin           bool   `json:"admin"`
	}
	ez.RegisterAction[createIn, domain.Summary](g, ez.Action[createIn, domain.Summary]{
		Method:       http.MethodPost,
		Path:         "",
		Binder:       ez.BindJSON,
		ConflictCode: resp.CodeBadRequest,
		Handler: func(c *gin.Context, in *createIn) (domain.Summary, error) {
			u, err := h.dir.CreateUser(c.Request.Context(), in.creds(), domain.NewAccount{
				Login:    in.CreatedLogin,
				Password: in.CreatedPassword,
				Name:     in.Name,
				Gender:   *in.Gender,
				Birthday: in.Birthday.ptr(),
				IsAdmin:  in.Admin,
			})
			if err != nil {
				return domain.Summary{}, err
			}
			return u.Summary(), nil
		},
	})

	// --- PUT /users/profile  改名字/性别/生日（缺省字段不动） ---
	type profileIn struct {
		credsIn
		UserLogin string  `json:"userLogin" binding:"required"`
		Name      *string `json:"name"      binding:"omitempty,max=64"`
		Gender    *int    `json:"gender"    binding:"omitempty,oneof=0 1"`
		Birthday  *Date   `json:"birthday"`
	}
	ez.RegisterAction[profileIn, empty](g, ez.Action[profileIn, empty]{
		Method: http.MethodPut,
		Path:   "/profile",
		Binder: ez.BindJSON,
		Handler: func(c *gin.Context, in *profileIn) (empty, error) {
			return empty{}, h.dir.UpdateProfile(c.Request.Context(), in.creds(), in.UserLogin, domain.ProfilePatch{
				Name:     in.Name,
				Gender:   in.Gender,
				Birthday: in.Birthday.ptr(),
			})
		},
	})

	// --- PUT /users/password ---
	type passwordIn struct {
		credsIn
		UserLogin       string `json:"userLogin"       binding:"required"`
		NewUserPassword string `json:"newUserPassword" binding:"required"`
	}
	ez.RegisterAction[passwordIn, empty](g, ez.Action[passwordIn, empty]{
		Method: http.MethodPut,
		Path:   "/password",
		Binder: ez.BindJSON,
		Handler: func(c *gin.Context, in *passwordIn) (empty, error) {
			return empty{}, h.dir.UpdatePassword(c.Request.Context(), in.creds(), in.UserLogin, in.NewUserPassword)
		},
	})

	// --- PUT /users/login  改登录名 ---
	type loginIn struct {
		credsIn
		UserLogin string `json:"userLogin" binding:"required"`
		NewLogin  string `json:"newLogin"  binding:"required"`
	}
	ez.RegisterAction[loginIn, empty](g, ez.Action[loginIn, empty]{
		Method: http.MethodPut,
		Path:   "/login",
		Binder: ez.BindJSON,
		Handler: func(c *gin.Context, in *loginIn) (empty, error) {
			return empty{}, h.dir.UpdateLogin(c.Request.Context(), in.creds(), in.UserLogin, in.NewLogin)
		},
	})

	// --- GET /users/active  未软删用户列表（管理员） ---
	ez.RegisterAction[credsIn, []domain.Summary](g, ez.Action[credsIn, []domain.Summary]{
		Method: http.MethodGet,
		Path:   "/active",
		Binder: ez.BindQuery,
		Handler: func(c *gin.Context, in *credsIn) ([]domain.Summary, error) {
			return h.dir.ListActive(c.Request.Context(), in.creds())
		},
	})

	// --- GET /users/by-login ---
	type byLoginIn struct {
		credsIn
		UserLogin string `form:"userLogin" binding:"required"`
	}
	ez.RegisterAction[byLoginIn, *domain.Profile](g, ez.Action[byLoginIn, *domain.Profile]{
		Method: http.MethodGet,
		Path:   "/by-login",
		Binder: ez.BindQuery,
		Handler: func(c *gin.Context, in *byLoginIn) (*domain.Profile, error) {
			return h.dir.GetByLogin(c.Request.Context(), in.creds(), in.UserLogin)
		},
	})

	// --- GET /users/self  echo 凭据需与调用方一致 ---
	type selfIn struct {
		credsIn
		EchoLogin    string `form:"echoLogin"    binding:"required"`
		EchoPassword string `form:"echoPassword" binding:"required"`
	}
	ez.RegisterAction[selfIn, *domain.User](g, ez.Action[selfIn, *domain.User]{
		Method: http.MethodGet,
		Path:   "/self",
		Binder: ez.BindQuery,
		Handler: func(c *gin.Context, in *selfIn) (*domain.User, error) {
			echo := domain.Credentials{Login: in.EchoLogin, Password: in.EchoPassword}
			return h.dir.GetSelf(c.Request.Context(), in.creds(), echo)
		},
	})

	// --- GET /users/older-than?age=N ---
	type olderIn struct {
		credsIn
		Age *int `form:"age" binding:"required"`
	}
	ez.RegisterAction[olderIn, []domain.Summary](g, ez.Action[olderIn, []domain.Summary]{
		Method: http.MethodGet,
		Path:   "/older-than",
		Binder: ez.BindQuery,
		Handler: func(c *gin.Context, in *olderIn) ([]domain.Summary, error) {
			return h.dir.ListOlderThan(c.Request.Context(), in.creds(), *in.Age)
		},
	})

	// --- DELETE /users?userLogin=x  软删 / 硬删（管理员） ---
	type deleteIn struct {
		credsIn
		UserLogin  string `json:"-"          form:"userLogin" binding:"required"`
		SoftDelete bool   `json:"softDelete" form:"-"`
	}
	ez.RegisterAction[deleteIn, empty](g, ez.Action[deleteIn, empty]{
		Method: http.MethodDelete,
		Path:   "",
		Binder: ez.BindQueryJSON,
		Handler: func(c *gin.Context, in *deleteIn) (empty, error) {
			return empty{}, h.dir.DeleteUser(c.Request.Context(), in.creds(), in.UserLogin, in.SoftDelete)
		},
	})

	// --- PUT /users/restore?userLogin=x ---
	type restoreIn struct {
		credsIn
		UserLogin string `json:"-" form:"userLogin" binding:"required"`
	}
	ez.RegisterAction[restoreIn, empty](g, ez.Action[restoreIn, empty]{
		Method: http.MethodPut,
		Path:   "/restore",
		Binder: ez.BindQueryJSON,
		Handler: func(c *gin.Context, in *restoreIn) (empty, error) {
			return empty{}, h.dir.RestoreUser(c.Request.Context(), in.creds(), in.UserLogin)
		},
	})
}
