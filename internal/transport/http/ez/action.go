package ez

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"user-directory/internal/domain"
	resp "user-directory/internal/transport/http/response"
)

// 绑定方式
type Binder string

const (
	BindJSON      Binder = "json"       // 从 JSON 绑定
	BindQuery     Binder = "query"      // 从 URL ?a=b 绑定
	BindQueryJSON Binder = "query+json" // 先取 query，再绑定 JSON body，最后统一校验
	BindNone      Binder = "none"       // 不绑定
)

// 统一错误对象（配合 resp.Error(int, msg)）
type AErr struct {
	Code int
	Msg  string
	Err  error
}

func (e *AErr) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "action error"
}

func (e *AErr) Unwrap() error { return e.Err }

// 动作定义：I 入参，O 出参
type Action[I any, O any] struct {
	Method  string // "GET" | "POST" | "PUT" | "DELETE"
	Path    string // 例："/users/profile"
	Binder  Binder
	Handler func(c *gin.Context, in *I) (O, error)

	// ConflictCode 登录名冲突时的状态码，默认 409（创建用户沿用 400）
	ConflictCode int
}

// StatusOf 业务错误 → HTTP 状态码
func StatusOf(err error, conflictCode int) int {
	var ae *AErr
	if errors.As(err, &ae) {
		return ae.Code
	}
	switch domain.KindOf(err) {
	case domain.KindUnauthenticated:
		return http.StatusUnauthorized
	case domain.KindForbidden:
		return http.StatusForbidden
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindConflict:
		if conflictCode != 0 {
			return conflictCode
		}
		return http.StatusConflict
	case domain.KindBadRequest:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func bind[I any](c *gin.Context, b Binder, in *I) error {
	var err error
	switch b {
	case BindJSON:
		err = c.ShouldBindJSON(in)
	case BindQuery:
		err = c.ShouldBindQuery(in)
	case BindQueryJSON:
		// query 只映射不校验，JSON 绑定时对整个结构体校验
		if err = binding.MapFormWithTag(in, c.Request.URL.Query(), "form"); err == nil {
			err = c.ShouldBindJSON(in)
		}
	default: // BindNone: 不绑定
	}
	if err == nil {
		return nil
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return &AErr{Code: resp.CodePayloadTooLarge, Msg: "request body too large", Err: err}
	}
	return &AErr{Code: resp.CodeBadRequest, Msg: err.Error(), Err: err}
}

// RegisterAction 在分组下注册动作接口
func RegisterAction[I any, O any](g *gin.RouterGroup, a Action[I, O]) {
	h := func(c *gin.Context) {
		var in I
		if err := bind(c, a.Binder, &in); err != nil {
			fail(c, err, a.ConflictCode)
			return
		}
		out, err := a.Handler(c, &in)
		if err != nil {
			fail(c, err, a.ConflictCode)
			return
		}
		c.JSON(http.StatusOK, resp.OK(out))
	}

	switch strings.ToUpper(a.Method) {
	case http.MethodGet:
		g.GET(a.Path, h)
	case http.MethodPut:
		g.PUT(a.Path, h)
	case http.MethodDelete:
		g.DELETE(a.Path, h)
	default: // 默认 POST
		g.POST(a.Path, h)
	}
}

func fail(c *gin.Context, err error, conflictCode int) {
	code := StatusOf(err, conflictCode)
	msg := err.Error()
	if code >= http.StatusInternalServerError {
		// 存储层错误细节只进日志
		_ = c.Error(err)
		msg = ""
	}
	c.JSON(code, resp.Error(code, msg))
}
