package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Daneel-Li/dgshop/internal/services"
	"github.com/Daneel-Li/dgshop/pkg/utils"
)

type Middleware func(http.HandlerFunc) http.HandlerFunc

// WithMidWare 列表中靠后的中间件先执行
func WithMidWare(finalHandler http.HandlerFunc, middlwares ...Middleware) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f := finalHandler
		for _, m := range middlwares {
			f = m(f)
		}
		f(w, r)
	}
}

type identityKey struct{}

// IdentityFromContext 未登录时返回 nil
func IdentityFromContext(ctx context.Context) *services.Identity {
	id, _ := ctx.Value(identityKey{}).(*services.Identity)
	return id
}

func WithIdentity(ctx context.Context, id *services.Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

type Auth struct {
	jwt services.JWTService
}

func NewAuth(jwt services.JWTService) *Auth {
	return &Auth{jwt: jwt}
}

func bearerToken(r *http.Request) string {
	return strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
}

// JWTMiddleware 必须携带有效 token
func (a *Auth) JWTMiddleware(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tokenString := bearerToken(r)
		if len(tokenString) < 1 {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		id, err := a.jwt.ValidateToken(tokenString)
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		slog.Debug(fmt.Sprintf("[%s] %s userid:[%v] role:[%s]", r.Method, r.URL.Path, id.UserID, id.Role))
		h.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
	}
}

// OptionalJWT 游客下单允许不带 token，带了就必须有效
func (a *Auth) OptionalJWT(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if bearerToken(r) == "" {
			h.ServeHTTP(w, r)
			return
		}
		a.JWTMiddleware(h)(w, r)
	}
}

// RequireRole 需放在 JWTMiddleware 之后执行
func RequireRole(role string) Middleware {
	return func(h http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			id := IdentityFromContext(r.Context())
			if id == nil {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			if id.Role != role {
				http.Error(w, "Permission denied", http.StatusForbidden)
				return
			}
			h.ServeHTTP(w, r)
		}
	}
}

// RateLimit 按客户端 IP 固定窗口限流，limit<=0 不限。
// 转发头只在直连方是可信代理时采信
func RateLimit(store services.CounterStore, proxies utils.TrustedProxies, limit int64, window time.Duration) Middleware {
	return func(h http.HandlerFunc) http.HandlerFunc {
		if limit <= 0 {
			return h
		}
		return func(w http.ResponseWriter, r *http.Request) {
			key := "ratelimit:" + proxies.ClientIP(r)
			n, err := store.Incr(r.Context(), key, window)
			if err != nil {
				// 计数器不可用时放行
				slog.Warn("rate limit counter failed", "key", key, "error", err)
				h.ServeHTTP(w, r)
				return
			}
			if n > limit {
				w.Header().Set("Retry-After", fmt.Sprintf("%d", int(window.Seconds())))
				http.Error(w, "Too many requests", http.StatusTooManyRequests)
				return
			}
			h.ServeHTTP(w, r)
		}
	}
}
