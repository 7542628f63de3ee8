package consumer

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// 推送认证：broker 推送进程持有共享密钥，对每次 POST 签发短期
// HS256 令牌；端点只接受 type=push 的有效令牌。密钥为空时退化为
// 无认证模式（本地开发）。

// pushClaims 推送令牌声明
type pushClaims struct {
	jwt.RegisteredClaims
	Type string `json:"type,omitempty"` // "push"
}

// SignPushToken 为一次推送请求签发令牌
func SignPushToken(secret, subject string, ttl time.Duration) (string, error) {
	claims := pushClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
		Type: "push",
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// parsePushToken 解析并验证推送令牌
func parsePushToken(secret, tokenString string) (*pushClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &pushClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*pushClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// PushAuthMiddleware 创建推送端点认证中间件
// secret 为空时直接放行所有请求（无认证模式）
func PushAuthMiddleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				next.ServeHTTP(w, r)
				return
			}

			// 健康检查、指标与监控 WebSocket 放行
			if r.URL.Path == "/health" || r.URL.Path == "/metrics" ||
				strings.HasPrefix(r.URL.Path, "/ws/") {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, http.StatusUnauthorized, "missing authorization header")
				return
			}
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				writeError(w, http.StatusUnauthorized, "invalid authorization header")
				return
			}

			claims, err := parsePushToken(secret, parts[1])
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}
			if claims.Type != "push" {
				writeError(w, http.StatusForbidden, "invalid token type")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
