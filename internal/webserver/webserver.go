// Package webserver hosts the JWT-protected admin and integration HTTP API.
package webserver

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/micha-dev87/shopify-logistics-app/internal/app"
	"github.com/micha-dev87/shopify-logistics-app/internal/domain"
	"github.com/micha-dev87/shopify-logistics-app/pkg/common"
)

type WebServer struct {
	appCtx app.AppContext
	root   *echo.Echo
	api    *echo.Group
}

var server *WebServer

// Init builds the echo server and the authenticated /api group.
func Init(appCtx app.AppContext) *WebServer {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAuthorization},
	}))

	s := &WebServer{appCtx: appCtx, root: e}
	e.POST("/login", s.handleLogin)
	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{"status": "ok"})
	})

	s.api = e.Group("/api")
	s.api.Use(echojwt.WithConfig(echojwt.Config{
		SigningKey: []byte(appCtx.Config().Web.Secret),
		ErrorHandler: func(c echo.Context, err error) error {
			return c.JSON(http.StatusUnauthorized, map[string]interface{}{
				"code":    "UNAUTHORIZED",
				"message": "Missing or invalid token",
			})
		},
	}))

	server = s
	return s
}

// Start blocks serving HTTP until the listener fails.
func (s *WebServer) Start() error {
	addr := fmt.Sprintf("%s:%d", s.appCtx.Config().Web.Host, s.appCtx.Config().Web.Port)
	zap.L().Info("webserver listening", zap.String("addr", addr))
	return s.root.Start(addr)
}

// AppCtx returns the application context bound at Init.
func AppCtx() app.AppContext {
	return server.appCtx
}

// DB is a shortcut to the application database handle.
func DB() *gorm.DB {
	return server.appCtx.DB()
}

func ApiGET(path string, h echo.HandlerFunc) {
	server.api.GET(path, h)
}

func ApiPOST(path string, h echo.HandlerFunc) {
	server.api.POST(path, h)
}

func ApiPUT(path string, h echo.HandlerFunc) {
	server.api.PUT(path, h)
}

func ApiDELETE(path string, h echo.HandlerFunc) {
	server.api.DELETE(path, h)
}

// PubPOST registers an unauthenticated endpoint (storefront webhooks).
func PubPOST(path string, h echo.HandlerFunc) {
	server.root.POST(path, h)
}

type loginPayload struct {
	Username string `json:"username" form:"username"`
	Password string `json:"password" form:"password"`
}

func (s *WebServer) handleLogin(c echo.Context) error {
	var payload loginPayload
	if err := c.Bind(&payload); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"code": "INVALID_REQUEST", "message": "Unable to parse login parameters",
		})
	}
	username := strings.TrimSpace(payload.Username)
	if username == "" || payload.Password == "" {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"code": "MISSING_FIELDS", "message": "username and password are required",
		})
	}

	var opr domain.SysOpr
	err := s.appCtx.DB().Where("username = ? and status = ?", username, common.ENABLED).First(&opr).Error
	if err != nil || opr.Password != common.Sha256HashWithSalt(payload.Password, common.GetSecretSalt()) {
		zap.L().Warn("login rejected", zap.String("username", username), zap.String("ip", c.RealIP()))
		return c.JSON(http.StatusUnauthorized, map[string]interface{}{
			"code": "BAD_CREDENTIALS", "message": "Invalid username or password",
		})
	}

	claims := jwt.MapClaims{
		"uid":   opr.ID,
		"uname": opr.Username,
		"level": opr.Level,
		"exp":   time.Now().Add(24 * time.Hour).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.appCtx.Config().Web.Secret))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]interface{}{
			"code": "TOKEN_ERROR", "message": "Failed to issue token",
		})
	}

	s.appCtx.DB().Model(&domain.SysOpr{}).Where("id = ?", opr.ID).
		Update("last_login", time.Now())
	s.appCtx.DB().Create(&domain.SysOprLog{
		ID:        common.UUIDint64(),
		OprName:   opr.Username,
		OprIp:     c.RealIP(),
		OptAction: "login",
		OptDesc:   "operator login",
		OptTime:   time.Now(),
	})

	return c.JSON(http.StatusOK, map[string]interface{}{
		"token": signed,
		"level": opr.Level,
	})
}
