// Package adminapi exposes the JWT-protected management API: tenant and
// agent administration, messaging session control, and order webhooks.
package adminapi

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/micha-dev87/shopify-logistics-app/internal/webserver"
)

// InitRouter registers every admin API route group. Call after
// webserver.Init.
func InitRouter() {
	registerTenantsRoutes()
	registerAgentsRoutes()
	registerOrdersRoutes()
	registerMessagingRoutes()
}

func GetDB(c echo.Context) *gorm.DB {
	return webserver.DB()
}

type apiResponse struct {
	Code    string      `json:"code"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Detail  interface{} `json:"detail,omitempty"`
}

func ok(c echo.Context, data interface{}) error {
	return c.JSON(http.StatusOK, apiResponse{Code: "OK", Data: data})
}

func fail(c echo.Context, status int, code, message string, detail interface{}) error {
	return c.JSON(status, apiResponse{Code: code, Message: message, Detail: detail})
}

type pagedResult struct {
	Items    interface{} `json:"items"`
	Total    int64       `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
}

func paged(c echo.Context, items interface{}, total int64, page, pageSize int) error {
	return c.JSON(http.StatusOK, apiResponse{Code: "OK", Data: pagedResult{
		Items:    items,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	}})
}

func parsePagination(c echo.Context) (page, pageSize int) {
	page, _ = strconv.Atoi(c.QueryParam("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ = strconv.Atoi(c.QueryParam("page_size"))
	if pageSize < 1 || pageSize > 500 {
		pageSize = 50
	}
	return page, pageSize
}

func parseIDParam(c echo.Context, name string) (int64, error) {
	return strconv.ParseInt(c.Param(name), 10, 64)
}
