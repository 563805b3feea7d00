package adminapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"github.com/micha-dev87/shopify-logistics-app/internal/domain"
	"github.com/micha-dev87/shopify-logistics-app/internal/webserver"
	"github.com/micha-dev87/shopify-logistics-app/pkg/common"
)

func registerTenantsRoutes() {
	webserver.ApiGET("/tenants", listTenants)
	webserver.ApiGET("/tenants/:id", getTenant)
	webserver.ApiPOST("/tenants", createTenant)
	webserver.ApiPUT("/tenants/:id", updateTenant)
}

func listTenants(c echo.Context) error {
	page, pageSize := parsePagination(c)
	db := GetDB(c).Model(&domain.Tenant{})

	if keyword := strings.TrimSpace(c.QueryParam("keyword")); keyword != "" {
		like := "%" + keyword + "%"
		db = db.Where("name LIKE ? OR shop_domain LIKE ?", like, like)
	}
	if status := c.QueryParam("status"); status != "" {
		db = db.Where("status = ?", status)
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "QUERY_FAILED", "Failed to count tenants", err.Error())
	}

	var tenants []domain.Tenant
	if err := db.Order("id DESC").
		Offset((page - 1) * pageSize).Limit(pageSize).
		Find(&tenants).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "QUERY_FAILED", "Failed to list tenants", err.Error())
	}
	return paged(c, tenants, total, page, pageSize)
}

func getTenant(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid tenant ID", nil)
	}
	var tenant domain.Tenant
	err = GetDB(c).Where("id = ?", id).First(&tenant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fail(c, http.StatusNotFound, "NOT_FOUND", "Tenant not found", nil)
	}
	if err != nil {
		return fail(c, http.StatusInternalServerError, "QUERY_FAILED", "Failed to load tenant", err.Error())
	}
	return ok(c, tenant)
}

type tenantPayload struct {
	Name             string `json:"name"`
	ShopDomain       string `json:"shop_domain"`
	Status           string `json:"status"`
	MessagingEnabled *bool  `json:"messaging_enabled"`
	NotificationMode string `json:"notification_mode"`
}

func createTenant(c echo.Context) error {
	var payload tenantPayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", err.Error())
	}
	payload.Name = strings.TrimSpace(payload.Name)
	payload.ShopDomain = strings.TrimSpace(payload.ShopDomain)
	if payload.Name == "" || payload.ShopDomain == "" {
		return fail(c, http.StatusBadRequest, "MISSING_FIELDS", "name and shop_domain are required", nil)
	}

	var count int64
	GetDB(c).Model(&domain.Tenant{}).Where("shop_domain = ?", payload.ShopDomain).Count(&count)
	if count > 0 {
		return fail(c, http.StatusConflict, "DUPLICATE", "A tenant with this shop domain already exists", nil)
	}

	tenant := domain.Tenant{
		ID:               common.UUIDint64(),
		Name:             payload.Name,
		ShopDomain:       payload.ShopDomain,
		Status:           common.ENABLED,
		NotificationMode: payload.NotificationMode,
		CreatedAt:        time.Now(),
		UpdatedAt:        time.Now(),
	}
	if payload.Status != "" {
		tenant.Status = payload.Status
	}
	if payload.MessagingEnabled != nil {
		tenant.MessagingEnabled = *payload.MessagingEnabled
	}
	if err := GetDB(c).Create(&tenant).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "CREATE_FAILED", "Failed to create tenant", err.Error())
	}
	return ok(c, tenant)
}

func updateTenant(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid tenant ID", nil)
	}
	var payload tenantPayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", err.Error())
	}

	var tenant domain.Tenant
	err = GetDB(c).Where("id = ?", id).First(&tenant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fail(c, http.StatusNotFound, "NOT_FOUND", "Tenant not found", nil)
	}
	if err != nil {
		return fail(c, http.StatusInternalServerError, "QUERY_FAILED", "Failed to load tenant", err.Error())
	}

	updates := map[string]interface{}{"updated_at": time.Now()}
	if name := strings.TrimSpace(payload.Name); name != "" {
		updates["name"] = name
	}
	if payload.Status != "" {
		updates["status"] = payload.Status
	}
	if payload.NotificationMode != "" {
		updates["notification_mode"] = payload.NotificationMode
	}
	if payload.MessagingEnabled != nil {
		updates["messaging_enabled"] = *payload.MessagingEnabled
	}
	if err := GetDB(c).Model(&domain.Tenant{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "UPDATE_FAILED", "Failed to update tenant", err.Error())
	}
	GetDB(c).Where("id = ?", id).First(&tenant)
	return ok(c, tenant)
}
