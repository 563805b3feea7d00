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

func registerAgentsRoutes() {
	webserver.ApiGET("/agents", listAgents)
	webserver.ApiGET("/agents/:id", getAgent)
	webserver.ApiPOST("/agents", createAgent)
	webserver.ApiPUT("/agents/:id", updateAgent)
	webserver.ApiDELETE("/agents/:id", deleteAgent)
}

func listAgents(c echo.Context) error {
	page, pageSize := parsePagination(c)
	db := GetDB(c).Model(&domain.DeliveryAgent{})

	if tenantID := c.QueryParam("tenant_id"); tenantID != "" {
		db = db.Where("tenant_id = ?", tenantID)
	}
	if keyword := strings.TrimSpace(c.QueryParam("keyword")); keyword != "" {
		like := "%" + keyword + "%"
		db = db.Where("name LIKE ? OR phone LIKE ? OR wa_identity LIKE ?", like, like, like)
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "QUERY_FAILED", "Failed to count agents", err.Error())
	}

	var agents []domain.DeliveryAgent
	if err := db.Order("id DESC").
		Offset((page - 1) * pageSize).Limit(pageSize).
		Find(&agents).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "QUERY_FAILED", "Failed to list agents", err.Error())
	}
	return paged(c, agents, total, page, pageSize)
}

func getAgent(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid agent ID", nil)
	}
	var agent domain.DeliveryAgent
	err = GetDB(c).Where("id = ?", id).First(&agent).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fail(c, http.StatusNotFound, "NOT_FOUND", "Agent not found", nil)
	}
	if err != nil {
		return fail(c, http.StatusInternalServerError, "QUERY_FAILED", "Failed to load agent", err.Error())
	}
	return ok(c, agent)
}

type agentPayload struct {
	TenantID   int64  `json:"tenant_id,string"`
	Name       string `json:"name"`
	Phone      string `json:"phone"`
	WaIdentity string `json:"wa_identity"`
	Status     string `json:"status"`
}

func createAgent(c echo.Context) error {
	var payload agentPayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", err.Error())
	}
	payload.Name = strings.TrimSpace(payload.Name)
	if payload.TenantID == 0 || payload.Name == "" {
		return fail(c, http.StatusBadRequest, "MISSING_FIELDS", "tenant_id and name are required", nil)
	}

	var count int64
	GetDB(c).Model(&domain.Tenant{}).Where("id = ?", payload.TenantID).Count(&count)
	if count == 0 {
		return fail(c, http.StatusBadRequest, "UNKNOWN_TENANT", "Tenant does not exist", nil)
	}

	agent := domain.DeliveryAgent{
		ID:         common.UUIDint64(),
		TenantID:   payload.TenantID,
		Name:       payload.Name,
		Phone:      payload.Phone,
		WaIdentity: payload.WaIdentity,
		Status:     common.ENABLED,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	if payload.Status != "" {
		agent.Status = payload.Status
	}
	if err := GetDB(c).Create(&agent).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "CREATE_FAILED", "Failed to create agent", err.Error())
	}
	return ok(c, agent)
}

func updateAgent(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid agent ID", nil)
	}
	var payload agentPayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", err.Error())
	}

	var agent domain.DeliveryAgent
	err = GetDB(c).Where("id = ?", id).First(&agent).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fail(c, http.StatusNotFound, "NOT_FOUND", "Agent not found", nil)
	}
	if err != nil {
		return fail(c, http.StatusInternalServerError, "QUERY_FAILED", "Failed to load agent", err.Error())
	}

	updates := map[string]interface{}{"updated_at": time.Now()}
	if name := strings.TrimSpace(payload.Name); name != "" {
		updates["name"] = name
	}
	if payload.Phone != "" {
		updates["phone"] = payload.Phone
	}
	if payload.WaIdentity != "" {
		updates["wa_identity"] = payload.WaIdentity
	}
	if payload.Status != "" {
		updates["status"] = payload.Status
	}
	if err := GetDB(c).Model(&domain.DeliveryAgent{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "UPDATE_FAILED", "Failed to update agent", err.Error())
	}
	GetDB(c).Where("id = ?", id).First(&agent)
	return ok(c, agent)
}

func deleteAgent(c echo.Context) error {
	id, err := parseIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid agent ID", nil)
	}
	if err := GetDB(c).Where("id = ?", id).Delete(&domain.DeliveryAgent{}).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "DELETE_FAILED", "Failed to delete agent", err.Error())
	}
	return ok(c, map[string]interface{}{"deleted": true})
}
