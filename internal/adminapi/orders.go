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

func registerOrdersRoutes() {
	webserver.ApiGET("/orders", listOrders)
	webserver.ApiGET("/orders/:billID", getOrder)
	webserver.ApiPOST("/orders/:billID/status", postOrderStatus)
	// Storefront webhook: authenticated by the shared webhook token instead
	// of an operator JWT.
	webserver.PubPOST("/webhooks/orders", postOrderWebhook)
}

func listOrders(c echo.Context) error {
	page, pageSize := parsePagination(c)
	db := GetDB(c).Model(&domain.DeliveryOrder{})

	if tenantID := c.QueryParam("tenant_id"); tenantID != "" {
		db = db.Where("tenant_id = ?", tenantID)
	}
	if status := c.QueryParam("status"); status != "" {
		db = db.Where("status = ?", status)
	}
	if keyword := strings.TrimSpace(c.QueryParam("keyword")); keyword != "" {
		like := "%" + keyword + "%"
		db = db.Where("bill_id LIKE ? OR order_name LIKE ? OR customer_name LIKE ?", like, like, like)
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "QUERY_FAILED", "Failed to count orders", err.Error())
	}

	var orders []domain.DeliveryOrder
	if err := db.Order("id DESC").
		Offset((page - 1) * pageSize).Limit(pageSize).
		Find(&orders).Error; err != nil {
		return fail(c, http.StatusInternalServerError, "QUERY_FAILED", "Failed to list orders", err.Error())
	}
	return paged(c, orders, total, page, pageSize)
}

func getOrder(c echo.Context) error {
	billID := c.Param("billID")
	order, err := webserver.AppCtx().Orders().GetByBillID(billID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fail(c, http.StatusNotFound, "NOT_FOUND", "Order not found", nil)
	}
	if err != nil {
		return fail(c, http.StatusInternalServerError, "QUERY_FAILED", "Failed to load order", err.Error())
	}
	return ok(c, order)
}

// postOrderStatus applies a manual transition from the dashboard. The
// recorded source distinguishes it from button callbacks.
func postOrderStatus(c echo.Context) error {
	billID := c.Param("billID")
	var payload struct {
		Status string `json:"status"`
	}
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", err.Error())
	}
	if payload.Status == "" {
		return fail(c, http.StatusBadRequest, "MISSING_FIELDS", "status is required", nil)
	}
	if err := webserver.AppCtx().Orders().ApplyTransition(billID, payload.Status, "admin_api"); err != nil {
		return fail(c, http.StatusBadRequest, "TRANSITION_FAILED", "Failed to apply transition", err.Error())
	}
	order, _ := webserver.AppCtx().Orders().GetByBillID(billID)
	return ok(c, order)
}

type orderWebhookPayload struct {
	TenantID        int64  `json:"tenant_id,string"`
	BillID          string `json:"bill_id"`
	OrderName       string `json:"order_name"`
	CustomerName    string `json:"customer_name"`
	CustomerPhone   string `json:"customer_phone"`
	Address         string `json:"address"`
	ProductTitle    string `json:"product_title"`
	ProductQuantity int    `json:"product_quantity"`
	AgentID         int64  `json:"agent_id,string"`
}

func postOrderWebhook(c echo.Context) error {
	token := c.Request().Header.Get("X-Webhook-Token")
	if token == "" || token != webserver.AppCtx().Config().Web.WebhookToken {
		return fail(c, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid webhook token", nil)
	}

	var payload orderWebhookPayload
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", err.Error())
	}
	if payload.TenantID == 0 || payload.BillID == "" {
		return fail(c, http.StatusBadRequest, "MISSING_FIELDS", "tenant_id and bill_id are required", nil)
	}

	order := domain.DeliveryOrder{
		ID:              common.UUIDint64(),
		TenantID:        payload.TenantID,
		BillID:          payload.BillID,
		OrderName:       payload.OrderName,
		CustomerName:    payload.CustomerName,
		CustomerPhone:   payload.CustomerPhone,
		Address:         payload.Address,
		ProductTitle:    payload.ProductTitle,
		ProductQuantity: payload.ProductQuantity,
		AgentID:         payload.AgentID,
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}
	if err := webserver.AppCtx().Orders().UpsertFromWebhook(&order); err != nil {
		return fail(c, http.StatusInternalServerError, "UPSERT_FAILED", "Failed to store order", err.Error())
	}
	stored, _ := webserver.AppCtx().Orders().GetByBillID(payload.BillID)
	return ok(c, stored)
}
