package adminapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/micha-dev87/shopify-logistics-app/internal/messaging"
	"github.com/micha-dev87/shopify-logistics-app/internal/webserver"
)

func registerMessagingRoutes() {
	webserver.ApiPOST("/messaging/tenants/:id/connect", postMessagingConnect)
	webserver.ApiGET("/messaging/tenants/:id/status", getMessagingStatus)
	webserver.ApiPOST("/messaging/tenants/:id/disconnect", postMessagingDisconnect)
	webserver.ApiPOST("/messaging/tenants/:id/logout", postMessagingLogout)
	webserver.ApiPOST("/messaging/tenants/:id/pairing-code", postMessagingPairingCode)
	webserver.ApiPOST("/messaging/tenants/:id/notifications", postMessagingNotification)
	webserver.ApiGET("/messaging/tenants/:id/rate-info", getMessagingRateInfo)
}

// postMessagingConnect starts (or resumes) the tenant's session. The call is
// fire-and-observe: poll the status endpoint for pairing material.
func postMessagingConnect(c echo.Context) error {
	tenantID, err := parseIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid tenant ID", nil)
	}
	if err := webserver.AppCtx().Sessions().Connect(c.Request().Context(), tenantID); err != nil {
		zap.L().Error("adminapi: connect failed", zap.Int64("tenant_id", tenantID), zap.Error(err))
		return fail(c, http.StatusInternalServerError, "CONNECT_FAILED", "Failed to start session", err.Error())
	}
	return ok(c, map[string]interface{}{"started": true})
}

func getMessagingStatus(c echo.Context) error {
	tenantID, err := parseIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid tenant ID", nil)
	}
	view, err := webserver.AppCtx().Sessions().Status(tenantID)
	if err != nil {
		return fail(c, http.StatusInternalServerError, "STATUS_FAILED", "Failed to read session status", err.Error())
	}
	return ok(c, view)
}

func postMessagingDisconnect(c echo.Context) error {
	tenantID, err := parseIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid tenant ID", nil)
	}
	if err := webserver.AppCtx().Sessions().Disconnect(tenantID); err != nil {
		return fail(c, http.StatusInternalServerError, "DISCONNECT_FAILED", "Failed to disconnect", err.Error())
	}
	return ok(c, map[string]interface{}{"disconnected": true})
}

// postMessagingLogout unlinks the device and deletes the stored identity.
func postMessagingLogout(c echo.Context) error {
	tenantID, err := parseIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid tenant ID", nil)
	}
	if err := webserver.AppCtx().Sessions().Logout(c.Request().Context(), tenantID); err != nil {
		return fail(c, http.StatusInternalServerError, "LOGOUT_FAILED", "Failed to log out", err.Error())
	}
	return ok(c, map[string]interface{}{"logged_out": true})
}

func postMessagingPairingCode(c echo.Context) error {
	tenantID, err := parseIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid tenant ID", nil)
	}
	var payload struct {
		PhoneNumber string `json:"phone_number"`
	}
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", err.Error())
	}
	if payload.PhoneNumber == "" {
		return fail(c, http.StatusBadRequest, "MISSING_FIELDS", "phone_number is required", nil)
	}

	code, err := webserver.AppCtx().Sessions().RequestPairingCode(
		c.Request().Context(), tenantID, payload.PhoneNumber)
	if err != nil {
		if err == messaging.ErrPairingTimeout {
			return fail(c, http.StatusGatewayTimeout, "PAIRING_TIMEOUT", "Pairing code request timed out", nil)
		}
		return fail(c, http.StatusInternalServerError, "PAIRING_FAILED", "Failed to request pairing code", err.Error())
	}
	return ok(c, map[string]interface{}{"pairing_code": code})
}

type notificationRequest struct {
	Recipient string                 `json:"recipient"`
	BillID    string                 `json:"bill_id"`
	Payload   map[string]interface{} `json:"payload"`
}

// postMessagingNotification dispatches one delivery notification with the
// three status buttons.
func postMessagingNotification(c echo.Context) error {
	tenantID, err := parseIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid tenant ID", nil)
	}
	var req notificationRequest
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", err.Error())
	}
	if req.Recipient == "" || req.BillID == "" {
		return fail(c, http.StatusBadRequest, "MISSING_FIELDS", "recipient and bill_id are required", nil)
	}
	payload, err := messaging.DecodeDeliveryPayload(req.Payload)
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_PAYLOAD", "Unable to decode payload", err.Error())
	}

	result, err := webserver.AppCtx().Dispatcher().SendDeliveryNotification(
		c.Request().Context(), tenantID, req.Recipient, payload, req.BillID)
	switch {
	case err == nil:
		return ok(c, result)
	case messaging.IsRateLimited(err):
		return c.JSON(http.StatusTooManyRequests, apiResponse{
			Code: "RATE_LIMITED", Message: err.Error(), Data: result,
		})
	case err == messaging.ErrNotConnected:
		return fail(c, http.StatusConflict, "NOT_CONNECTED", "Tenant has no live session", nil)
	default:
		return fail(c, http.StatusBadGateway, "SEND_FAILED", "Transport send failed", err.Error())
	}
}

func getMessagingRateInfo(c echo.Context) error {
	tenantID, err := parseIDParam(c, "id")
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_ID", "Invalid tenant ID", nil)
	}
	info, err := webserver.AppCtx().RateLimiter().CheckAndInfo(tenantID)
	if err != nil {
		return fail(c, http.StatusInternalServerError, "RATE_INFO_FAILED", "Failed to read quota", err.Error())
	}
	return ok(c, info)
}
