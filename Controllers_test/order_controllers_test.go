package Controllers_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/yeremiapane/restaurant-sync/middlewares"
	"github.com/yeremiapane/restaurant-sync/models"
	"github.com/yeremiapane/restaurant-sync/router"
	"github.com/yeremiapane/restaurant-sync/utils"
)

var testSigner = utils.NewTokenSigner("controller-test-secret")

func setupOrderRouter(t *testing.T) (*gin.Engine, *gorm.DB) {
	gin.SetMode(gin.TestMode)
	db := setupTestDB(t)
	return router.SetupRouter(db, router.Options{Signer: testSigner}), db
}

func tokenFor(t *testing.T, role string) string {
	token, err := testSigner.GenerateToken(1, role)
	require.NoError(t, err)
	return token
}

func doJSON(r *gin.Engine, method, path, token string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var resp map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &resp)
	return w, resp
}

func TestCreateAndListOrders(t *testing.T) {
	r, _ := setupOrderRouter(t)
	token := tokenFor(t, models.RoleCashier)

	payload := map[string]interface{}{
		"client": "Juan",
		"items": []map[string]interface{}{
			{"name": "Lomo saltado", "quantity": 2, "price": 12.5},
		},
	}
	w, resp := doJSON(r, http.MethodPost, "/api/orders", token, payload)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, true, resp["status"])

	data := resp["data"].(map[string]interface{})
	assert.NotEmpty(t, data["id"])
	assert.Equal(t, "pending", data["status"])
	assert.Equal(t, "unpaid", data["payment"])
	assert.Equal(t, 25.0, data["total"])
	assert.Equal(t, models.SourceStaff, data["source"])

	w, resp = doJSON(r, http.MethodGet, "/api/orders", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := resp["data"].([]interface{})
	require.Len(t, list, 1)
	assert.Equal(t, data["id"], list[0].(map[string]interface{})["id"])
}

func TestCreateOrderValidation(t *testing.T) {
	r, _ := setupOrderRouter(t)
	token := tokenFor(t, models.RoleCashier)

	w, resp := doJSON(r, http.MethodPost, "/api/orders", token, map[string]interface{}{"client": "Juan"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, false, resp["status"])

	w, _ = doJSON(r, http.MethodPost, "/api/orders", "", map[string]interface{}{"client": "Juan"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = doJSON(r, http.MethodPost, "/api/orders", tokenFor(t, models.RolePacker), map[string]interface{}{"client": "Juan"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestMenuCheckout(t *testing.T) {
	r, db := setupOrderRouter(t)

	payload := map[string]interface{}{
		"client":         "Mesa 4",
		"items":          []map[string]interface{}{{"name": "Chicha", "quantity": 1, "price": 4}},
		"payment_method": "yape",
	}
	w, _ := doJSON(r, http.MethodPost, "/api/menu/orders", "", payload)
	assert.Equal(t, http.StatusBadRequest, w.Code, "table_id is required")

	payload["table_id"] = "T4"
	w, resp := doJSON(r, http.MethodPost, "/api/menu/orders", "", payload)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	data := resp["data"].(map[string]interface{})
	assert.Equal(t, models.SourceCustomerMenu, data["source"])
	assert.Nil(t, data["payment_method"], "payment is settled at the counter")

	var order models.Order
	require.NoError(t, db.First(&order, "id = ?", data["id"]).Error)
	assert.Equal(t, "T4", order.TableID)
}

func TestMenuCheckoutIgnoresClientID(t *testing.T) {
	r, _ := setupOrderRouter(t)
	cashier := tokenFor(t, models.RoleCashier)

	w, _ := doJSON(r, http.MethodPost, "/api/orders", cashier, map[string]interface{}{
		"id":     "order-9",
		"client": "Rosa",
		"phone":  "999111222",
		"items":  []map[string]interface{}{{"name": "Ceviche", "quantity": 1, "price": 18}},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w, resp := doJSON(r, http.MethodPost, "/api/menu/orders", "", map[string]interface{}{
		"id":       "order-9",
		"client":   "Mesa 2",
		"table_id": "T2",
		"items":    []map[string]interface{}{{"name": "Chicha", "quantity": 1, "price": 4}},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	data := resp["data"].(map[string]interface{})
	assert.NotEqual(t, "order-9", data["id"])
	assert.Equal(t, "Mesa 2", data["client"])
	assert.Nil(t, data["phone"])

	_, resp = doJSON(r, http.MethodGet, "/api/orders", cashier, nil)
	assert.Len(t, resp["data"], 2)
}

func TestCheckoutAndLoginHaveSeparateLimits(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := setupTestDB(t)
	r := router.SetupRouter(db, router.Options{
		Signer:          testSigner,
		Limiter:         middlewares.NewRateLimiter(2, time.Hour),
		CheckoutLimiter: middlewares.NewRateLimiter(3, time.Hour),
	})

	checkout := map[string]interface{}{
		"client":   "Mesa 1",
		"table_id": "T1",
		"items":    []map[string]interface{}{{"name": "Chicha", "quantity": 1, "price": 4}},
	}
	for i := 0; i < 3; i++ {
		w, _ := doJSON(r, http.MethodPost, "/api/menu/orders", "", checkout)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	}
	w, _ := doJSON(r, http.MethodPost, "/api/menu/orders", "", checkout)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	login := map[string]string{"email": "admin@example.com", "password": "secret123"}
	w, _ = doJSON(r, http.MethodPost, "/login", "", login)
	assert.Equal(t, http.StatusOK, w.Code, "checkouts do not use up the login budget")
	w, _ = doJSON(r, http.MethodPost, "/login", "", login)
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = doJSON(r, http.MethodPost, "/login", "", login)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestUpdateStatusAndPayment(t *testing.T) {
	r, _ := setupOrderRouter(t)
	cashier := tokenFor(t, models.RoleCashier)
	packer := tokenFor(t, models.RolePacker)

	_, resp := doJSON(r, http.MethodPost, "/api/orders", cashier, map[string]interface{}{
		"id":     "order-1",
		"client": "Ana",
		"items":  []map[string]interface{}{{"name": "Ceviche", "quantity": 1, "price": 18}},
	})
	require.Equal(t, "order-1", resp["data"].(map[string]interface{})["id"])

	w, resp := doJSON(r, http.MethodPut, "/api/orders/order-1/status", packer, map[string]string{"status": "preparing"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "preparing", resp["data"].(map[string]interface{})["status"])

	w, _ = doJSON(r, http.MethodPut, "/api/orders/order-1/status", packer, map[string]string{"status": "cancelled"})
	assert.Equal(t, http.StatusForbidden, w.Code, "packers cannot cancel")

	w, _ = doJSON(r, http.MethodPut, "/api/orders/order-1/payment", packer, map[string]string{"payment": "paid"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, resp = doJSON(r, http.MethodPut, "/api/orders/order-1/payment", cashier, map[string]string{"payment": "paid", "payment_method": "tarjeta"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	data := resp["data"].(map[string]interface{})
	assert.Equal(t, "paid", data["payment"])
	assert.Equal(t, "tarjeta", data["payment_method"])

	w, _ = doJSON(r, http.MethodPut, "/api/orders/order-1/status", cashier, map[string]string{"status": "cancelled"})
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = doJSON(r, http.MethodPut, "/api/orders/order-1/status", cashier, map[string]string{"status": "ready"})
	assert.Equal(t, http.StatusBadRequest, w.Code, "cancelled orders stay cancelled")

	w, _ = doJSON(r, http.MethodPut, "/api/orders/missing/status", cashier, map[string]string{"status": "ready"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteOrders(t *testing.T) {
	r, db := setupOrderRouter(t)
	admin := tokenFor(t, models.RoleAdmin)
	cashier := tokenFor(t, models.RoleCashier)

	for _, id := range []string{"a", "b"} {
		w, _ := doJSON(r, http.MethodPost, "/api/orders", cashier, map[string]interface{}{
			"id":     id,
			"client": "Guest " + id,
			"items":  []map[string]interface{}{{"name": "Tea", "quantity": 1, "price": 2}},
		})
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w, _ := doJSON(r, http.MethodDelete, "/api/orders/a", cashier, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = doJSON(r, http.MethodDelete, "/api/orders/a", admin, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = doJSON(r, http.MethodDelete, "/api/orders/a", admin, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = doJSON(r, http.MethodDelete, "/api/orders", admin, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var count int64
	db.Model(&models.Order{}).Count(&count)
	assert.Zero(t, count)
}
