package Controllers_test

import (
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/yeremiapane/restaurant-sync/database"
	"github.com/yeremiapane/restaurant-sync/models"
	"github.com/yeremiapane/restaurant-sync/utils"
)

// setupTestDB menggunakan SQLite in-memory untuk testing, satu database per test
func setupTestDB(t *testing.T) *gorm.DB {
	utils.InitLogger("warn")
	name := strings.ReplaceAll(t.Name(), "/", "_")
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, database.Migrate(db))
	require.NoError(t, database.SeedAdmin(db, "admin@example.com", "secret123"))
	return db
}

func TestRegisterAndLogin(t *testing.T) {
	r, _ := setupOrderRouter(t)

	// --- Login admin hasil seed ---
	w, resp := doJSON(r, http.MethodPost, "/login", "", map[string]string{
		"email":    "admin@example.com",
		"password": "secret123",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	data := resp["data"].(map[string]interface{})
	adminToken, ok := data["token"].(string)
	assert.True(t, ok)
	assert.Equal(t, models.RoleAdmin, data["user_role"])

	// --- Register kasir ---
	registerPayload := map[string]string{
		"name":     "Kasir Satu",
		"email":    "cashier@example.com",
		"password": "password123",
		"role":     "Cashier",
	}
	w, resp = doJSON(r, http.MethodPost, "/api/users", adminToken, registerPayload)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, true, resp["status"])
	assert.NotNil(t, resp["data"].(map[string]interface{})["user_id"])

	w, _ = doJSON(r, http.MethodPost, "/api/users", adminToken, registerPayload)
	assert.Equal(t, http.StatusConflict, w.Code)

	// --- Login kasir ---
	w, resp = doJSON(r, http.MethodPost, "/login", "", map[string]string{
		"email":    "cashier@example.com",
		"password": "password123",
	})
	require.Equal(t, http.StatusOK, w.Code)
	data = resp["data"].(map[string]interface{})
	assert.Equal(t, models.RoleCashier, data["user_role"])
	cashierToken := data["token"].(string)

	// kasir tidak boleh membuat user
	w, _ = doJSON(r, http.MethodPost, "/api/users", cashierToken, map[string]string{
		"name": "X", "email": "x@example.com", "password": "password123", "role": "admin",
	})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, resp = doJSON(r, http.MethodGet, "/api/profile", cashierToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "cashier@example.com", resp["data"].(map[string]interface{})["email"])
}

func TestRegisterRejectsUnknownRole(t *testing.T) {
	r, _ := setupOrderRouter(t)
	admin := tokenFor(t, models.RoleAdmin)

	w, _ := doJSON(r, http.MethodPost, "/api/users", admin, map[string]string{
		"name": "Chef", "email": "chef@example.com", "password": "password123", "role": "chef",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLoginWrongPassword(t *testing.T) {
	r, _ := setupOrderRouter(t)

	w, resp := doJSON(r, http.MethodPost, "/login", "", map[string]string{
		"email":    "admin@example.com",
		"password": "wrong-password",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, false, resp["status"])
}
