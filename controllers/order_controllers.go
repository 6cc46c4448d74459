package controllers

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yeremiapane/restaurant-sync/access"
	"github.com/yeremiapane/restaurant-sync/database"
	"github.com/yeremiapane/restaurant-sync/kds"
	"github.com/yeremiapane/restaurant-sync/models"
	"github.com/yeremiapane/restaurant-sync/utils"
)

type OrderController struct {
	Repo *database.OrderRepository
	Hub  *kds.Hub
}

func NewOrderController(repo *database.OrderRepository, hub *kds.Hub) *OrderController {
	return &OrderController{Repo: repo, Hub: hub}
}

// GetAllOrders -> semua order, terbaru dulu
func (oc *OrderController) GetAllOrders(c *gin.Context) {
	orders, err := oc.Repo.List(c.Request.Context())
	if err != nil {
		respondStoreError(c, err)
		return
	}
	utils.RespondJSON(c, http.StatusOK, "List of orders", orders)
}

// CreateOrder -> order dari staff. Re-sending a draft with a known id
// returns the stored order.
func (oc *OrderController) CreateOrder(c *gin.Context) {
	var draft models.Draft
	if err := c.ShouldBindJSON(&draft); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}
	if draft.Source == "" {
		draft.Source = models.SourceStaff
	}
	oc.create(c, draft)
}

// CreateMenuOrder -> checkout dari menu digital (tanpa login)
func (oc *OrderController) CreateMenuOrder(c *gin.Context) {
	var draft models.Draft
	if err := c.ShouldBindJSON(&draft); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}
	if draft.TableID == "" {
		utils.RespondError(c, http.StatusBadRequest, errors.New("table_id is required"))
		return
	}
	// ids and timestamps are the store's to assign for anonymous callers
	draft.ID = ""
	draft.CreatedAt = time.Time{}
	draft.Source = models.SourceCustomerMenu
	draft.PaymentMethod = ""
	oc.create(c, draft)
}

func (oc *OrderController) create(c *gin.Context, draft models.Draft) {
	order, err := oc.Repo.Create(c.Request.Context(), draft)
	if err != nil {
		respondStoreError(c, err)
		return
	}
	utils.InfoLogger.Printf("Order %s created (source=%s, total=%.2f)", order.ID, order.Source, order.Total)
	oc.Hub.BroadcastOrder(kds.EventOrderCreate, order)
	utils.RespondJSON(c, http.StatusCreated, "Order created", order)
}

// UpdateOrderStatus -> set status absolut. Cancelling needs the cancel
// permission on top of the status one.
func (oc *OrderController) UpdateOrderStatus(c *gin.Context) {
	var body struct {
		Status models.Status `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}
	if body.Status == models.StatusCancelled && !access.Permitted(c.GetString("role"), access.OpCancel) {
		utils.RespondError(c, http.StatusForbidden, access.ErrForbidden)
		return
	}

	order, err := oc.Repo.UpdateStatus(c.Request.Context(), c.Param("order_id"), body.Status)
	if err != nil {
		respondStoreError(c, err)
		return
	}
	oc.Hub.BroadcastOrder(kds.EventOrderUpdate, order)
	utils.RespondJSON(c, http.StatusOK, "Order status updated", order)
}

// UpdateOrderPayment -> paid/unpaid + metode
func (oc *OrderController) UpdateOrderPayment(c *gin.Context) {
	var body models.PaymentUpdate
	if err := c.ShouldBindJSON(&body); err != nil {
		utils.RespondError(c, http.StatusBadRequest, err)
		return
	}

	order, err := oc.Repo.UpdatePayment(c.Request.Context(), c.Param("order_id"), body)
	if err != nil {
		respondStoreError(c, err)
		return
	}
	oc.Hub.BroadcastOrder(kds.EventOrderUpdate, order)
	utils.RespondJSON(c, http.StatusOK, "Order payment updated", order)
}

func (oc *OrderController) DeleteOrder(c *gin.Context) {
	id := c.Param("order_id")
	if err := oc.Repo.Delete(c.Request.Context(), id); err != nil {
		respondStoreError(c, err)
		return
	}
	utils.InfoLogger.Printf("Order %s deleted", id)
	oc.Hub.BroadcastOrderDelete(id)
	utils.RespondJSON(c, http.StatusOK, "Order deleted", nil)
}

// DeleteAllOrders -> hapus semua order (admin)
func (oc *OrderController) DeleteAllOrders(c *gin.Context) {
	if err := oc.Repo.DeleteAll(c.Request.Context()); err != nil {
		respondStoreError(c, err)
		return
	}
	utils.InfoLogger.Println("All orders deleted")
	oc.Hub.BroadcastOrderDelete("")
	utils.RespondJSON(c, http.StatusOK, "All orders deleted", nil)
}

func respondStoreError(c *gin.Context, err error) {
	switch {
	case models.IsValidation(err):
		utils.RespondError(c, http.StatusBadRequest, err)
	case errors.Is(err, models.ErrNotFound):
		utils.RespondError(c, http.StatusNotFound, err)
	case errors.Is(err, models.ErrUnavailable):
		utils.ErrorLogger.Printf("Store error: %v", err)
		utils.RespondError(c, http.StatusServiceUnavailable, fmt.Errorf("order store unavailable"))
	default:
		utils.ErrorLogger.Printf("Unexpected error: %v", err)
		utils.RespondError(c, http.StatusInternalServerError, err)
	}
}
