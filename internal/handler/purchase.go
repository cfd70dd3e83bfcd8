package handler

import (
	"biblesketch/internal/service"
	"biblesketch/pkg/response"

	"github.com/gin-gonic/gin"
)

type CreatePurchaseRequest struct {
	RequestID string `json:"request_id" binding:"required"` // 幂等ID，客户端生成
	AccountID string `json:"account_id" binding:"required"`
	PackID    string `json:"pack_id" binding:"required"`
}

// CreatePurchase 创建套餐订单
// POST /api/v1/purchases
func (h *Handler) CreatePurchase(c *gin.Context) {
	var req CreatePurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	order, err := h.purchase.CreateOrder(c.Request.Context(), &service.CreateOrderRequest{
		RequestID: req.RequestID,
		AccountID: req.AccountID,
		PackID:    req.PackID,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, order)
}

// GetPurchase 查询订单
// GET /api/v1/purchases/:order_no
func (h *Handler) GetPurchase(c *gin.Context) {
	order, err := h.purchase.GetOrder(c.Request.Context(), c.Param("order_no"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, order)
}

// FulfillPurchase 支付渠道回调后发放套餐，重复回调安全
// POST /api/v1/purchases/:order_no/fulfill
func (h *Handler) FulfillPurchase(c *gin.Context) {
	order, err := h.purchase.Fulfill(c.Request.Context(), c.Param("order_no"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, order)
}

// CancelPurchase 取消未支付订单
// POST /api/v1/purchases/:order_no/cancel
func (h *Handler) CancelPurchase(c *gin.Context) {
	if err := h.purchase.Cancel(c.Request.Context(), c.Param("order_no")); err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, gin.H{"message": "订单已取消"})
}

// ListPurchases 查询账户订单
// GET /api/v1/accounts/:id/purchases?page=1&page_size=20
func (h *Handler) ListPurchases(c *gin.Context) {
	page, pageSize := pagination(c)
	orders, total, err := h.purchase.ListOrders(c.Request.Context(), c.Param("id"), page, pageSize)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Page(c, orders, total, page, pageSize)
}
