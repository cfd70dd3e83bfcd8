package handler

import (
	"errors"
	"log/slog"
	"strconv"

	"biblesketch/internal/imaging"
	"biblesketch/internal/model"
	"biblesketch/internal/service"
	"biblesketch/pkg/response"

	"github.com/gin-gonic/gin"
)

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	ledger     *service.LedgerService
	purchase   *service.PurchaseService
	normalizer *imaging.Normalizer
	logger     *slog.Logger
}

// NewHandler 创建处理器实例
func NewHandler(ledger *service.LedgerService, purchase *service.PurchaseService, normalizer *imaging.Normalizer, logger *slog.Logger) *Handler {
	return &Handler{
		ledger:     ledger,
		purchase:   purchase,
		normalizer: normalizer,
		logger:     logger,
	}
}

// fail 把服务层错误映射为业务码，未知错误不把细节返回给客户端
func (h *Handler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrInvalidKind),
		errors.Is(err, service.ErrInvalidAccountID):
		response.ParamError(c, err.Error())
	case errors.Is(err, service.ErrAccountNotFound):
		response.BusinessError(c, response.CodeAccountNotFound, err.Error())
	case errors.Is(err, service.ErrInsufficientBalance):
		response.BusinessError(c, response.CodeInsufficientBalance, err.Error())
	case errors.Is(err, service.ErrNoDownloadsRemaining):
		response.BusinessError(c, response.CodeNoDownloadsRemaining, err.Error())
	case errors.Is(err, service.ErrConcurrentUpdate), errors.Is(err, service.ErrLockBusy):
		response.BusinessError(c, response.CodeConcurrentUpdate, err.Error())
	case errors.Is(err, service.ErrOrderNotFound):
		response.BusinessError(c, response.CodeOrderNotFound, err.Error())
	case errors.Is(err, service.ErrOrderNotPayable):
		response.BusinessError(c, response.CodeOrderNotPayable, err.Error())
	case errors.Is(err, service.ErrUnknownPack):
		response.BusinessError(c, response.CodeUnknownPack, err.Error())
	default:
		h.logger.Error("请求处理失败", "method", c.Request.Method, "path", c.FullPath(), "error", err)
		response.ServerError(c, "服务器内部错误")
	}
}

func pagination(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	return page, pageSize
}

// ============================================================
// 账户相关接口
// ============================================================

type CreateAccountRequest struct {
	AccountID string `json:"account_id" binding:"required"`
}

// CreateAccount 创建账户并发放初始额度，重复调用返回已有账户
// POST /api/v1/accounts
func (h *Handler) CreateAccount(c *gin.Context) {
	var req CreateAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	account, err := h.ledger.CreateAccount(c.Request.Context(), req.AccountID)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, account)
}

// GetAccount 查询余额
// GET /api/v1/accounts/:id
func (h *Handler) GetAccount(c *gin.Context) {
	account, err := h.ledger.GetAccount(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, account)
}

// GetDownloadAllowance 只读查询，下载前用来决定是否弹出购买窗口
// GET /api/v1/accounts/:id/download-allowance
func (h *Handler) GetDownloadAllowance(c *gin.Context) {
	allowance, err := h.ledger.CheckDownloadAllowance(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, allowance)
}

type DeductCreditsRequest struct {
	Amount      int64  `json:"amount" binding:"required,gt=0"`
	Description string `json:"description"`
}

// DeductCredits 扣减生成次数
// POST /api/v1/accounts/:id/credits/deduct
func (h *Handler) DeductCredits(c *gin.Context) {
	var req DeductCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	if err := h.ledger.DeductCredits(c.Request.Context(), c.Param("id"), req.Amount, req.Description); err != nil {
		h.fail(c, err)
		return
	}
	h.respondAccount(c)
}

type GrantRequest struct {
	Amount      int64           `json:"amount" binding:"required,gt=0"`
	Kind        model.EntryKind `json:"kind" binding:"required"`
	Description string          `json:"description"`
}

// GrantCredits 增加生成次数
// POST /api/v1/accounts/:id/credits/grant
func (h *Handler) GrantCredits(c *gin.Context) {
	var req GrantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	if err := h.ledger.GrantCredits(c.Request.Context(), c.Param("id"), req.Amount, req.Kind, req.Description); err != nil {
		h.fail(c, err)
		return
	}
	h.respondAccount(c)
}

// RefundCredits 生成失败后退回次数
// POST /api/v1/accounts/:id/credits/refund
func (h *Handler) RefundCredits(c *gin.Context) {
	var req DeductCreditsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	if err := h.ledger.RefundCredits(c.Request.Context(), c.Param("id"), req.Amount, req.Description); err != nil {
		h.fail(c, err)
		return
	}
	h.respondAccount(c)
}

// DeductDownload 扣减一次下载，会员不扣
// POST /api/v1/accounts/:id/downloads/deduct
func (h *Handler) DeductDownload(c *gin.Context) {
	if err := h.ledger.DeductDownload(c.Request.Context(), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	h.respondAccount(c)
}

// GrantDownloads 增加下载次数
// POST /api/v1/accounts/:id/downloads/grant
func (h *Handler) GrantDownloads(c *gin.Context) {
	var req GrantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	if err := h.ledger.GrantDownloads(c.Request.Context(), c.Param("id"), req.Amount, req.Kind, req.Description); err != nil {
		h.fail(c, err)
		return
	}
	h.respondAccount(c)
}

type SetPremiumRequest struct {
	Premium *bool `json:"premium" binding:"required"`
}

// SetPremium 开通或取消会员
// PUT /api/v1/accounts/:id/premium
func (h *Handler) SetPremium(c *gin.Context) {
	var req SetPremiumRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	if err := h.ledger.SetPremium(c.Request.Context(), c.Param("id"), *req.Premium); err != nil {
		h.fail(c, err)
		return
	}
	h.respondAccount(c)
}

// ListEntries 查询流水
// GET /api/v1/accounts/:id/ledger?page=1&page_size=20
func (h *Handler) ListEntries(c *gin.Context) {
	page, pageSize := pagination(c)
	entries, total, err := h.ledger.ListEntries(c.Request.Context(), c.Param("id"), page, pageSize)
	if err != nil {
		h.fail(c, err)
		return
	}

	response.Page(c, entries, total, page, pageSize)
}

// respondAccount 变动成功后返回最新余额
func (h *Handler) respondAccount(c *gin.Context) {
	account, err := h.ledger.GetAccount(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	response.Success(c, account)
}
