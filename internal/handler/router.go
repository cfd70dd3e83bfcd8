package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRouter 配置路由
func SetupRouter(h *Handler, gatherer prometheus.Gatherer, maxBodyBytes int64, logger *slog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(RecoveryMiddleware(logger))
	r.Use(LoggerMiddleware(logger))
	r.Use(CORSMiddleware())
	r.Use(BodyLimitMiddleware(maxBodyBytes))

	api := r.Group("/api/v1")
	{
		accounts := api.Group("/accounts")
		{
			accounts.POST("", h.CreateAccount)
			accounts.GET("/:id", h.GetAccount)
			accounts.GET("/:id/download-allowance", h.GetDownloadAllowance)
			accounts.POST("/:id/credits/deduct", h.DeductCredits)
			accounts.POST("/:id/credits/grant", h.GrantCredits)
			accounts.POST("/:id/credits/refund", h.RefundCredits)
			accounts.POST("/:id/downloads/deduct", h.DeductDownload)
			accounts.POST("/:id/downloads/grant", h.GrantDownloads)
			accounts.PUT("/:id/premium", h.SetPremium)
			accounts.GET("/:id/ledger", h.ListEntries)
			accounts.GET("/:id/purchases", h.ListPurchases)
		}

		purchases := api.Group("/purchases")
		{
			purchases.POST("", h.CreatePurchase)
			purchases.GET("/:order_no", h.GetPurchase)
			purchases.POST("/:order_no/fulfill", h.FulfillPurchase)
			purchases.POST("/:order_no/cancel", h.CancelPurchase)
		}

		images := api.Group("/images")
		{
			images.POST("/threshold", h.ThresholdImage)
			images.POST("/lossless", h.LosslessImage)
		}
	}

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return r
}
