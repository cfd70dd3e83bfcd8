package handler

import (
	"biblesketch/internal/imaging"
	"biblesketch/pkg/response"

	"github.com/gin-gonic/gin"
)

type ThresholdRequest struct {
	Source         string  `json:"source" binding:"required"` // data URI 或 http(s) URL
	MarginFraction float64 `json:"margin_fraction"`
}

type LosslessRequest struct {
	Source string `json:"source" binding:"required"`
}

type ImageResult struct {
	Image   string          `json:"image"`
	Outcome imaging.Outcome `json:"outcome"`
}

// ThresholdImage 黑白化，处理失败也返回可用的图片
// POST /api/v1/images/threshold
func (h *Handler) ThresholdImage(c *gin.Context) {
	var req ThresholdRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	res := h.normalizer.Threshold(c.Request.Context(), req.Source, req.MarginFraction)
	response.Success(c, ImageResult{Image: res.DataURI, Outcome: res.Outcome})
}

// LosslessImage 合成白底并转为 PNG
// POST /api/v1/images/lossless
func (h *Handler) LosslessImage(c *gin.Context) {
	var req LosslessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	res := h.normalizer.Lossless(c.Request.Context(), req.Source)
	response.Success(c, ImageResult{Image: res.DataURI, Outcome: res.Outcome})
}
