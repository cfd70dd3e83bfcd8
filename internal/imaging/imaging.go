// Package imaging 把生成的涂色图规范化为可打印的黑白 PNG
//
// 所有入口都是软失败：解码失败返回原图，二值化结果无法编码时返回只加了边距的图。
// 失败原因保存在 Result.Err 里供日志和指标使用，不会向调用方抛出。
package imaging

import (
	"errors"
)

const (
	// LuminanceThreshold 亮度低于该值的像素变黑，其余变白
	LuminanceThreshold = 160
	// PrintMargin 首次生成时的打印边距，内容缩放到 85% 居中
	PrintMargin = 0.15
)

var (
	ErrUnsupportedSource = errors.New("不支持的图片来源")
	ErrFetchFailed       = errors.New("获取图片失败")
	ErrBlockedAddress    = errors.New("不允许访问内网地址")
	ErrSourceTooLarge    = errors.New("图片超过大小限制")
	ErrDecodeFailed      = errors.New("图片解码失败")
	ErrInvalidMargin     = errors.New("边距比例必须在 [0, 1) 之间")
)

// Outcome 一次规范化的结果等级
type Outcome string

const (
	OutcomeOK       Outcome = "ok"       // 完整处理
	OutcomeDegraded Outcome = "degraded" // 只加了边距，没有二值化
	OutcomeFallback Outcome = "fallback" // 原样返回输入
)

// Result 规范化结果，DataURI 总是可用
type Result struct {
	DataURI string
	Outcome Outcome
	Err     error
}
