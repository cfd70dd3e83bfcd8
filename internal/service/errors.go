package service

import "errors"

// 余额类错误需要让调用方能区分：前两个引导购买/升级，其余按普通失败处理
var (
	ErrInsufficientBalance  = errors.New("生成次数不足")
	ErrNoDownloadsRemaining = errors.New("下载次数已用完")
	ErrAccountNotFound      = errors.New("账户不存在")
	ErrConcurrentUpdate     = errors.New("账户并发修改过于频繁，请重试")
	ErrLockBusy             = errors.New("账户正在处理其他请求，请稍后重试")
	ErrInvalidAmount        = errors.New("数量必须大于0")
	ErrInvalidKind          = errors.New("不支持的流水类型")
	ErrInvalidAccountID     = errors.New("账户ID不能为空")

	ErrUnknownPack     = errors.New("套餐不存在")
	ErrOrderNotFound   = errors.New("订单不存在")
	ErrOrderNotPayable = errors.New("订单状态不允许该操作")
)
