package idgen

import (
	"fmt"
	"sync"

	"github.com/bwmarrin/snowflake"
)

// 雪花 ID：41 位毫秒时间戳 + 10 位节点 + 12 位序列，同一节点内严格递增。
// 流水号和订单号都基于它生成，按字典序大致等于生成顺序。

var (
	mu   sync.Mutex
	node *snowflake.Node
)

func init() {
	// 2024-01-01 00:00:00 UTC
	snowflake.Epoch = 1704067200000
}

// Init 设置节点号（0-1023），多实例部署时每个实例必须不同
func Init(nodeID int64) error {
	mu.Lock()
	defer mu.Unlock()

	n, err := snowflake.NewNode(nodeID)
	if err != nil {
		return fmt.Errorf("初始化ID生成器失败: %w", err)
	}
	node = n
	return nil
}

func current() *snowflake.Node {
	mu.Lock()
	defer mu.Unlock()
	if node == nil {
		// 未显式初始化时使用节点 1
		node, _ = snowflake.NewNode(1)
	}
	return node
}

// NextID 生成下一个ID
func NextID() int64 {
	return current().Generate().Int64()
}

// GenerateOrderNo 生成购买订单号，例如 PUR1782649233645211648
func GenerateOrderNo() string {
	return "PUR" + current().Generate().String()
}

// GenerateEntryNo 生成流水号
func GenerateEntryNo() string {
	return "LED" + current().Generate().String()
}
