package idgen

import (
	"fmt"
	"strings"
	"sync"

	"github.com/bwmarrin/snowflake"
)

// ============================================================================
// 订单号生成器
// ============================================================================
//
// 订单号同时是网关侧的 order_id，要求：
//   1. 全局唯一：一个 order_id 只对应一个网关订单
//   2. 短：QuickPay 限制 order_id 4-20 个字符
//   3. 不暴露业务量
//
// 格式：VP + 雪花ID的 36 进制大写，例如 VP2K7F3Q9ZX1C0
// 雪花 ID 结构：41 位毫秒时间戳 | 10 位节点号 | 12 位序列号
//
// ============================================================================

const orderIDPrefix = "VP"

var (
	node     *snowflake.Node
	nodeOnce sync.Once
	nodeErr  error
)

// Init 用 server.worker_id 初始化节点，多实例部署时每个实例必须不同
func Init(workerID int64) error {
	nodeOnce.Do(func() {
		snowflake.Epoch = 1704067200000 // 2024-01-01 00:00:00 UTC
		node, nodeErr = snowflake.NewNode(workerID)
		if nodeErr != nil {
			nodeErr = fmt.Errorf("初始化雪花节点失败: %w", nodeErr)
		}
	})
	return nodeErr
}

// NextID 生成下一个ID，未初始化时使用节点 1
func NextID() snowflake.ID {
	_ = Init(1)
	return node.Generate()
}

// GenerateOrderID 生成订单号
func GenerateOrderID() string {
	return orderIDPrefix + strings.ToUpper(NextID().Base36())
}
