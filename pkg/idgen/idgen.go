package idgen

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
)

// Generator 用户主键生成器
type Generator interface {
	NextID() int64
}

// Snowflake 基于雪花算法的ID生成器，每个实例需配置不同节点号
type Snowflake struct {
	node *snowflake.Node
}

// NewSnowflake 创建雪花ID生成器
func NewSnowflake(node int64) (*Snowflake, error) {
	n, err := snowflake.NewNode(node)
	if err != nil {
		return nil, fmt.Errorf("创建雪花ID节点失败: %w", err)
	}
	return &Snowflake{node: n}, nil
}

func (s *Snowflake) NextID() int64 {
	return s.node.Generate().Int64()
}

// Token 生成32位随机字符串，用作默认账号或随机密码
func Token() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
