package handlers

import (
	"context"
	"errors"
	"io"

	"iam/internal/services"
	"iam/pkg/queue"
	"iam/pkg/response"

	"github.com/gin-gonic/gin"
)

const maxMessageSize = 1 << 20

// MessageIngest 用户同步消息投递
type MessageIngest interface {
	Publish(ctx context.Context, body []byte) (string, error)
	Stats(ctx context.Context) (*queue.Stats, error)
}

type IngestHandler struct {
	pipeline MessageIngest
}

func NewIngestHandler(pipeline MessageIngest) *IngestHandler {
	return &IngestHandler{pipeline: pipeline}
}

// Publish 投递一条用户同步消息，原样入队，异步处理
func (h *IngestHandler) Publish(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxMessageSize))
	if err != nil {
		response.BadRequest(c, "读取消息失败")
		return
	}
	id, err := h.pipeline.Publish(c.Request.Context(), body)
	if err != nil {
		if errors.Is(err, services.ErrInvalidMessage) {
			response.BadRequest(c, err.Error())
			return
		}
		response.ServerError(c, "消息投递失败")
		return
	}
	response.Success(c, gin.H{"message_id": id})
}

// Stats 队列深度
func (h *IngestHandler) Stats(c *gin.Context) {
	stats, err := h.pipeline.Stats(c.Request.Context())
	if err != nil {
		response.ServerError(c, "获取队列状态失败")
		return
	}
	response.Success(c, stats)
}
