package httptransport

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailfree/backend/internal/domain"
	"mailfree/backend/internal/ingest"
)

// WebhookTokenHeader 是入站 webhook 的共享密钥头
const WebhookTokenHeader = "X-Webhook-Token"

const (
	msgWebhookUnauthorized = "未授权"
	msgIngestFailed        = "处理邮件失败"
)

// Receive 接收上游转发的入站邮件
//
// @Summary 入站邮件 webhook
// @Tags receive
// @Accept json
// @Param X-Webhook-Token header string false "共享密钥"
// @Router /receive [post]
func (h *Handler) Receive(c *gin.Context) {
	if h.webhookToken != "" {
		got := c.GetHeader(WebhookTokenHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.webhookToken)) != 1 {
			h.metrics.RecordAuthDenied("webhook", "bad_token")
			c.String(http.StatusUnauthorized, msgWebhookUnauthorized)
			return
		}
	}
	if h.demo || h.ingester == nil {
		c.String(http.StatusForbidden, MsgDemoNoOperate)
		return
	}

	var in domain.InboundMail
	if err := c.ShouldBindJSON(&in); err != nil {
		h.logger.Warn("decode inbound mail failed", zap.Error(err))
		c.String(http.StatusInternalServerError, msgIngestFailed)
		return
	}

	ctx := ingest.WithTrace(c.Request.Context(), c.GetHeader("X-Request-ID"))
	id, err := h.ingester.Ingest(ctx, in)
	if err != nil {
		h.logger.Error("webhook ingest failed", zap.String("to", in.To), zap.Error(err))
		c.String(http.StatusInternalServerError, msgIngestFailed)
		return
	}
	h.logger.Debug("webhook mail stored", zap.Int64("id", id), zap.String("to", in.To))
	c.JSON(http.StatusOK, gin.H{"success": true})
}
