package notification

import (
	"context"
	"encoding/json"
	"fmt"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"go.uber.org/zap"
)

// LarkConfig holds Lark messaging credentials and the target chat.
type LarkConfig struct {
	AppID     string
	AppSecret string
	ReceiveID string
}

// LarkChannel delivers decision notifications as Lark text messages.
type LarkChannel struct {
	client    *lark.Client
	receiveID string
	logger    *zap.Logger
}

// NewLarkChannel creates a Lark message channel.
func NewLarkChannel(cfg LarkConfig, logger *zap.Logger) *LarkChannel {
	client := lark.NewClient(cfg.AppID, cfg.AppSecret,
		lark.WithLogLevel(larkcore.LogLevelInfo),
		lark.WithEnableTokenCache(true),
	)
	return &LarkChannel{
		client:    client,
		receiveID: cfg.ReceiveID,
		logger:    logger,
	}
}

// Send delivers text to the configured chat and returns the message id.
func (c *LarkChannel) Send(ctx context.Context, text string) (string, error) {
	content, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return "", fmt.Errorf("failed to encode message content: %w", err)
	}

	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType(larkim.ReceiveIdTypeOpenId).
		Body(larkim.NewCreateMessageReqBodyBuilder().
			ReceiveId(c.receiveID).
			MsgType(larkim.MsgTypeText).
			Content(string(content)).
			Build()).
		Build()

	resp, err := c.client.Im.Message.Create(ctx, req)
	if err != nil {
		c.logger.Error("Failed to send Lark message",
			zap.String("receive_id", c.receiveID),
			zap.Error(err))
		return "", fmt.Errorf("failed to send message: %w", err)
	}

	if !resp.Success() {
		c.logger.Error("Lark API returned failure",
			zap.String("receive_id", c.receiveID),
			zap.Int("code", resp.Code),
			zap.String("msg", resp.Msg))
		return "", fmt.Errorf("API error: code=%d, msg=%s", resp.Code, resp.Msg)
	}

	messageID := ""
	if resp.Data != nil && resp.Data.MessageId != nil {
		messageID = *resp.Data.MessageId
	}

	c.logger.Info("Lark message sent",
		zap.String("message_id", messageID),
		zap.String("receive_id", c.receiveID))
	return messageID, nil
}
