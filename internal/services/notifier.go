package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Daneel-Li/dgshop/internal/config"
	dgs "github.com/Daneel-Li/dgshop/internal/models"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Notifier 订单事件推送，失败不影响主流程
type Notifier interface {
	Publish(ctx context.Context, event dgs.OrderEvent) error
}

// MultiNotifier 依次推送到每个通道，汇总错误
type MultiNotifier []Notifier

func (m MultiNotifier) Publish(ctx context.Context, event dgs.OrderEvent) error {
	var all []error
	for _, n := range m {
		if err := n.Publish(ctx, event); err != nil {
			all = append(all, err)
		}
	}
	return errors.Join(all...)
}

// MqttPublisher 订单事件发布到 <prefix>/orders/<order_id>/<type>
type MqttPublisher struct {
	config   config.MqttConfig
	mqClient mqtt.Client
}

func NewMqttPublisher(cfg config.MqttConfig) *MqttPublisher {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "dgshop"
	}
	return &MqttPublisher{config: cfg}
}

// Start 连接 broker，断线自动重连
func (p *MqttPublisher) Start() error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(p.config.Broker)
	opts.SetClientID(p.config.ClientID)
	opts.SetUsername(p.config.Username)
	opts.SetPassword(p.config.Password)
	opts.SetKeepAlive(10 * time.Second)
	opts.SetAutoReconnect(true) // 开启自动重连
	opts.SetConnectRetry(true)
	opts.SetMaxReconnectInterval(5 * time.Second) //最多隔5秒重试一次
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		slog.Debug("mqtt 连接成功！")
	})
	opts.SetConnectionLostHandler(func(c mqtt.Client, err error) {
		slog.Warn("mqtt client disconnected. trying to reconnect...", "error", err)
	})

	p.mqClient = mqtt.NewClient(opts)
	if token := p.mqClient.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt client failed: %v", token.Error())
	}
	return nil
}

func (p *MqttPublisher) Stop() {
	if p.mqClient != nil {
		p.mqClient.Disconnect(250)
	}
}

func (p *MqttPublisher) Topic(event dgs.OrderEvent) string {
	return fmt.Sprintf("%s/orders/%d/%s", p.config.TopicPrefix, event.OrderID, event.Type)
}

func (p *MqttPublisher) Publish(ctx context.Context, event dgs.OrderEvent) error {
	if p.mqClient == nil {
		return fmt.Errorf("mqtt client not initialized")
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	token := p.mqClient.Publish(p.Topic(event), 1, false, payload)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WSNotifier 推送给下单用户在线的 websocket 终端，游客订单跳过
type WSNotifier struct {
	manager *WSManager
}

func NewWSNotifier(m *WSManager) *WSNotifier {
	return &WSNotifier{manager: m}
}

func (n *WSNotifier) Publish(_ context.Context, event dgs.OrderEvent) error {
	if event.UserID == nil {
		return nil
	}
	return n.manager.BroadcastToUser(*event.UserID, WSMessage{Type: string(event.Type), Data: event})
}

// Mailer 订单确认邮件，投递本身由外部邮件服务完成
type Mailer interface {
	SendOrderConfirmation(ctx context.Context, order *dgs.Order) error
}

// LogMailer 只记录日志，未接入邮件服务时使用
type LogMailer struct{}

func (LogMailer) SendOrderConfirmation(_ context.Context, order *dgs.Order) error {
	slog.Info("order confirmation", "order_id", order.ID, "to", order.CustomerEmail,
		"bytes", len(order.FulfillmentResult))
	return nil
}
