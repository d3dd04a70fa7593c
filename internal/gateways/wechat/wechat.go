// Package wechat 微信支付 Native 下单、回调验签解密与退款
package wechat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Daneel-Li/dgshop/internal/config"
	"github.com/Daneel-Li/dgshop/internal/errs"
	"github.com/Daneel-Li/dgshop/internal/gateways"
	"github.com/Daneel-Li/dgshop/internal/types"

	"github.com/wechatpay-apiv3/wechatpay-go/core"
	"github.com/wechatpay-apiv3/wechatpay-go/core/auth/verifiers"
	"github.com/wechatpay-apiv3/wechatpay-go/core/notify"
	"github.com/wechatpay-apiv3/wechatpay-go/core/option"
	"github.com/wechatpay-apiv3/wechatpay-go/services/payments"
	"github.com/wechatpay-apiv3/wechatpay-go/services/payments/native"
	"github.com/wechatpay-apiv3/wechatpay-go/services/refunddomestic"
	wechatpay_utils "github.com/wechatpay-apiv3/wechatpay-go/utils"
)

const (
	HeaderTimestamp = "Wechatpay-Timestamp"
	HeaderNonce     = "Wechatpay-Nonce"
	HeaderSignature = "Wechatpay-Signature"
	HeaderSerial    = "Wechatpay-Serial"

	eventTransactionSuccess = "TRANSACTION.SUCCESS"
	tradeStateSuccess       = "SUCCESS"

	// 回调时间戳允许的最大偏差
	maxTimestampSkew = 5 * time.Minute
)

type prepayAPI interface {
	Prepay(ctx context.Context, req native.PrepayRequest) (*native.PrepayResponse, *core.APIResult, error)
}

type refundAPI interface {
	Create(ctx context.Context, req refunddomestic.CreateRequest) (*refunddomestic.Refund, *core.APIResult, error)
}

// SignatureVerifier 微信支付平台公钥验签
type SignatureVerifier interface {
	Verify(ctx context.Context, serialNumber, message, signature string) error
}

type Gateway struct {
	cfg      *config.WechatPaymentConfig
	prepay   prepayAPI
	refunds  refundAPI
	verifier SignatureVerifier
	now      func() time.Time
}

var _ gateways.Gateway = (*Gateway)(nil)

// New 使用商户私钥和平台公钥初始化微信支付客户端
func New(ctx context.Context, cfg *config.WechatPaymentConfig) (*Gateway, error) {
	publicKey, err := wechatpay_utils.LoadPublicKeyWithPath(cfg.WechatpayPublicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("load public key error: %w", err)
	}
	mchPrivateKey, err := wechatpay_utils.LoadPrivateKeyWithPath(cfg.MchPrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("load private key error: %w", err)
	}

	client, err := core.NewClient(ctx, option.WithWechatPayPublicKeyAuthCipher(
		cfg.MchID,
		cfg.MchCertificateSerial,
		mchPrivateKey,
		cfg.WechatpayPublicKeyID,
		publicKey,
	))
	if err != nil {
		return nil, fmt.Errorf("init wechat pay client error: %w", err)
	}

	verifier := verifiers.NewSHA256WithRSAPubkeyVerifier(cfg.WechatpayPublicKeyID, *publicKey)
	return NewWithClients(cfg, &native.NativeApiService{Client: client},
		&refunddomestic.RefundsApiService{Client: client}, verifier), nil
}

// NewWithClients 直接注入 API 客户端和验签器
func NewWithClients(cfg *config.WechatPaymentConfig, prepay prepayAPI, refunds refundAPI, verifier SignatureVerifier) *Gateway {
	return &Gateway{cfg: cfg, prepay: prepay, refunds: refunds, verifier: verifier, now: time.Now}
}

func (g *Gateway) Name() types.PaymentMethod {
	return types.METHOD_WECHATPAY
}

// WebhookSecret 回调报文使用平台公钥签名，这里返回公钥ID，验签时要求与 Wechatpay-Serial 一致
func (g *Gateway) WebhookSecret() string {
	return g.cfg.WechatpayPublicKeyID
}

// CreateRemoteIntent Native 下单，返回二维码链接
func (g *Gateway) CreateRemoteIntent(ctx context.Context, req gateways.IntentRequest) (*gateways.RemoteIntent, error) {
	resp, result, err := g.prepay.Prepay(ctx, native.PrepayRequest{
		Appid:       core.String(g.cfg.AppID),
		Mchid:       core.String(g.cfg.MchID),
		Description: core.String(req.Description),
		OutTradeNo:  core.String(req.CorrelationID),
		Attach:      core.String(strconv.FormatUint(uint64(req.OrderID), 10)),
		NotifyUrl:   core.String(g.cfg.NotifyURL),
		Amount: &native.Amount{
			Total:    core.Int64(req.AmountMinor),
			Currency: core.String(req.Currency),
		},
	})
	if err != nil {
		status := 0
		if result != nil && result.Response != nil {
			status = result.Response.StatusCode
		}
		slog.Error("wechat pay prepay failed", "error", err, "status", status, "out_trade_no", req.CorrelationID)
		return nil, errs.ErrGatewayFailed.Wrap(fmt.Errorf("wechat pay prepay failed: status=%d: %w", status, err))
	}
	if resp == nil || resp.CodeUrl == nil {
		return nil, errs.ErrGatewayFailed.WithMsg("wechat pay prepay returned no code_url")
	}
	return &gateways.RemoteIntent{
		RemoteID:                  req.CorrelationID,
		ClientSecretOrApprovalURL: *resp.CodeUrl,
	}, nil
}

// VerifyWebhookSignature 验签串为 "时间戳\n随机串\n报文主体\n"
func (g *Gateway) VerifyWebhookSignature(raw []byte, headers http.Header, secret string) bool {
	ts := headers.Get(HeaderTimestamp)
	nonce := headers.Get(HeaderNonce)
	signature := headers.Get(HeaderSignature)
	serial := headers.Get(HeaderSerial)
	if ts == "" || nonce == "" || signature == "" || serial == "" {
		return false
	}
	if secret != "" && serial != secret {
		slog.Warn("wechat notify serial mismatch", "serial", serial)
		return false
	}
	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return false
	}
	if skew := g.now().Sub(time.Unix(sec, 0)); skew > maxTimestampSkew || skew < -maxTimestampSkew {
		slog.Warn("wechat notify timestamp out of range", "timestamp", ts)
		return false
	}

	message := fmt.Sprintf("%s\n%s\n%s\n", ts, nonce, raw)
	if err := g.verifier.Verify(context.Background(), serial, message, signature); err != nil {
		slog.Warn("wechat notify signature verify failed", "error", err)
		return false
	}
	return true
}

// ParseWebhookEvent 解密通知资源，得到支付单
func (g *Gateway) ParseWebhookEvent(raw []byte, _ http.Header) (*gateways.Event, error) {
	var req notify.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, errs.ErrMalformedEvent.Wrap(err)
	}
	ev := &gateways.Event{EventID: req.ID, Type: req.EventType, Raw: raw}
	if req.ID == "" || req.Resource == nil {
		return nil, errs.ErrMalformedEvent.WithMsg("wechat notify missing id or resource")
	}

	plaintext, err := wechatpay_utils.DecryptAES256GCM(g.cfg.MchAPIV3Key,
		req.Resource.AssociatedData, req.Resource.Nonce, req.Resource.Ciphertext)
	if err != nil {
		return nil, errs.ErrMalformedEvent.Wrap(fmt.Errorf("decrypt notify resource: %w", err))
	}
	var tx payments.Transaction
	if err := json.Unmarshal([]byte(plaintext), &tx); err != nil {
		return nil, errs.ErrMalformedEvent.Wrap(err)
	}

	ev.CorrelationID = strVal(tx.OutTradeNo)
	ev.ExternalTransactionID = strVal(tx.TransactionId)
	if attach := strings.TrimSpace(strVal(tx.Attach)); attach != "" {
		id, err := strconv.ParseUint(attach, 10, 64)
		if err != nil {
			return nil, errs.ErrMalformedEvent.WithMsg("invalid attach %q", attach)
		}
		ev.OrderID = uint(id)
	}
	if tx.Amount != nil {
		ev.CapturedAmount = int64Val(tx.Amount.Total)
		ev.Currency = strVal(tx.Amount.Currency)
	}
	ev.Captured = req.EventType == eventTransactionSuccess && strVal(tx.TradeState) == tradeStateSuccess
	return ev, nil
}

// CreateRemoteRefund 全额退款，以微信支付订单号发起
func (g *Gateway) CreateRemoteRefund(ctx context.Context, req gateways.RefundRequest) (*gateways.RemoteRefund, error) {
	createReq := refunddomestic.CreateRequest{
		TransactionId: core.String(req.RemoteChargeID),
		OutRefundNo:   core.String(req.RefundNo),
		Amount: &refunddomestic.AmountReq{
			Refund:   core.Int64(req.AmountMinor),
			Total:    core.Int64(req.AmountMinor),
			Currency: core.String(req.Currency),
		},
	}
	if req.Reason != "" {
		createReq.Reason = core.String(req.Reason)
	}
	resp, _, err := g.refunds.Create(ctx, createReq)
	if err != nil {
		return nil, errs.ErrGatewayFailed.Wrap(fmt.Errorf("wechat refund failed: %w", err))
	}

	out := &gateways.RemoteRefund{RemoteRefundID: strVal(resp.RefundId), Status: gateways.RefundFailed}
	out.Raw, _ = json.Marshal(resp)
	if resp.Status != nil {
		switch *resp.Status {
		case refunddomestic.STATUS_SUCCESS:
			out.Status = gateways.RefundSucceeded
		case refunddomestic.STATUS_PROCESSING:
			out.Status = gateways.RefundPending
		}
	}
	return out, nil
}

func strVal(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func int64Val(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}
