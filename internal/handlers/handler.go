package handlers

import (
	"context"
	"crypto/subtle"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Daneel-Li/dgshop/internal/errs"
	dgs "github.com/Daneel-Li/dgshop/internal/models"
	"github.com/Daneel-Li/dgshop/internal/services"
	"github.com/Daneel-Li/dgshop/internal/types"
	"github.com/Daneel-Li/dgshop/pkg/utils"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// CheckoutService handler 依赖的结算能力
type CheckoutService interface {
	CreateOrder(ctx context.Context, req services.DraftOrderRequest) (*dgs.Order, error)
	GetOrder(ctx context.Context, orderID uint) (*dgs.Order, error)
	ListUserOrders(ctx context.Context, userID uint) ([]*dgs.Order, error)
	ApplyCoupon(ctx context.Context, orderID uint, code string, userID *uint) (*dgs.Order, error)
	CreateIntent(ctx context.Context, req services.IntentRequest) (*services.IntentResult, error)
	HandleWebhook(ctx context.Context, method types.PaymentMethod, raw []byte, headers http.Header) (services.WebhookOutcome, error)
	RequestRefund(ctx context.Context, orderID uint, reason string) (*dgs.Refund, error)
	ResolveDownload(ctx context.Context, token string) (*services.DownloadResult, error)
	PeekDownload(ctx context.Context, token string) (*services.DownloadResult, error)
	AddStock(ctx context.Context, productID uint, codes []services.StockCode) (int, error)
	Stock(ctx context.Context, productID uint) (int64, error)
}

// WSRegistrar 首帧鉴权并登记 websocket 连接
type WSRegistrar interface {
	AuthenticateAndRegister(conn *websocket.Conn)
}

type CheckoutHandler struct {
	checkout  CheckoutService
	wsManager WSRegistrar
	proxies   utils.TrustedProxies
}

func NewCheckoutHandler(checkout CheckoutService, wsManager WSRegistrar, proxies utils.TrustedProxies) *CheckoutHandler {
	return &CheckoutHandler{checkout: checkout, wsManager: wsManager, proxies: proxies}
}

// CreateOrder 创建草稿订单
func (h *CheckoutHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req services.DraftOrderRequest
	if err := utils.ReadJSON(r, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if id := IdentityFromContext(r.Context()); id != nil {
		uid := id.UserID
		req.UserID = &uid
	}

	order, err := h.checkout.CreateOrder(r.Context(), req)
	if err != nil {
		h.handleError(w, err)
		return
	}
	// access_token 只在这里返回一次
	utils.WriteHttpResponse(w, http.StatusCreated, struct {
		*dgs.Order
		AccessToken string `json:"access_token"`
	}{order, order.AccessToken})
}

// OrderTokenHeader 游客订单的访问令牌请求头
const OrderTokenHeader = "X-Order-Token"

// canAccessOrder 管理员、下单用户、持有访问令牌的游客
func canAccessOrder(id *services.Identity, order *dgs.Order, accessToken string) bool {
	if id != nil && id.Role == services.RoleAdmin {
		return true
	}
	if order.UserID != nil {
		return id != nil && id.UserID == *order.UserID
	}
	return order.AccessToken != "" &&
		subtle.ConstantTimeCompare([]byte(accessToken), []byte(order.AccessToken)) == 1
}

// ownedOrder 无权访问时按不存在处理，不暴露订单是否存在
func (h *CheckoutHandler) ownedOrder(w http.ResponseWriter, r *http.Request, orderID uint) (*dgs.Order, bool) {
	order, err := h.checkout.GetOrder(r.Context(), orderID)
	if err != nil {
		h.handleError(w, err)
		return nil, false
	}
	if !canAccessOrder(IdentityFromContext(r.Context()), order, r.Header.Get(OrderTokenHeader)) {
		slog.Info("order access denied", "order_id", orderID, "path", r.URL.Path)
		h.handleError(w, errs.ErrOrderNotFound)
		return nil, false
	}
	return order, true
}

// GetOrder 查询订单
func (h *CheckoutHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathID(w, r, "order_id")
	if !ok {
		return
	}
	order, ok := h.ownedOrder(w, r, orderID)
	if !ok {
		return
	}
	utils.WriteHttpResponse(w, http.StatusOK, order)
}

// ListOrders 当前用户的订单
func (h *CheckoutHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	id := IdentityFromContext(r.Context())
	if id == nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	orders, err := h.checkout.ListUserOrders(r.Context(), id.UserID)
	if err != nil {
		h.handleError(w, err)
		return
	}
	utils.WriteHttpResponse(w, http.StatusOK, orders)
}

// ApplyCoupon 使用优惠码
func (h *CheckoutHandler) ApplyCoupon(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathID(w, r, "order_id")
	if !ok {
		return
	}
	var req struct {
		Code string `json:"code"`
	}
	if err := utils.ReadJSON(r, &req); err != nil || req.Code == "" {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if _, ok := h.ownedOrder(w, r, orderID); !ok {
		return
	}
	var userID *uint
	if id := IdentityFromContext(r.Context()); id != nil {
		uid := id.UserID
		userID = &uid
	}

	order, err := h.checkout.ApplyCoupon(r.Context(), orderID, req.Code, userID)
	if err != nil {
		h.handleError(w, err)
		return
	}
	utils.WriteHttpResponse(w, http.StatusOK, order)
}

// CreateIntent 发起支付
func (h *CheckoutHandler) CreateIntent(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathID(w, r, "order_id")
	if !ok {
		return
	}
	var req services.IntentRequest
	if err := utils.ReadJSON(r, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if !req.Method.Valid() {
		http.Error(w, "Unsupported payment method", http.StatusBadRequest)
		return
	}
	if _, ok := h.ownedOrder(w, r, orderID); !ok {
		return
	}
	req.OrderID = orderID
	req.IPAddress = h.proxies.ClientIP(r)

	res, err := h.checkout.CreateIntent(r.Context(), req)
	if err != nil {
		h.handleError(w, err)
		return
	}
	utils.WriteHttpResponse(w, http.StatusCreated, res)
}

// Webhook 支付网关回调，需要原始请求体验签
func (h *CheckoutHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	method := types.PaymentMethod(mux.Vars(r)["method"])
	raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	outcome, err := h.checkout.HandleWebhook(r.Context(), method, raw, r.Header)
	if err != nil {
		h.handleError(w, err)
		return
	}
	slog.Debug("webhook handled", "method", method, "outcome", outcome)
	if method == types.METHOD_WECHATPAY {
		// 微信要求的应答格式
		utils.WriteHttpResponse(w, http.StatusOK, map[string]string{"code": "SUCCESS", "message": "OK"})
		return
	}
	utils.WriteHttpResponse(w, http.StatusOK, map[string]string{"status": string(outcome)})
}

// RequestRefund 管理员发起全额退款
func (h *CheckoutHandler) RequestRefund(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathID(w, r, "order_id")
	if !ok {
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength != 0 {
		if err := utils.ReadJSON(r, &req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	}

	refund, err := h.checkout.RequestRefund(r.Context(), orderID, req.Reason)
	if err != nil {
		h.handleError(w, err)
		return
	}
	utils.WriteHttpResponse(w, http.StatusOK, refund)
}

// countsAsDownload HEAD 和不从 0 开始的 Range 请求不计次数
func countsAsDownload(r *http.Request) bool {
	if r.Method == http.MethodHead {
		return false
	}
	rng := strings.TrimSpace(r.Header.Get("Range"))
	return rng == "" || strings.HasPrefix(rng, "bytes=0-")
}

// Download 校验下载授权后返回文件
func (h *CheckoutHandler) Download(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]
	resolve := h.checkout.PeekDownload
	if countsAsDownload(r) {
		resolve = h.checkout.ResolveDownload
	}
	res, err := resolve(r.Context(), token)
	if err != nil {
		h.handleError(w, err)
		return
	}
	if res.Product.FilePath == "" {
		slog.Error("file product has no file path", "product_id", res.Product.ID)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(res.Product.FilePath)))
	http.ServeFile(w, r, res.Product.FilePath)
}

// AddStock 导入许可证库存
func (h *CheckoutHandler) AddStock(w http.ResponseWriter, r *http.Request) {
	productID, ok := pathID(w, r, "product_id")
	if !ok {
		return
	}
	var req struct {
		Codes []services.StockCode `json:"codes"`
	}
	if err := utils.ReadJSON(r, &req); err != nil || len(req.Codes) == 0 {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	added, err := h.checkout.AddStock(r.Context(), productID, req.Codes)
	if err != nil {
		h.handleError(w, err)
		return
	}
	available, err := h.checkout.Stock(r.Context(), productID)
	if err != nil {
		h.handleError(w, err)
		return
	}
	utils.WriteHttpResponse(w, http.StatusOK, map[string]interface{}{
		"added":     added,
		"available": available,
	})
}

// UpgradeWS WebSocket升级处理
func (h *CheckoutHandler) UpgradeWS(w http.ResponseWriter, r *http.Request) {
	var upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("websocket upgrade failed", "error", err)
		return
	}

	// 首帧鉴权并注册
	h.wsManager.AuthenticateAndRegister(conn)
}

// handleError 统一错误处理
func (h *CheckoutHandler) handleError(w http.ResponseWriter, err error) {
	kind := errs.KindOf(err)
	if kind == errs.KindInternal || kind == errs.KindGateway {
		slog.Error("Handler error", "error", err)
	} else {
		slog.Info("Request rejected", "kind", kind, "code", errs.CodeOf(err), "error", err)
	}

	switch kind {
	case errs.KindNotFound:
		http.Error(w, err.Error(), http.StatusNotFound)
	case errs.KindValidation:
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errs.KindInvalidState, errs.KindInsufficientInventory:
		http.Error(w, err.Error(), http.StatusConflict)
	case errs.KindSignatureInvalid:
		http.Error(w, "invalid signature", http.StatusUnauthorized)
	case errs.KindAmountMismatch:
		http.Error(w, "payment rejected", http.StatusBadRequest)
	case errs.KindGateway:
		http.Error(w, "Payment gateway unavailable", http.StatusBadGateway)
	default:
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (uint, bool) {
	id, err := strconv.ParseUint(mux.Vars(r)[name], 10, 64)
	if err != nil || id == 0 {
		http.Error(w, fmt.Sprintf("Invalid %s", name), http.StatusBadRequest)
		return 0, false
	}
	return uint(id), true
}
