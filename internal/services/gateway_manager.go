package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/Daneel-Li/dgshop/internal/errs"
	"github.com/Daneel-Li/dgshop/internal/gateways"
	"github.com/Daneel-Li/dgshop/internal/types"

	"golang.org/x/time/rate"
)

// GatewayManager 管理所有支付网关，按支付记录中的 method 选择
type GatewayManager struct {
	gateways map[types.PaymentMethod]gateways.Gateway
	mu       sync.RWMutex
}

func NewGatewayManager() *GatewayManager {
	return &GatewayManager{
		gateways: make(map[types.PaymentMethod]gateways.Gateway),
	}
}

// RegisterGateway 注册网关，qps>0 时对远端调用限流
func (gm *GatewayManager) RegisterGateway(gw gateways.Gateway, qps int) error {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	name := gw.Name()
	if _, exists := gm.gateways[name]; exists {
		return fmt.Errorf("gateway %s already registered", name)
	}
	if qps > 0 {
		gw = &limitedGateway{Gateway: gw, limiter: rate.NewLimiter(rate.Limit(qps), qps)}
	}
	gm.gateways[name] = gw
	slog.Info("Gateway registered", "name", name, "qps", qps)
	return nil
}

// GetGateway 获取指定支付方式的网关
func (gm *GatewayManager) GetGateway(method types.PaymentMethod) (gateways.Gateway, error) {
	gm.mu.RLock()
	defer gm.mu.RUnlock()

	gw, exists := gm.gateways[method]
	if !exists {
		return nil, errs.ErrUnknownGateway.WithMsg("payment method %q is not supported", method)
	}
	return gw, nil
}

// ListGateways 列出所有已注册的网关
func (gm *GatewayManager) ListGateways() []string {
	gm.mu.RLock()
	defer gm.mu.RUnlock()

	var names []string
	for name := range gm.gateways {
		names = append(names, string(name))
	}
	sort.Strings(names)
	return names
}

// limitedGateway 远端调用前先取令牌，验签和解析不受限
type limitedGateway struct {
	gateways.Gateway
	limiter *rate.Limiter
}

func (g *limitedGateway) CreateRemoteIntent(ctx context.Context, req gateways.IntentRequest) (*gateways.RemoteIntent, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, errs.ErrGatewayFailed.Wrap(err)
	}
	return g.Gateway.CreateRemoteIntent(ctx, req)
}

func (g *limitedGateway) CreateRemoteRefund(ctx context.Context, req gateways.RefundRequest) (*gateways.RemoteRefund, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, errs.ErrGatewayFailed.Wrap(err)
	}
	return g.Gateway.CreateRemoteRefund(ctx, req)
}
