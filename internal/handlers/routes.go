package handlers

import (
	"github.com/Daneel-Li/dgshop/internal/services"

	"github.com/gorilla/mux"
)

// NewRouter 注册所有路由，limiter 作用于买家接口和网关回调
func NewRouter(h *CheckoutHandler, auth *Auth, limiter Middleware) *mux.Router {
	r := mux.NewRouter()

	buyer := []Middleware{auth.OptionalJWT, limiter}
	admin := []Middleware{RequireRole(services.RoleAdmin), auth.JWTMiddleware}

	r.HandleFunc("/api/v1/orders", WithMidWare(h.CreateOrder, buyer...)).Methods("POST")
	r.HandleFunc("/api/v1/orders", WithMidWare(h.ListOrders, limiter, auth.JWTMiddleware)).Methods("GET")
	r.HandleFunc("/api/v1/orders/{order_id}", WithMidWare(h.GetOrder, buyer...)).Methods("GET")
	r.HandleFunc("/api/v1/orders/{order_id}/coupon", WithMidWare(h.ApplyCoupon, buyer...)).Methods("POST")
	r.HandleFunc("/api/v1/orders/{order_id}/intents", WithMidWare(h.CreateIntent, buyer...)).Methods("POST")
	r.HandleFunc("/api/v1/downloads/{token}", WithMidWare(h.Download, limiter)).Methods("GET", "HEAD")

	// 网关回调只靠签名鉴权
	r.HandleFunc("/api/v1/webhooks/{method}", WithMidWare(h.Webhook, limiter)).Methods("POST")

	r.HandleFunc("/api/v1/orders/{order_id}/refunds", WithMidWare(h.RequestRefund, admin...)).Methods("POST")
	r.HandleFunc("/api/v1/admin/products/{product_id}/stock", WithMidWare(h.AddStock, admin...)).Methods("POST")

	r.HandleFunc("/ws", h.UpgradeWS).Methods("GET")
	return r
}
