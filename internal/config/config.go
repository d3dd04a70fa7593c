package config

import (
	"encoding/json"
	"encoding/pem"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"golang.org/x/exp/slog"
	"gopkg.in/yaml.v3"
)

// MysqlConfig 存储数据库连接信息
type MysqlConfig struct {
	Username     string `json:"username" yaml:"username"`
	Password     string `json:"password" yaml:"password"`
	Host         string `json:"host" yaml:"host"`
	Port         string `json:"port" yaml:"port"`
	DBName       string `json:"dbname" yaml:"dbname"`
	MaxOpenConns int    `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns int    `json:"max_idle_conns" yaml:"max_idle_conns"`
}

type RedisConfig struct {
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
}

type MqttConfig struct {
	Broker      string `json:"broker" yaml:"broker"`
	ClientID    string `json:"clientid" yaml:"clientid"`
	Username    string `json:"username" yaml:"username"`
	Password    string `json:"password" yaml:"password"`
	TopicPrefix string `json:"topic_prefix" yaml:"topic_prefix"`
}

type Tls struct {
	CertPath string `json:"cert_path" yaml:"cert_path"`
	KeyPath  string `json:"key_path" yaml:"key_path"`
}

// 微信支付相关参数
type WechatPaymentConfig struct {
	WechatpayPublicKeyID   string `json:"wechatpay_public_key_id" yaml:"wechatpay_public_key_id"`
	WechatpayPublicKeyPath string `json:"wechatpay_public_key_path" yaml:"wechatpay_public_key_path"`
	AppID                  string `json:"app_id" yaml:"app_id"`
	MchID                  string `json:"mch_id" yaml:"mch_id"`
	MchCertificateSerial   string `json:"mch_certificate_serial" yaml:"mch_certificate_serial"`
	MchPrivateKeyPath      string `json:"mch_private_key_path" yaml:"mch_private_key_path"`
	NotifyURL              string `json:"notify_url" yaml:"notify_url"`
	MchAPIV3Key            string `json:"mch_apiv3_key" yaml:"mch_apiv3_key"`
	QPS                    int    `json:"qps" yaml:"qps"`
}

type RazorpayConfig struct {
	KeyID         string `json:"key_id" yaml:"key_id"`
	KeySecret     string `json:"key_secret" yaml:"key_secret"`
	WebhookSecret string `json:"webhook_secret" yaml:"webhook_secret"`
	QPS           int    `json:"qps" yaml:"qps"`
}

// CheckoutConfig 结算相关参数
type CheckoutConfig struct {
	DownloadTTLHours       int    `json:"download_ttl_hours" yaml:"download_ttl_hours"`
	MaxDownloads           int    `json:"max_downloads" yaml:"max_downloads"`
	UnpaidTTLMinutes       int    `json:"unpaid_ttl_minutes" yaml:"unpaid_ttl_minutes"`
	SweepSpec              string `json:"sweep_spec" yaml:"sweep_spec"` // cron 表达式，带秒
	RateLimitPerMinute     int    `json:"rate_limit_per_minute" yaml:"rate_limit_per_minute"`
	RefundLockSeconds      int    `json:"refund_lock_seconds" yaml:"refund_lock_seconds"`
	GatewayTimeoutSeconds  int    `json:"gateway_timeout_seconds" yaml:"gateway_timeout_seconds"`
	SnowflakeNode          int64  `json:"snowflake_node" yaml:"snowflake_node"`
	DownloadBaseURL        string `json:"download_base_url" yaml:"download_base_url"`
	NotificationPoolWorker int32  `json:"notification_pool_worker" yaml:"notification_pool_worker"`
}

type Config struct {
	ServerPort    int32               `json:"server_port" yaml:"server_port"`
	JwtIssuer     string              `json:"jwt_issuer" yaml:"jwt_issuer"`
	JwtKeyPath    string              `json:"jwt_key_path" yaml:"jwt_key_path"` // jwt加密密钥路径
	JwtKey        []byte              `json:"-" yaml:"-"`
	Loglevel      string              `json:"log_level" yaml:"log_level"`
	Tls           Tls                 `json:"tls" yaml:"tls"`
	Mysql         MysqlConfig         `json:"mysql" yaml:"mysql"`
	Redis         RedisConfig         `json:"redis" yaml:"redis"`
	Mqtt          MqttConfig          `json:"mqtt" yaml:"mqtt"`
	WechatPayment WechatPaymentConfig `json:"wechat_payment" yaml:"wechat_payment"` // 微信支付相关参数
	Razorpay      RazorpayConfig      `json:"razorpay" yaml:"razorpay"`
	Checkout      CheckoutConfig      `json:"checkout" yaml:"checkout"`
	// 只信任这些反向代理写入的 X-Forwarded-For / X-Real-IP，CIDR 或单个 IP
	TrustedProxies []string `json:"trusted_proxies" yaml:"trusted_proxies"`
}

var (
	config *Config
)

// LoadConfig 读取配置文件，.yaml/.yml 按 YAML 解析，其余按 JSON；
// 之后用 .env 和环境变量覆盖密钥类配置
func LoadConfig(path string) {
	configData, err := os.ReadFile(path)
	if err != nil {
		slog.Error("error load config:"+err.Error(), "path", path)
		return
	}

	c := &Config{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(configData, c)
	default:
		err = json.Unmarshal(configData, c)
	}
	if err != nil {
		slog.Error("error load config:"+err.Error(), "path", path)
		return
	}

	// .env 不存在时忽略
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("load .env failed", "error", err)
	}
	applyEnv(c)
	c.setDefaults()

	if c.JwtKeyPath != "" {
		pemData, err := os.ReadFile(c.JwtKeyPath)
		if err != nil {
			slog.Error("无法读取jwt私钥文件:" + err.Error())
		}
		// 解码PEM格式的密钥
		block, _ := pem.Decode(pemData)
		if block == nil {
			slog.Error("无效的PEM格式")
		} else {
			c.JwtKey = block.Bytes
		}
	}
	config = c
}

func applyEnv(c *Config) {
	overrides := map[string]*string{
		"DGSHOP_MYSQL_PASSWORD":          &c.Mysql.Password,
		"DGSHOP_REDIS_PASSWORD":          &c.Redis.Password,
		"DGSHOP_MQTT_PASSWORD":           &c.Mqtt.Password,
		"DGSHOP_WECHATPAY_APIV3_KEY":     &c.WechatPayment.MchAPIV3Key,
		"DGSHOP_RAZORPAY_KEY_ID":         &c.Razorpay.KeyID,
		"DGSHOP_RAZORPAY_KEY_SECRET":     &c.Razorpay.KeySecret,
		"DGSHOP_RAZORPAY_WEBHOOK_SECRET": &c.Razorpay.WebhookSecret,
		"DGSHOP_JWT_KEY_PATH":            &c.JwtKeyPath,
	}
	for k, p := range overrides {
		if v, ok := os.LookupEnv(k); ok {
			*p = v
		}
	}
	if v, ok := os.LookupEnv("DGSHOP_SERVER_PORT"); ok {
		if port, err := strconv.Atoi(v); err == nil {
			c.ServerPort = int32(port)
		}
	}
}

func (c *Config) setDefaults() {
	if c.ServerPort == 0 {
		c.ServerPort = 8080
	}
	ck := &c.Checkout
	if ck.DownloadTTLHours == 0 {
		ck.DownloadTTLHours = 72
	}
	if ck.MaxDownloads == 0 {
		ck.MaxDownloads = 5
	}
	if ck.UnpaidTTLMinutes == 0 {
		ck.UnpaidTTLMinutes = 30
	}
	if ck.SweepSpec == "" {
		ck.SweepSpec = "0 */5 * * * *"
	}
	if ck.RateLimitPerMinute == 0 {
		ck.RateLimitPerMinute = 60
	}
	if ck.RefundLockSeconds == 0 {
		ck.RefundLockSeconds = 30
	}
	if ck.GatewayTimeoutSeconds == 0 {
		ck.GatewayTimeoutSeconds = 15
	}
	if ck.NotificationPoolWorker == 0 {
		ck.NotificationPoolWorker = 200
	}
}

// SetConfig 直接替换全局配置，测试使用
func SetConfig(c *Config) {
	c.setDefaults()
	config = c
}

func GetConfig() *Config {
	if config == nil {
		LoadConfig("./config.json")
	}
	return config
}
