package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigYAMLWithEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server_port: 9090
log_level: debug
razorpay:
  key_id: rzp_test_1
  webhook_secret: from-file
checkout:
  max_downloads: 3
trusted_proxies:
  - 10.0.0.0/8
  - 192.0.2.1
`), 0o600))
	t.Setenv("DGSHOP_RAZORPAY_WEBHOOK_SECRET", "from-env")

	LoadConfig(path)
	c := GetConfig()
	require.NotNil(t, c)
	assert.Equal(t, int32(9090), c.ServerPort)
	assert.Equal(t, "rzp_test_1", c.Razorpay.KeyID)
	assert.Equal(t, "from-env", c.Razorpay.WebhookSecret)
	assert.Equal(t, 3, c.Checkout.MaxDownloads)
	assert.Equal(t, []string{"10.0.0.0/8", "192.0.2.1"}, c.TrustedProxies)
	// 未配置项使用默认值
	assert.Equal(t, 72, c.Checkout.DownloadTTLHours)
	assert.Equal(t, "0 */5 * * * *", c.Checkout.SweepSpec)
}

func TestLoadConfigJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"mysql":{"host":"db","port":"3306","dbname":"dgshop"},"checkout":{"unpaid_ttl_minutes":10}}`), 0o600))

	LoadConfig(path)
	c := GetConfig()
	assert.Equal(t, "db", c.Mysql.Host)
	assert.Equal(t, 10, c.Checkout.UnpaidTTLMinutes)
	assert.Equal(t, int32(8080), c.ServerPort)
}
