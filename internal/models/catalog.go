package dgs

import "time"

type ProductType string

const (
	ProductTypeFile    ProductType = "file"
	ProductTypeLicense ProductType = "license"
)

// Product 商品目录，本模块只读
type Product struct {
	ID        uint        `gorm:"primaryKey;autoIncrement" json:"id"`
	Name      string      `gorm:"type:varchar(255);not null" json:"name"`
	Price     int64       `gorm:"not null;comment:单价(分)" json:"price"`
	Currency  string      `gorm:"type:varchar(3);not null" json:"currency"`
	Type      ProductType `gorm:"type:varchar(16);not null" json:"type"`
	FilePath  string      `gorm:"type:varchar(512)" json:"-"`
	Active    bool        `gorm:"not null;default:true" json:"active"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

func (Product) TableName() string {
	return "products"
}

// InventoryItem 卡密库存。order_id 为空表示未分配，分配后永久归属该订单
type InventoryItem struct {
	ID          uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	ProductID   uint       `gorm:"index:idx_product_order;not null" json:"product_id"`
	LicenseCode string     `gorm:"uniqueIndex;type:varchar(255);not null" json:"license_code"`
	Password    *string    `gorm:"type:varchar(255)" json:"password,omitempty"`
	OrderID     *uint      `gorm:"index:idx_product_order" json:"order_id,omitempty"`
	AllocatedAt *time.Time `json:"allocated_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

func (InventoryItem) TableName() string {
	return "inventory_items"
}

// DownloadGrant 文件类商品的下载授权
type DownloadGrant struct {
	ID                 uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	Token              string     `gorm:"uniqueIndex;type:varchar(64);not null" json:"token"`
	OrderID            uint       `gorm:"index;not null" json:"order_id"`
	ProductID          uint       `gorm:"not null" json:"product_id"`
	DownloadsRemaining int        `gorm:"not null" json:"downloads_remaining"`
	ExpiresAt          time.Time  `gorm:"not null;index" json:"expires_at"`
	RevokedAt          *time.Time `json:"revoked_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

func (DownloadGrant) TableName() string {
	return "download_grants"
}

// Live reports whether the grant can still be used at now.
func (g *DownloadGrant) Live(now time.Time) bool {
	return g.RevokedAt == nil && now.Before(g.ExpiresAt) && g.DownloadsRemaining > 0
}
