package utils

import (
	"strings"

	"github.com/shopspring/decimal"
)

// 无小数位的币种，其余按两位处理
var zeroDecimalCurrencies = map[string]bool{
	"JPY": true, "KRW": true, "VND": true, "CLP": true, "ISK": true, "UGX": true,
}

// MinorUnitExponent 最小货币单位的小数位数
func MinorUnitExponent(currency string) int32 {
	if zeroDecimalCurrencies[strings.ToUpper(currency)] {
		return 0
	}
	return 2
}

// FormatMinor 将最小单位金额格式化为 "90.00 USD"
func FormatMinor(amount int64, currency string) string {
	exp := MinorUnitExponent(currency)
	d := decimal.New(amount, -exp)
	return d.StringFixed(exp) + " " + strings.ToUpper(currency)
}
