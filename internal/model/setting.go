package model

import "gorm.io/gorm"

// Setting is an admin managed key/value pair, e.g. per-minute rates.
type Setting struct {
	gorm.Model
	Key         string `gorm:"column:setting_key;uniqueIndex;type:varchar(64);not null"`
	Value       string `gorm:"column:setting_value;type:varchar(255);not null"`
	Description string `gorm:"column:description;type:varchar(255)"`
}

func (Setting) TableName() string {
	return "setting"
}

// DefaultSettings are inserted on first start when absent.
var DefaultSettings = []Setting{
	{Key: "chat_rate_per_min", Value: "10", Description: "chat price per minute"},
	{Key: "call_rate_per_min", Value: "15", Description: "call price per minute"},
	{Key: "commission_percent", Value: "30", Description: "platform commission"},
	{Key: "min_wallet_balance", Value: "50", Description: "minimum balance to start a session"},
}
