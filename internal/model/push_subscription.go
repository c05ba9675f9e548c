package model

import "time"

// PushSubscription holds the information for a browser push subscription.
type PushSubscription struct {
	Endpoint  string    `gorm:"primaryKey"`
	P256DH    string    `gorm:"column:p256dh;not null"`
	Auth      string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`

	// Associations
	Items []ItemSubscription `gorm:"foreignKey:Endpoint;references:Endpoint;constraint:OnDelete:CASCADE"`
}

// ItemSubscription marks an item key a subscription wants to hear about.
type ItemSubscription struct {
	Endpoint string `gorm:"primaryKey;size:512"`
	ItemKey  string `gorm:"primaryKey;size:256;index"`
}
