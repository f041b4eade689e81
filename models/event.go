package models

import (
	"time"
)

// Event 記錄已接收的 NATS 指令，用於避免重複處理
type Event struct {
	ID        string `json:"id"`
	Subject   string `json:"subject"`
	Processed bool   `json:"processed"`
	// ClaimedUntil 為處理租約的到期時間，期間內其他投遞不得處理
	ClaimedUntil *time.Time `json:"claimed_until,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}
