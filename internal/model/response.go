package model

import "time"

// Response is one persisted questionnaire submission. Rows are written once
// and never updated.
type Response struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"type:text;not null" json:"name"`
	Response  string    `gorm:"type:text;not null" json:"response"`
	Consent   bool      `gorm:"not null;default:false" json:"consent"`
	Timestamp time.Time `gorm:"column:timestamp;not null;default:CURRENT_TIMESTAMP" json:"timestamp"`
}

func (Response) TableName() string {
	return "responses"
}
