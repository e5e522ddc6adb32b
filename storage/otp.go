package storage

import "time"

// OTP is a one-time passcode record. Issuance and verification live outside
// this service; the store only keeps the collection so it can be wiped.
type OTP struct {
	ID        string    `json:"id" bson:"_id"`
	Email     string    `json:"email" bson:"email"`
	CodeHash  string    `json:"-" bson:"code_hash"`
	ExpiresAt time.Time `json:"expires_at" bson:"expires_at"`
}
