package domain

import "time"

// IdentityOrigin separates bearer-token identities from USSD phone identities.
// The two never share rows.
type IdentityOrigin string

const (
	OriginFirebase IdentityOrigin = "firebase"
	OriginUSSD     IdentityOrigin = "ussd"
)

type User struct {
	ID          int64
	Origin      IdentityOrigin
	ExternalID  string
	DisplayName string
	Email       string
	Phone       string
	PushToken   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// USSDUsername is the display name given to phone-provisioned users.
func USSDUsername(phone string) string {
	return "user_" + phone
}

type DoctorProfile struct {
	UserID    int64     `json:"user_id"`
	FullName  string    `json:"full_name"`
	Phone     string    `json:"phone_number"`
	Region    string    `json:"region"`
	Location  string    `json:"location"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type DoctorRegistrationReq struct {
	FullName string `json:"full_name" validate:"required,max=255"`
	Phone    string `json:"phone_number" validate:"omitempty,max=32"`
	Region   string `json:"region" validate:"omitempty,max=100"`
	Location string `json:"location" validate:"omitempty,max=255"`
}
