// collector/models/registration.go
package models

import "time"

// RegisterRequest is the JSON body of POST /registrations.
type RegisterRequest struct {
	SiteID        string `json:"siteId" binding:"required"`
	NotifyAddress string `json:"notifyAddress" binding:"required,email"`
}

// Registration maps a site to the address its daily summary is mailed to.
// Re-registering an existing site overwrites the address.
type Registration struct {
	ID            int       `json:"id"`
	SiteID        string    `json:"siteId"`
	NotifyAddress string    `json:"notifyAddress"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
