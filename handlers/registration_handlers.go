// collector/handlers/registration_handlers.go
package handlers

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sitepulse/collector/models"
)

// RegistrationDirectory is the directory surface the handlers expose.
type RegistrationDirectory interface {
	Upsert(ctx context.Context, siteID, notifyAddress string) (*models.Registration, error)
	List(ctx context.Context) ([]models.Registration, error)
}

type RegistrationHandlers struct {
	Registrations RegistrationDirectory
}

func NewRegistrationHandlers(regs RegistrationDirectory) *RegistrationHandlers {
	return &RegistrationHandlers{Registrations: regs}
}

// Register creates or updates a site registration. Re-registering overwrites
// the notification address.
func (h *RegistrationHandlers) Register(c *gin.Context) {
	var req models.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	reg, err := h.Registrations.Upsert(ctx, req.SiteID, req.NotifyAddress)
	if err != nil {
		log.Printf("Error registering site %s: %v", req.SiteID, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to register site"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Registration successful.", "siteId": reg.SiteID})
}

// ListClients returns every registered site (admin).
func (h *RegistrationHandlers) ListClients(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	regs, err := h.Registrations.List(ctx)
	if err != nil {
		log.Printf("Error listing registrations: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve clients"})
		return
	}
	if regs == nil {
		regs = []models.Registration{}
	}

	c.JSON(http.StatusOK, regs)
}
