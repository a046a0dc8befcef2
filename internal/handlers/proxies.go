package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pricehawk/scan-service/internal/database"
	"github.com/pricehawk/scan-service/internal/types"
)

// CreateProxyRequest is the payload for registering an egress proxy
type CreateProxyRequest struct {
	ID       string `json:"id" binding:"required" jsonschema:"required"`
	Host     string `json:"host" binding:"required" jsonschema:"required"`
	Port     int    `json:"port" binding:"required,min=1,max=65535" jsonschema:"required"`
	Username string `json:"username"`
	Password string `json:"password"`
	Type     string `json:"type" binding:"required,oneof=datacenter residential isp" jsonschema:"required,enum=datacenter,enum=residential,enum=isp"`
}

// proxyView hides credentials in list responses
type proxyView struct {
	ID              string  `json:"id"`
	Host            string  `json:"host"`
	Port            int     `json:"port"`
	Type            string  `json:"type"`
	Enabled         bool    `json:"enabled"`
	SuccessCount    int64   `json:"success_count"`
	FailureCount    int64   `json:"failure_count"`
	Consecutive403s int     `json:"consecutive_403s"`
	SuccessRate     float64 `json:"success_rate"`
}

// ListProxies returns the configured proxy fleet without credentials
func ListProxies(c *gin.Context) {
	proxies, err := database.ListProxies(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list proxies"})
		return
	}

	views := make([]proxyView, 0, len(proxies))
	for _, p := range proxies {
		v := proxyView{
			ID:              p.ID,
			Host:            p.Host,
			Port:            p.Port,
			Type:            string(p.Type),
			Enabled:         p.Enabled,
			SuccessCount:    p.SuccessCount,
			FailureCount:    p.FailureCount,
			Consecutive403s: p.Consecutive403s,
		}
		if total := p.SuccessCount + p.FailureCount; total > 0 {
			v.SuccessRate = float64(p.SuccessCount) / float64(total)
		}
		views = append(views, v)
	}

	c.JSON(http.StatusOK, gin.H{"proxies": views, "total": len(views)})
}

// CreateProxy registers a new egress proxy
func CreateProxy(c *gin.Context) {
	var req CreateProxyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	p := &types.Proxy{
		ID:       req.ID,
		Host:     req.Host,
		Port:     req.Port,
		Username: req.Username,
		Password: req.Password,
		Type:     types.ProxyType(req.Type),
		Enabled:  true,
	}
	if err := database.CreateProxy(c.Request.Context(), p); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create proxy"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"id": p.ID})
}

// ToggleProxy enables or disables a proxy
func ToggleProxy(c *gin.Context) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := database.SetProxyEnabled(c.Request.Context(), c.Param("proxyId"), req.Enabled); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to toggle proxy"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"enabled": req.Enabled})
}
