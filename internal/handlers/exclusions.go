package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pricehawk/scan-service/internal/database"
	"github.com/pricehawk/scan-service/internal/types"
)

// CreateExclusionRequest is the payload for adding an exclusion rule
type CreateExclusionRequest struct {
	Kind    string `json:"kind" binding:"required,oneof=sku keyword brand" jsonschema:"required,enum=sku,enum=keyword,enum=brand"`
	Value   string `json:"value" binding:"required" jsonschema:"required"`
	Store   string `json:"store"`
	Comment string `json:"comment"`
}

// ListExclusions returns exclusion rules scoped to a store (plus wildcards)
func ListExclusions(c *gin.Context) {
	store := c.DefaultQuery("store", "*")

	rules, err := database.ListExclusions(c.Request.Context(), store)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list exclusions"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"exclusions": rules, "total": len(rules)})
}

// CreateExclusion adds an exclusion rule
func CreateExclusion(c *gin.Context) {
	var req CreateExclusionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rule := &types.ProductExclusion{
		Kind:    types.ExclusionKind(req.Kind),
		Value:   req.Value,
		Store:   req.Store,
		Comment: req.Comment,
	}
	if err := database.CreateExclusion(c.Request.Context(), rule); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create exclusion"})
		return
	}

	c.JSON(http.StatusCreated, rule)
}

// DeleteExclusion removes an exclusion rule
func DeleteExclusion(c *gin.Context) {
	if err := database.DeleteExclusion(c.Request.Context(), c.Param("exclusionId")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete exclusion"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}
