package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/pricehawk/scan-service/internal/database"
	"github.com/pricehawk/scan-service/internal/types"
)

// CreateCategoryRequest is the payload for registering a listing page
type CreateCategoryRequest struct {
	Store              string   `json:"store" binding:"required" jsonschema:"required"`
	Name               string   `json:"name" binding:"required" jsonschema:"required"`
	URL                string   `json:"url" binding:"required" jsonschema:"required"`
	Priority           int      `json:"priority" jsonschema:"minimum=1,maximum=10"`
	ScanIntervalMin    int      `json:"scan_interval_minutes"`
	MaxPages           int      `json:"max_pages"`
	IncludeKeywords    []string `json:"include_keywords"`
	ExcludeKeywords    []string `json:"exclude_keywords"`
	IncludeBrands      []string `json:"include_brands"`
	ExcludeBrands      []string `json:"exclude_brands"`
	MinPrice           float64  `json:"min_price"`
	MaxPrice           float64  `json:"max_price"`
	MinDiscountPercent float64  `json:"min_discount_percent"`
}

// ListCategoriesResponse wraps the category list
type ListCategoriesResponse struct {
	Categories []*types.Category `json:"categories" jsonschema:"required"`
	Total      int               `json:"total" jsonschema:"required"`
}

// ListCategories returns all configured categories
// @Summary List categories
// @Description Returns all configured categories, optionally only enabled ones
// @Tags categories
// @Produce json
// @Param enabled query bool false "Only enabled categories"
// @Success 200 {object} ListCategoriesResponse
// @Failure 500 {object} map[string]string "Internal server error"
// @Router /internal/categories [get]
func ListCategories(c *gin.Context) {
	enabledOnly := c.Query("enabled") == "true"

	categories, err := database.ListCategories(c.Request.Context(), enabledOnly)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list categories"})
		return
	}

	c.JSON(http.StatusOK, ListCategoriesResponse{Categories: categories, Total: len(categories)})
}

// GetCategory returns one category by id
func GetCategory(c *gin.Context) {
	cat, err := database.GetCategory(c.Request.Context(), c.Param("categoryId"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load category"})
		return
	}
	if cat == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Category not found"})
		return
	}
	c.JSON(http.StatusOK, cat)
}

// CreateCategory registers a new listing page to scan
// @Summary Create category
// @Tags categories
// @Accept json
// @Produce json
// @Success 201 {object} types.Category
// @Failure 400 {object} map[string]string "Bad request"
// @Router /internal/categories [post]
func CreateCategory(c *gin.Context) {
	var req CreateCategoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cat := &types.Category{
		Store:              strings.ToLower(strings.TrimSpace(req.Store)),
		Name:               req.Name,
		URL:                req.URL,
		Enabled:            true,
		Priority:           req.Priority,
		ScanIntervalMin:    req.ScanIntervalMin,
		MaxPages:           req.MaxPages,
		IncludeKeywords:    req.IncludeKeywords,
		ExcludeKeywords:    req.ExcludeKeywords,
		IncludeBrands:      req.IncludeBrands,
		ExcludeBrands:      req.ExcludeBrands,
		MinPrice:           req.MinPrice,
		MaxPrice:           req.MaxPrice,
		MinDiscountPercent: req.MinDiscountPercent,
	}
	if cat.Priority == 0 {
		cat.Priority = 5
	}
	if cat.MaxPages == 0 {
		cat.MaxPages = 5
	}

	if err := database.CreateCategory(c.Request.Context(), cat); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create category"})
		return
	}

	c.JSON(http.StatusCreated, cat)
}

// UpdateCategory replaces a category's configuration
func UpdateCategory(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("categoryId")

	cat, err := database.GetCategory(ctx, id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load category"})
		return
	}
	if cat == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Category not found"})
		return
	}

	if err := c.ShouldBindJSON(cat); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cat.ID = id
	cat.ClampPriority()

	if err := database.UpdateCategory(ctx, cat); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update category"})
		return
	}

	c.JSON(http.StatusOK, cat)
}

// ToggleCategory enables or disables a category
func ToggleCategory(c *gin.Context) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := database.SetCategoryEnabled(c.Request.Context(), c.Param("categoryId"), req.Enabled); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to toggle category"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"enabled": req.Enabled})
}

// DeleteCategory removes a category
func DeleteCategory(c *gin.Context) {
	if err := database.DeleteCategory(c.Request.Context(), c.Param("categoryId")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete category"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}
