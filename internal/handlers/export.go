package handlers

import (
	"bytes"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pricehawk/scan-service/internal/export"
)

// ExportDeals streams the latest scan's deals as an XLSX report
// @Summary Export deals
// @Description Returns the deals from the most recent completed scan as a spreadsheet
// @Tags export
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Success 200 {file} binary
// @Failure 404 {object} map[string]string "No scan results available"
// @Router /internal/export/deals [get]
func (h *ScanHandler) ExportDeals(c *gin.Context) {
	deals := h.latestDeals()
	if len(deals) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "No scan results available"})
		return
	}

	var buf bytes.Buffer
	if err := export.WriteDealsXLSX(&buf, deals); err != nil {
		h.logger.Error().Err(err).Msg("Failed to render deal export")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to render export"})
		return
	}

	filename := export.Filename(time.Now())
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
}
