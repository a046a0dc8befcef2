// Package export renders deal reports for operators.
package export

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/pricehawk/scan-service/internal/types"
)

const dealSheet = "Deals"

var dealHeaders = []string{
	"Store", "SKU", "Title", "Brand", "Current Price", "Original Price", "MSRP",
	"Discount %", "Method", "Confidence", "Significant", "Likely Error", "URL",
}

// WriteDealsXLSX renders deals as a spreadsheet, highest discount first
func WriteDealsXLSX(w io.Writer, deals []types.DetectedDeal) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), dealSheet); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}

	for i, header := range dealHeaders {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(dealSheet, cell, header); err != nil {
			return err
		}
	}

	sorted := make([]types.DetectedDeal, len(deals))
	copy(sorted, deals)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].DiscountPercent > sorted[j].DiscountPercent
	})

	for row, deal := range sorted {
		values := []interface{}{
			deal.Product.Store,
			deal.Product.SKU,
			deal.Product.Title,
			deal.Product.Brand,
			deref(deal.Product.CurrentPrice),
			deref(deal.Product.OriginalPrice),
			deref(deal.Product.MSRP),
			deal.DiscountPercent,
			string(deal.Method),
			deal.Confidence,
			deal.IsSignificant(),
			deal.IsLikelyError(),
			deal.Product.URL,
		}
		for col, value := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, row+2)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(dealSheet, cell, value); err != nil {
				return err
			}
		}
	}

	_, err := f.WriteTo(w)
	return err
}

// Filename derives a timestamped report name
func Filename(now time.Time) string {
	return fmt.Sprintf("deals_%s.xlsx", now.Format("20060102_150405"))
}

func deref(v *float64) interface{} {
	if v == nil {
		return ""
	}
	return *v
}
