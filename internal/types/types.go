// Package types defines the shared domain records exchanged between the scan
// orchestration components: categories, proxies, discovered products, detected
// deals and scan jobs.
package types

import (
	"fmt"
	"time"
)

// ProxyType classifies a proxy endpoint by its upstream network
type ProxyType string

const (
	ProxyDatacenter  ProxyType = "datacenter"
	ProxyResidential ProxyType = "residential"
	ProxyISP         ProxyType = "isp"
)

// Category is one configured retailer listing page
type Category struct {
	ID                 string     `json:"id" db:"id"`
	Store              string     `json:"store" db:"store"`
	Name               string     `json:"name" db:"name"`
	URL                string     `json:"url" db:"url"`
	Enabled            bool       `json:"enabled" db:"enabled"`
	Priority           int        `json:"priority" db:"priority"` // clamped 1-10
	ScanIntervalMin    int        `json:"scan_interval_minutes" db:"scan_interval_minutes"`
	MaxPages           int        `json:"max_pages" db:"max_pages"`
	IncludeKeywords    []string   `json:"include_keywords" db:"include_keywords"`
	ExcludeKeywords    []string   `json:"exclude_keywords" db:"exclude_keywords"`
	IncludeBrands      []string   `json:"include_brands" db:"include_brands"`
	ExcludeBrands      []string   `json:"exclude_brands" db:"exclude_brands"`
	MinPrice           float64    `json:"min_price" db:"min_price"`
	MaxPrice           float64    `json:"max_price" db:"max_price"`
	MinDiscountPercent float64    `json:"min_discount_percent" db:"min_discount_percent"`
	LastScannedAt      *time.Time `json:"last_scanned_at,omitempty" db:"last_scanned_at"`
	LastError          string     `json:"last_error,omitempty" db:"last_error"`
	LastErrorAt        *time.Time `json:"last_error_at,omitempty" db:"last_error_at"`
	ProductsFound      int        `json:"products_found" db:"products_found"`
	DealsFound         int        `json:"deals_found" db:"deals_found"`
	CreatedAt          time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at" db:"updated_at"`
}

// ClampPriority forces the priority into the 1-10 range
func (c *Category) ClampPriority() {
	if c.Priority < 1 {
		c.Priority = 1
	}
	if c.Priority > 10 {
		c.Priority = 10
	}
}

// Proxy is one upstream egress endpoint
type Proxy struct {
	ID              string     `json:"id" db:"id"`
	Host            string     `json:"host" db:"host"`
	Port            int        `json:"port" db:"port"`
	Username        string     `json:"username,omitempty" db:"username"`
	Password        string     `json:"-" db:"password"`
	Type            ProxyType  `json:"type" db:"type"`
	Enabled         bool       `json:"enabled" db:"enabled"`
	SuccessCount    int64      `json:"success_count" db:"success_count"`
	FailureCount    int64      `json:"failure_count" db:"failure_count"`
	Consecutive403s int        `json:"consecutive_403s" db:"consecutive_403s"`
	LastUsedAt      *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
	LastSuccessAt   *time.Time `json:"last_success_at,omitempty" db:"last_success_at"`
}

// URL renders the proxy as a plain HTTP proxy URL, with credentials when set
func (p *Proxy) URL() string {
	if p.Username != "" {
		return fmt.Sprintf("http://%s:%s@%s:%d", p.Username, p.Password, p.Host, p.Port)
	}
	return fmt.Sprintf("http://%s:%d", p.Host, p.Port)
}

// DiscoveredProduct is one listing row yielded by a parser.
// Prices use a pointer where the listing may genuinely lack the value.
type DiscoveredProduct struct {
	SKU           string   `json:"sku"`
	Title         string   `json:"title"`
	URL           string   `json:"url"`
	CurrentPrice  *float64 `json:"current_price,omitempty"`
	OriginalPrice *float64 `json:"original_price,omitempty"`
	MSRP          *float64 `json:"msrp,omitempty"`
	Brand         string   `json:"brand,omitempty"`
	Store         string   `json:"store"`
	ImageURL      string   `json:"image_url,omitempty"`
	CategoryID    string   `json:"category_id,omitempty"`
}

// DiscountPercent derives the strikethrough discount when both prices are present
func (p *DiscoveredProduct) DiscountPercent() float64 {
	if p.CurrentPrice == nil || p.OriginalPrice == nil || *p.OriginalPrice <= 0 {
		return 0
	}
	if *p.CurrentPrice >= *p.OriginalPrice {
		return 0
	}
	return (1 - *p.CurrentPrice / *p.OriginalPrice) * 100
}

// DetectionMethod tags how a deal candidate was derived
type DetectionMethod string

const (
	MethodStrikethrough DetectionMethod = "strikethrough"
	MethodMSRP          DetectionMethod = "msrp"
	MethodCombined      DetectionMethod = "combined"
)

// DetectedDeal is a DiscoveredProduct promoted by the deal detector
type DetectedDeal struct {
	Product         DiscoveredProduct `json:"product"`
	DiscountPercent float64           `json:"discount_percent"`
	Method          DetectionMethod   `json:"detection_method"`
	Confidence      float64           `json:"confidence"` // [0.1, 1.0]
	Signals         []string          `json:"signals"`
	CategoryContext string            `json:"category_context,omitempty"`
}

// IsSignificant reports whether the deal clears the notification bar
func (d *DetectedDeal) IsSignificant() bool {
	return d.DiscountPercent >= 40 && d.Confidence >= 0.6
}

// IsLikelyError reports whether the deal looks like a pricing mistake
func (d *DetectedDeal) IsLikelyError() bool {
	if d.DiscountPercent >= 70 && d.Confidence >= 0.8 {
		return true
	}
	return len(d.Signals) >= 2 && d.DiscountPercent >= 60
}

// ScanJobKind distinguishes scheduler ticks from operator-triggered scans
type ScanJobKind string

const (
	JobScheduled ScanJobKind = "scheduled"
	JobManual    ScanJobKind = "manual"
)

// ScanJobStatus is the lifecycle state of a scan job
type ScanJobStatus string

const (
	JobPending   ScanJobStatus = "pending"
	JobRunning   ScanJobStatus = "running"
	JobCompleted ScanJobStatus = "completed"
	JobFailed    ScanJobStatus = "failed"
)

// ScanJob is one invocation of the scan engine over a batch of categories
type ScanJob struct {
	ID                  string        `json:"id" db:"id"`
	Kind                ScanJobKind   `json:"kind" db:"kind"`
	Status              ScanJobStatus `json:"status" db:"status"`
	StartedAt           *time.Time    `json:"started_at,omitempty" db:"started_at"`
	CompletedAt         *time.Time    `json:"completed_at,omitempty" db:"completed_at"`
	TotalCategories     int           `json:"total_categories" db:"total_categories"`
	CompletedCategories int           `json:"completed_categories" db:"completed_categories"`
	TotalProducts       int           `json:"total_products" db:"total_products"`
	TotalDeals          int           `json:"total_deals" db:"total_deals"`
	Errors              []string      `json:"errors,omitempty" db:"errors"`
	CreatedAt           time.Time     `json:"created_at" db:"created_at"`
}

// ScanResult summarises one category scan
type ScanResult struct {
	CategoryID    string              `json:"category_id"`
	Store         string              `json:"store"`
	PagesScanned  int                 `json:"pages_scanned"`
	ProductsFound int                 `json:"products_found"`
	ProductsKept  int                 `json:"products_kept"`
	DealsFound    int                 `json:"deals_found"`
	Duration      time.Duration       `json:"duration"`
	Products      []DiscoveredProduct `json:"products,omitempty"`
	Deals         []DetectedDeal      `json:"deals,omitempty"`
	Err           error               `json:"-"`
	ErrMessage    string              `json:"error,omitempty"`
}

// ExclusionKind is the shape of an operator-managed product exclusion rule
type ExclusionKind string

const (
	ExcludeSKU     ExclusionKind = "sku"
	ExcludeKeyword ExclusionKind = "keyword"
	ExcludeBrand   ExclusionKind = "brand"
)

// ProductExclusion is one operator-managed exclusion rule, optionally
// scoped to a store (store "*" applies everywhere)
type ProductExclusion struct {
	ID      string        `json:"id" db:"id"`
	Kind    ExclusionKind `json:"kind" db:"kind"`
	Value   string        `json:"value" db:"value"`
	Store   string        `json:"store" db:"store"`
	Comment string        `json:"comment,omitempty" db:"comment"`
}

// Alert is the payload handed to an AlertSink
type Alert struct {
	Product       DiscoveredProduct `json:"product"`
	Store         string            `json:"store"`
	CurrentPrice  float64           `json:"current_price"`
	PreviousPrice *float64          `json:"previous_price,omitempty"`
	Baseline      *float64          `json:"baseline,omitempty"`
	MSRP          *float64          `json:"msrp,omitempty"`
	Reason        string            `json:"reason"`
	Confidence    float64           `json:"confidence"`
	ImageURL      string            `json:"image_url,omitempty"`
	DetectedAt    time.Time         `json:"detected_at"`
}
