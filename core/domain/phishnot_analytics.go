package domain

import "time"

// PeriodTotals summarizes a user's scans in the period.
type PeriodTotals struct {
	Scans            int     `json:"scans"`
	PhishingDetected int     `json:"phishing_detected"`
	SafeEmails       int     `json:"safe_emails"`
	AvgConfidence    float64 `json:"avg_confidence"`
}

// DailyCount is one calendar day of scans.
type DailyCount struct {
	Date     string `json:"date"` // YYYY-MM-DD (UTC)
	Total    int    `json:"total"`
	Phishing int    `json:"phishing"`
	Safe     int    `json:"safe"`
}

// DomainCount ranks sender domains by occurrence.
type DomainCount struct {
	Domain string `json:"domain"`
	Count  int    `json:"count"`
}

// ThreatTrend compares the phishing rate of the recent half of the period
// against the older half.
type ThreatTrend struct {
	RecentRate       float64 `json:"recent_rate"`
	OlderRate        float64 `json:"older_rate"`
	PercentageChange int     `json:"percentage_change"`
	Increasing       bool    `json:"increasing"`
}

// Analytics is the full read-side rollup.
type Analytics struct {
	UserID         string        `json:"user_id"`
	PeriodStart    time.Time     `json:"period_start"`
	PeriodEnd      time.Time     `json:"period_end"`
	Totals         PeriodTotals  `json:"period_totals"`
	DailyBreakdown []DailyCount  `json:"daily_breakdown"`
	TopDomains     []DomainCount `json:"top_domains"`
	ThreatTrend    ThreatTrend   `json:"threat_trend"`
	Feedback       FeedbackStats `json:"feedback"`
}

// FeedbackStats counts the user's corrections in the period.
type FeedbackStats struct {
	Accepted  int `json:"accepted"`
	Rejected  int `json:"rejected"`
	Incorrect int `json:"incorrect"`
}

// Period is an analytics lookback window.
type Period string

const (
	Period7d  Period = "7d"
	Period30d Period = "30d"
	Period90d Period = "90d"

	DefaultPeriod = Period30d
)

// ParsePeriod accepts "7d", "30d" or "90d"; empty means DefaultPeriod.
func ParsePeriod(s string) (Period, bool) {
	switch Period(s) {
	case "":
		return DefaultPeriod, true
	case Period7d, Period30d, Period90d:
		return Period(s), true
	}
	return "", false
}

// Duration returns the period length.
func (p Period) Duration() time.Duration {
	switch p {
	case Period7d:
		return 7 * 24 * time.Hour
	case Period90d:
		return 90 * 24 * time.Hour
	default:
		return 30 * 24 * time.Hour
	}
}
