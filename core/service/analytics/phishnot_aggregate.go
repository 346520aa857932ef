package analytics

import (
	"math"
	"sort"
	"time"

	"phishnot_server/core/domain"
)

const (
	breakdownDays = 7
	topDomainsMax = 5
	dateLayout    = "2006-01-02"
)

// Aggregate builds the rollup from records in [start, end]. Records outside
// the period still count towards the daily breakdown when they fall in the
// last seven UTC days. records must be newest first.
func Aggregate(records []*domain.ClassificationRecord, start, end time.Time) *domain.Analytics {
	inPeriod := make([]*domain.ClassificationRecord, 0, len(records))
	for _, r := range records {
		if !r.CreatedAt.Before(start) && !r.CreatedAt.After(end) {
			inPeriod = append(inPeriod, r)
		}
	}

	return &domain.Analytics{
		PeriodStart:    start,
		PeriodEnd:      end,
		Totals:         Totals(inPeriod),
		DailyBreakdown: DailyBreakdown(records, end),
		TopDomains:     TopDomains(inPeriod, topDomainsMax),
		ThreatTrend:    Trend(inPeriod),
	}
}

// Totals counts scans and averages confidence.
func Totals(records []*domain.ClassificationRecord) domain.PeriodTotals {
	var t domain.PeriodTotals
	var sum float64
	for _, r := range records {
		t.Scans++
		if r.IsPhishing() {
			t.PhishingDetected++
		} else {
			t.SafeEmails++
		}
		sum += r.Confidence
	}
	if t.Scans > 0 {
		t.AvgConfidence = sum / float64(t.Scans)
	}
	return t
}

// DailyBreakdown returns exactly seven UTC days ending on now's date,
// oldest first. Empty days are zero rows.
func DailyBreakdown(records []*domain.ClassificationRecord, now time.Time) []domain.DailyCount {
	today := now.UTC().Truncate(24 * time.Hour)
	days := make([]domain.DailyCount, breakdownDays)
	index := make(map[string]int, breakdownDays)
	for i := range days {
		date := today.AddDate(0, 0, i-(breakdownDays-1)).Format(dateLayout)
		days[i].Date = date
		index[date] = i
	}

	for _, r := range records {
		i, ok := index[r.CreatedAt.UTC().Format(dateLayout)]
		if !ok {
			continue
		}
		days[i].Total++
		if r.IsPhishing() {
			days[i].Phishing++
		} else {
			days[i].Safe++
		}
	}
	return days
}

// TopDomains ranks sender domains by count, ties broken by name.
// Records without a sender domain are ignored.
func TopDomains(records []*domain.ClassificationRecord, limit int) []domain.DomainCount {
	counts := make(map[string]int)
	for _, r := range records {
		if r.SenderDomain == "" {
			continue
		}
		counts[r.SenderDomain]++
	}

	ranked := make([]domain.DomainCount, 0, len(counts))
	for d, c := range counts {
		ranked = append(ranked, domain.DomainCount{Domain: d, Count: c})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Count != ranked[j].Count {
			return ranked[i].Count > ranked[j].Count
		}
		return ranked[i].Domain < ranked[j].Domain
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}

// Trend splits newest-first records into a recent and an older half and
// compares their phishing rates. With an odd count the extra record goes
// to the older half.
func Trend(records []*domain.ClassificationRecord) domain.ThreatTrend {
	half := len(records) / 2
	recent := phishingRate(records[:half])
	older := phishingRate(records[half:])

	trend := domain.ThreatTrend{
		RecentRate: recent,
		OlderRate:  older,
		Increasing: recent > older,
	}
	if older > 0 {
		trend.PercentageChange = int(math.Round((recent - older) / older * 100))
	}
	return trend
}

func phishingRate(records []*domain.ClassificationRecord) float64 {
	if len(records) == 0 {
		return 0
	}
	phishing := 0
	for _, r := range records {
		if r.IsPhishing() {
			phishing++
		}
	}
	return float64(phishing) / float64(len(records))
}
