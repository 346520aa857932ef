package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Verdict is the classifier's binary output.
type Verdict string

const (
	VerdictPhishing Verdict = "phishing"
	VerdictSafe     Verdict = "safe"
)

// IsValid reports whether v is one of the known verdicts.
func (v Verdict) IsValid() bool {
	return v == VerdictPhishing || v == VerdictSafe
}

// MaxBodyExcerptRunes bounds the stored body excerpt.
const MaxBodyExcerptRunes = 500

// ClassificationRecord is one classifier run over a submitted email.
// Records are append-only; nothing mutates them after Create.
type ClassificationRecord struct {
	ID           uuid.UUID `json:"id"`
	UserID       uuid.UUID `json:"user_id"`
	SenderDomain string    `json:"sender_domain"`
	Subject      string    `json:"subject"`
	BodyExcerpt  string    `json:"body_excerpt"`
	Verdict      Verdict   `json:"verdict"`
	Confidence   float64   `json:"confidence"` // 0.0 - 1.0
	CreatedAt    time.Time `json:"created_at"`
}

// IsPhishing is a convenience for analytics and alerting.
func (r *ClassificationRecord) IsPhishing() bool {
	return r.Verdict == VerdictPhishing
}

// ClassificationResult is what the external classifier returns.
type ClassificationResult struct {
	Verdict    Verdict `json:"verdict"`
	Confidence float64 `json:"confidence"`
}

// EmailSubmission is the raw email a user asks to have classified.
type EmailSubmission struct {
	Sender  string `json:"sender"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Text joins the parts the classifier scores.
func (s *EmailSubmission) Text() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{s.Sender, s.Subject, s.Body} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "\n")
}

// SenderDomain returns the lowercase domain of an address such as
// "Alerts <alerts@Evil-Bank.com>". Empty when there is no '@'.
func SenderDomain(sender string) string {
	s := strings.TrimSpace(sender)
	if i := strings.LastIndex(s, "<"); i >= 0 {
		s = s[i+1:]
		s = strings.TrimSuffix(strings.TrimSpace(s), ">")
	}
	at := strings.LastIndex(s, "@")
	if at < 0 || at == len(s)-1 {
		return ""
	}
	domain := strings.ToLower(strings.TrimSpace(s[at+1:]))
	domain = strings.TrimRight(domain, ">. ")
	return domain
}

// Excerpt truncates body to MaxBodyExcerptRunes runes.
func Excerpt(body string) string {
	body = strings.TrimSpace(body)
	r := []rune(body)
	if len(r) <= MaxBodyExcerptRunes {
		return body
	}
	return string(r[:MaxBodyExcerptRunes])
}
