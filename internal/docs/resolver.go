package docs

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Tokens holds the identifying fragments extracted from a question.
type Tokens struct {
	Subject     string // canonical upper-case form, empty when absent
	Date        string // match form, "2024-03-05" or "03-05" without a year
	DateDisplay string // the date as the user wrote it
}

// NotFoundError reports that no stored document matched the question,
// carrying the extracted tokens so callers can give an actionable hint.
type NotFoundError struct {
	Tokens Tokens
}

func (e *NotFoundError) Error() string {
	var parts []string
	if e.Tokens.Subject != "" {
		parts = append(parts, fmt.Sprintf("subject %q", e.Tokens.Subject))
	}
	if e.Tokens.DateDisplay != "" {
		parts = append(parts, fmt.Sprintf("date %q", e.Tokens.DateDisplay))
	}
	criteria := "your question"
	if len(parts) > 0 {
		criteria = strings.Join(parts, " and ")
	}
	return fmt.Sprintf("no stored documents matched %s; name uploaded files like PROJECT-TOPIC-YYYY-MM-DD so they can be found", criteria)
}

var (
	isoDatePattern   = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	monthDatePattern = regexp.MustCompile(`(?i)\b(January|February|March|April|May|June|July|August|September|October|November|December)\s+(\d{1,2})(?:st|nd|rd|th)?(?:,?\s+(\d{4}))?\b`)
)

var monthNumbers = map[string]int{
	"january": 1, "february": 2, "march": 3, "april": 4,
	"may": 5, "june": 6, "july": 7, "august": 8,
	"september": 9, "october": 10, "november": 11, "december": 12,
}

var subjectStopwords = map[string]struct{}{
	"who": {}, "what": {}, "when": {}, "where": {}, "which": {}, "why": {}, "how": {},
	"the": {}, "of": {}, "a": {}, "an": {}, "on": {}, "in": {}, "at": {}, "for": {},
	"to": {}, "from": {}, "about": {}, "did": {}, "was": {}, "were": {}, "are": {},
	"is": {}, "be": {}, "me": {}, "my": {}, "our": {}, "we": {}, "us": {}, "you": {},
	"show": {}, "tell": {}, "give": {}, "list": {}, "please": {}, "summarize": {},
	"summary": {}, "attended": {}, "attendees": {}, "attendance": {}, "decisions": {},
	"decided": {}, "decision": {}, "action": {}, "items": {}, "item": {},
	"minutes": {}, "meeting": {}, "meetings": {}, "review": {}, "reviews": {},
	"discussion": {}, "discussed": {}, "project": {}, "projects": {}, "held": {},
	"last": {}, "this": {}, "that": {}, "there": {}, "any": {}, "all": {},
}

var subjectTokenPattern = regexp.MustCompile(`[A-Za-z0-9-]+`)

// ExtractTokens pulls an optional date and an optional subject out of a
// free-text question.
func ExtractTokens(question string) Tokens {
	var tokens Tokens
	stripped := question

	if m := isoDatePattern.FindStringSubmatch(question); m != nil {
		tokens.DateDisplay = m[0]
		tokens.Date = m[0]
		stripped = isoDatePattern.ReplaceAllString(stripped, " ")
	} else if m := monthDatePattern.FindStringSubmatch(question); m != nil {
		tokens.DateDisplay = m[0]
		tokens.Date = canonicalDate(m[1], m[2], m[3])
		stripped = monthDatePattern.ReplaceAllString(stripped, " ")
	}

	for _, candidate := range subjectTokenPattern.FindAllString(stripped, -1) {
		lowered := strings.ToLower(candidate)
		if len(lowered) < 3 {
			continue
		}
		if _, stop := subjectStopwords[lowered]; stop {
			continue
		}
		tokens.Subject = strings.ToUpper(strings.Trim(candidate, "-"))
		break
	}
	return tokens
}

func canonicalDate(month, day, year string) string {
	m := monthNumbers[strings.ToLower(month)]
	d, _ := strconv.Atoi(day)
	if year != "" {
		return fmt.Sprintf("%s-%02d-%02d", year, m, d)
	}
	return fmt.Sprintf("%02d-%02d", m, d)
}

// Resolver selects the stored documents most likely to answer a question.
type Resolver struct {
	store  *Store
	logger *slog.Logger
}

func NewResolver(store *Store, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Resolver{store: store, logger: logger}
}

// Resolve returns up to three matching documents ranked by relevance and
// recency. A zero-match outcome is a *NotFoundError, not an empty slice.
func (r *Resolver) Resolve(ctx context.Context, question string) ([]Record, error) {
	tokens := ExtractTokens(question)
	r.logger.Debug("resolving documents", "subject", tokens.Subject, "date", tokens.Date)

	var (
		records []Record
		err     error
	)
	switch {
	case tokens.Subject != "" && tokens.Date != "":
		records, err = r.store.findBySubjectAndDate(ctx, tokens.Subject, tokens.Date)
	case tokens.Subject != "":
		records, err = r.store.findBySubject(ctx, tokens.Subject)
		if err == nil {
			records = rankBySubject(records, tokens.Subject)
		}
	case tokens.Date != "":
		records, err = r.store.findByDate(ctx, tokens.Date)
	default:
		records, err = r.store.findFallback(ctx)
	}
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, &NotFoundError{Tokens: tokens}
	}
	if len(records) > 3 {
		records = records[:3]
	}
	return records, nil
}

// rankBySubject orders candidates by how closely their stored name matches
// the subject token, preserving recency order among equal scores.
func rankBySubject(records []Record, subject string) []Record {
	sort.SliceStable(records, func(i, j int) bool {
		return subjectScore(records[i].Name, subject) > subjectScore(records[j].Name, subject)
	})
	return records
}

func subjectScore(name, subject string) int {
	score := 0
	for _, part := range strings.Split(name, "-") {
		if part == subject {
			score += 2
		} else if strings.Contains(part, subject) {
			score++
		}
	}
	return score
}
