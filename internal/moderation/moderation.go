// Package moderation implements the content moderator (C7): an ordered
// set of regex/keyword rules, an optional remote moderation API call, and
// HTML sanitization of the accepted body.
package moderation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

// Category is the generic reject reason token returned to clients (spec
// §7 — the exact rule is never disclosed, only the category).
type Category string

const (
	CategoryEmbeddedPhone Category = "embedded_phone"
	CategoryScamURL       Category = "scam_url"
	CategoryProfanity     Category = "profanity"
	CategorySpam          Category = "spam"
	CategoryOffTopic      Category = "off_topic"
	CategoryOther         Category = "other"
)

// Decision is the outcome of moderating a body.
type Decision struct {
	Accepted bool
	Category Category
	// Sanitized is only meaningful when Accepted is true.
	Sanitized string
}

var (
	phonePatterns = []*regexp.Regexp{
		regexp.MustCompile(`\+?\d{1,3}[-.\s]?\(?\d{2,4}\)?[-.\s]?\d{3,4}[-.\s]?\d{3,4}`),
		regexp.MustCompile(`\b\d{3}[-.]\d{3}[-.]\d{4}\b`),
		regexp.MustCompile(`\(\d{3}\)\s?\d{3}[-.\s]?\d{4}`),
	}

	scamHosts = []string{
		"t.me", "telegram.me", "bit.ly", "tinyurl.com", "goo.gl",
		"rebrand.ly", "ow.ly", "lnk.co", "clickbank.net",
	}

	urlPattern = regexp.MustCompile(`https?://\S+|(?:\b[a-z0-9-]+\.)+[a-z]{2,}(?:/\S*)?`)

	profanityWords = []string{
		"fuck", "shit", "bitch", "asshole", "bastard", "chutiya", "madarchod",
		"behenchod", "bhosdike", "gandu", "randi",
	}

	spamPhrases = []string{
		"contact me on telegram", "dm me", "whatsapp only",
		"make money fast", "limited offer", "act fast", "click here now",
		"guaranteed income", "work from home earn",
	}

	rentalKeywords = map[string]struct{}{
		"room": {}, "flat": {}, "apartment": {}, "bhk": {}, "rent": {},
		"rental": {}, "property": {}, "location": {}, "available": {},
		"looking": {}, "accommodation": {}, "deposit": {}, "furnished": {},
		"sharing": {}, "parking": {}, "tenant": {}, "landlord": {},
	}

	sanitizePolicy = bluemonday.StrictPolicy()
)

// RemoteChecker abstracts the optional remote moderation API call (spec
// §4.7 item 9). A nil RemoteChecker disables remote moderation entirely.
type RemoteChecker interface {
	Check(ctx context.Context, text string) (flagged bool, category Category, err error)
}

// Moderator runs the ordered rule chain and, on acceptance, sanitizes the
// body.
type Moderator struct {
	remote RemoteChecker
}

func New(remote RemoteChecker) *Moderator {
	return &Moderator{remote: remote}
}

// Moderate evaluates text against every rule in the order spec §4.7
// specifies, returning the first rejection encountered. On acceptance the
// body is HTML-sanitized and the sanitized text is what must be stored
// (spec §3's "body contains no HTML after sanitization" invariant).
//
// Moderate is idempotent once sanitized: re-running it against its own
// Sanitized output reaches the same Accept decision, since sanitization
// only removes markup and none of the rules above key on markup.
func (m *Moderator) Moderate(ctx context.Context, text string) Decision {
	if containsAny(text, phonePatterns) {
		return Decision{Category: CategoryEmbeddedPhone}
	}

	urls := urlPattern.FindAllString(text, -1)
	for _, u := range urls {
		if hasScamHost(u) {
			return Decision{Category: CategoryScamURL}
		}
	}
	if len(urls) >= 3 {
		return Decision{Category: CategoryScamURL}
	}

	if containsWord(text, profanityWords) {
		return Decision{Category: CategoryProfanity}
	}

	lower := strings.ToLower(text)
	for _, phrase := range spamPhrases {
		if strings.Contains(lower, phrase) {
			return Decision{Category: CategorySpam}
		}
	}

	if looksLikeShouting(text) || hasLongRepeatedRun(text) {
		return Decision{Category: CategorySpam}
	}

	if !passesRelevance(text) {
		return Decision{Category: CategoryOffTopic}
	}

	if m.remote != nil {
		// Fail-open: a remote outage never blocks a legitimate post
		// (spec §9 — availability over precision on the rare outage).
		flagged, category, err := m.remote.Check(ctx, text)
		if err == nil && flagged {
			return Decision{Category: category}
		}
	}

	return Decision{Accepted: true, Sanitized: sanitizePolicy.Sanitize(text)}
}

func containsAny(text string, patterns []*regexp.Regexp) bool {
	for _, p := range patterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

func hasScamHost(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	for _, host := range scamHosts {
		if strings.Contains(lower, host) {
			return true
		}
	}
	return false
}

// containsWord matches each word at a left word boundary only, so
// "fuck" also catches common suffixed variants like "fucking" — a
// closing boundary would miss those (spec §4.7 item 5).
func containsWord(text string, words []string) bool {
	lower := strings.ToLower(text)
	for _, w := range words {
		re := regexp.MustCompile(`\b` + regexp.QuoteMeta(w))
		if re.MatchString(lower) {
			return true
		}
	}
	return false
}

// looksLikeShouting flags bodies that are more than 70% uppercase letters,
// only evaluated once the body has at least 10 letters (spec §4.7 item 7).
func looksLikeShouting(text string) bool {
	var letters, upper int
	for _, r := range text {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		}
	}
	if letters < 10 {
		return false
	}
	return float64(upper)/float64(letters) > 0.7
}

// hasLongRepeatedRun flags any run of the same character longer than 5.
func hasLongRepeatedRun(text string) bool {
	runes := []rune(text)
	run := 1
	for i := 1; i < len(runes); i++ {
		if runes[i] == runes[i-1] {
			run++
			if run > 5 {
				return true
			}
		} else {
			run = 1
		}
	}
	return false
}

// passesRelevance requires at least 10% of tokens to be rental-domain
// keywords for bodies longer than 3 words; shorter bodies skip the check
// entirely (spec §4.7 item 8).
func passesRelevance(text string) bool {
	words := strings.Fields(text)
	if len(words) <= 3 {
		return true
	}
	matches := 0
	for _, w := range words {
		clean := strings.ToLower(strings.Trim(w, ".,!?;:()\"'"))
		if _, ok := rentalKeywords[clean]; ok {
			matches++
		}
	}
	return float64(matches)/float64(len(words)) >= 0.10
}

// HTTPRemoteChecker is the default RemoteChecker, calling a configured
// third-party moderation endpoint with a JSON body and a bearer API key.
// A timeout bounds the call per spec §5's suspension-point rule; the
// caller (Moderator.Moderate) treats any error as a pass, not this type.
type HTTPRemoteChecker struct {
	URL     string
	APIKey  string
	Client  *http.Client
	Timeout time.Duration
}

type remoteRequest struct {
	Text string `json:"text"`
}

type remoteResponse struct {
	Flagged    bool     `json:"flagged"`
	Categories []string `json:"categories"`
}

var flaggedCategories = map[string]Category{
	"hate":        CategoryOther,
	"harassment":  CategoryOther,
	"sexual":      CategoryOther,
	"violence":    CategoryOther,
}

func (c *HTTPRemoteChecker) Check(ctx context.Context, text string) (bool, Category, error) {
	body, err := json.Marshal(remoteRequest{Text: text})
	if err != nil {
		return false, "", err
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.URL, bytes.NewReader(body))
	if err != nil {
		return false, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return false, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, "", fmt.Errorf("moderation api: status %d", resp.StatusCode)
	}

	var out remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, "", err
	}
	if !out.Flagged {
		return false, "", nil
	}
	for _, cat := range out.Categories {
		if mapped, ok := flaggedCategories[cat]; ok {
			return true, mapped, nil
		}
	}
	return false, "", nil
}
