package mailer

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/brightsend/campaign-dispatcher/internal/model"
	"github.com/google/uuid"
)

var (
	hrefPattern = regexp.MustCompile(`(?i)href\s*=\s*(["'])(.*?)(["'])`)
	bodyClose   = regexp.MustCompile(`(?i)</body>`)
)

// NewTrackingID returns a fresh per-email tracking id.
func NewTrackingID() string {
	return uuid.New().String()
}

// skipTracking reports whether an href target must be left untouched.
func skipTracking(url string) bool {
	trimmed := strings.TrimSpace(url)
	lower := strings.ToLower(trimmed)
	return trimmed == "" ||
		strings.HasPrefix(trimmed, "#") ||
		strings.HasPrefix(lower, "javascript:") ||
		strings.HasPrefix(lower, "mailto:")
}

// RewriteLinks replaces every trackable href in the body with a per-link
// redirect keyed by (trackingID, linkID) and returns the link map.
// Anchors, javascript: and mailto: targets are left unchanged.
func RewriteLinks(html, baseURL, trackingID string) (string, []model.TrackedLink) {
	var links []model.TrackedLink

	rewritten := hrefPattern.ReplaceAllStringFunc(html, func(match string) string {
		parts := hrefPattern.FindStringSubmatch(match)
		if parts == nil {
			return match
		}
		quote, target := parts[1], parts[2]
		if skipTracking(target) {
			return match
		}

		linkID := uuid.New().String()
		links = append(links, model.TrackedLink{ID: linkID, URL: target})
		redirect := fmt.Sprintf("%s/t/c/%s/%s", baseURL, trackingID, linkID)
		return "href=" + quote + redirect + quote
	})

	return rewritten, links
}

// InjectPixel appends a 1x1 open-tracking pixel, before the closing body
// tag when one exists.
func InjectPixel(html, baseURL, trackingID string) string {
	pixel := fmt.Sprintf(`<img src="%s/t/o/%s" width="1" height="1" alt="" style="display:none"/>`, baseURL, trackingID)

	loc := bodyClose.FindStringIndex(html)
	if loc == nil {
		return html + pixel
	}
	return html[:loc[0]] + pixel + html[loc[0]:]
}
