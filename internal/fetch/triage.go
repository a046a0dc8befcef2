package fetch

import (
	"mime"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
)

// botChallengePhrases are scanned case-insensitively in the normalised body.
// A match means the page is a WAF interstitial rather than site content.
var botChallengePhrases = []struct {
	phrase    string
	blockType string
}{
	{"captcha", "captcha"},
	{"robot check", "captcha"},
	{"are you a robot", "captcha"},
	{"cloudflare", "cloudflare"},
	{"attention required", "cloudflare"},
	{"akamai", "akamai"},
	{"incapsula", "incapsula"},
	{"imperva", "incapsula"},
	{"perimeterx", "perimeterx"},
	{"px-captcha", "perimeterx"},
	{"access denied", "access_denied"},
	{"request blocked", "access_denied"},
	{"enable javascript and cookies", "js_challenge"},
	{"please enable javascript", "js_challenge"},
	{"pardon our interruption", "bot_check"},
	{"unusual traffic", "bot_check"},
}

var embeddedJSONPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?s)<script[^>]*id="__NEXT_DATA__"[^>]*>(.*?)</script>`),
	regexp.MustCompile(`(?s)window\.__INITIAL_STATE__\s*=\s*(\{.*?\})\s*;?\s*</script>`),
	regexp.MustCompile(`(?s)window\.__PRELOADED_STATE__\s*=\s*(\{.*?\})\s*;?\s*</script>`),
}

var jsonLDPattern = regexp.MustCompile(`(?s)<script[^>]*type="application/ld\+json"[^>]*>(.*?)</script>`)

// decodeBody converts a response body to UTF-8. Valid UTF-8 passes through;
// otherwise the Content-Type charset drives the decode, with Windows-1252 as
// the fallback for the mislabelled legacy pages retailers still serve.
func decodeBody(body []byte, contentType string) string {
	if utf8.Valid(body) {
		return string(body)
	}

	if contentType != "" {
		if _, params, err := mime.ParseMediaType(contentType); err == nil {
			if name := params["charset"]; name != "" {
				if enc, err := htmlindex.Get(name); err == nil {
					if decoded, err := enc.NewDecoder().Bytes(body); err == nil {
						return string(decoded)
					}
				}
			}
		}
	}

	decoded, err := charmap.Windows1252.NewDecoder().Bytes(body)
	if err != nil {
		return string(body)
	}
	return string(decoded)
}

// detectBotChallenge scans the normalised body for challenge phrases.
// Returns the block type label, or empty when the page looks legitimate.
func detectBotChallenge(body string) string {
	// Challenge interstitials are small; a large page with a stray keyword
	// ("cloudflare" in a script URL) is site content, not a block.
	if len(body) > 512*1024 {
		return ""
	}
	lower := strings.ToLower(body)
	for _, p := range botChallengePhrases {
		if strings.Contains(lower, p.phrase) {
			return p.blockType
		}
	}
	return ""
}

// extractEmbeddedJSON pulls hydration payloads (__NEXT_DATA__ and friends)
// or a JSON-LD Product/ItemList block out of the page. Returns nil when the
// page carries no embedded product JSON.
func extractEmbeddedJSON(body string) []byte {
	for _, re := range embeddedJSONPatterns {
		if m := re.FindStringSubmatch(body); m != nil {
			payload := strings.TrimSpace(m[1])
			if len(payload) > 2 {
				return []byte(payload)
			}
		}
	}

	for _, m := range jsonLDPattern.FindAllStringSubmatch(body, -1) {
		payload := strings.TrimSpace(m[1])
		if strings.Contains(payload, `"Product"`) || strings.Contains(payload, `"ItemList"`) {
			return []byte(payload)
		}
	}
	return nil
}

// countProductIndicators counts per-site DOM markers in the body. Zero on an
// otherwise-valid page means the listing template rendered empty.
func countProductIndicators(body string, indicators []string) int {
	count := 0
	for _, marker := range indicators {
		count += strings.Count(body, marker)
	}
	return count
}
