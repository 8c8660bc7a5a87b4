package beacon

import (
	"net/http"
	"strings"
)

var botTokens = []string{
	// generic markers
	"bot", "crawler", "spider", "crawl", "slurp", "scraper",
	// search engines
	"googlebot", "bingbot", "yandex", "baiduspider", "duckduckbot", "applebot", "petalbot", "sogou", "exabot",
	// link unfurlers and previews
	"facebookexternalhit", "facebot", "twitterbot", "linkedinbot", "slackbot", "discordbot", "telegrambot",
	"whatsapp", "skypeuripreview", "pinterestbot", "redditbot", "embedly", "vkshare", "quora link preview",
	// uptime and monitoring
	"uptimerobot", "pingdom", "statuscake", "site24x7", "newrelicpinger", "betteruptime", "datadog",
	// headless and automation
	"headlesschrome", "phantomjs", "puppeteer", "playwright", "selenium", "lighthouse", "chrome-lighthouse",
	// http libraries
	"curl/", "wget/", "python-requests", "python-urllib", "go-http-client", "okhttp", "axios/", "node-fetch",
	"java/", "libwww-perl", "httpclient",
	// SEO tools
	"ahrefs", "semrush", "mj12bot", "dotbot", "screaming frog",
}

// IsBot applies cheap header heuristics. A false positive drops a real visit;
// a false negative is bounded by dedup and quotas.
func IsBot(userAgent string, h http.Header) bool {
	ua := strings.ToLower(strings.TrimSpace(userAgent))
	if ua == "" {
		return true
	}
	for _, token := range botTokens {
		if strings.Contains(ua, token) {
			return true
		}
	}
	return h.Get("Accept-Language") == ""
}
