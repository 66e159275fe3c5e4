// Package presence classifies browser tabs as active meetings.
//
// Detection runs in one of two tiers. The URL tier looks only at the tab
// URL and is used by surfaces that cannot reach into the page. The DOM
// tier additionally probes the page for in-call markers (video elements,
// call-stage containers) and is used when a DOMProbe is available. How
// the two signals combine is a per-platform policy: some platforms embed
// the call state in the URL, some only show it in the page, and Google
// Meet needs both (a meeting code URL is also the lobby).
package presence

import (
	"net/url"
	"regexp"
	"strings"
)

// Platform identifies a supported meeting service.
type Platform string

const (
	GoogleMeet Platform = "google-meet"
	Zoom       Platform = "zoom"
	Teams      Platform = "teams"
	Webex      Platform = "webex"
	WhatsApp   Platform = "whatsapp"
)

// KnownPlatform reports whether p names a supported meeting service.
func KnownPlatform(p Platform) bool {
	switch p {
	case GoogleMeet, Zoom, Teams, Webex, WhatsApp:
		return true
	}
	return false
}

// Meeting is a detected active meeting in a tab.
type Meeting struct {
	// Platform is the meeting service hosting the call.
	Platform Platform `json:"platform"`

	// ID is the platform-specific meeting identifier. For Google Meet this
	// is the dashed meeting code; for other platforms it is derived from
	// the URL path.
	ID string `json:"id"`

	// URL is the tab URL the meeting was detected on.
	URL string `json:"url"`
}

// Key returns a stable identity for deduplication across detection cycles.
func (m Meeting) Key() string {
	return string(m.Platform) + "/" + m.ID
}

// DOMProbe reports whether any element matching the CSS selector exists in
// the page. A nil DOMProbe selects the URL-only tier.
type DOMProbe func(selector string) bool

// meetCodeRe matches a Google Meet meeting code path segment
// (e.g. "abc-defg-hij"). A bare meet.google.com homepage has no code and
// must never classify as a meeting.
var meetCodeRe = regexp.MustCompile(`(?i)meet\.google\.com/([a-z0-9]{3,4}-[a-z0-9]{4}-[a-z0-9]{3,4})`)

// domPolicy is how a platform combines its URL and DOM signals in the
// DOM tier. The URL tier always decides on the URL signal alone, except
// for domOnly platforms, which it never classifies active.
type domPolicy int

const (
	// urlAndDOM requires the URL signal plus an in-call marker. The URL
	// alone also matches lobby and ended-call pages.
	urlAndDOM domPolicy = iota

	// urlOrDOM accepts either signal: the join URL or an in-call marker.
	urlOrDOM

	// urlOnly decides on the URL signal; the page carries no extra
	// information worth requiring.
	urlOnly

	// domOnly requires an in-call marker; the URL never signals a call.
	domOnly
)

// rule is one row of the platform decision table.
type rule struct {
	platform Platform

	// domain reports whether the lowercased host belongs to the platform.
	domain func(host string) bool

	// match extracts a meeting ID from the URL signal, or returns false.
	match func(u *url.URL, raw string) (string, bool)

	// selectors are the in-call DOM markers probed in the DOM tier.
	selectors []string

	policy domPolicy
}

var rules = []rule{
	{
		platform: GoogleMeet,
		domain:   func(host string) bool { return strings.Contains(host, "meet.google.com") },
		match: func(_ *url.URL, raw string) (string, bool) {
			m := meetCodeRe.FindStringSubmatch(raw)
			if m == nil {
				return "", false
			}
			return strings.ToLower(m[1]), true
		},
		selectors: []string{"video", `[aria-label*="Leave call"]`},
		policy:    urlAndDOM,
	},
	{
		platform: Zoom,
		domain:   func(host string) bool { return strings.Contains(host, "zoom.us") },
		match: func(u *url.URL, _ string) (string, bool) {
			for _, prefix := range []string{"/j/", "/wc/"} {
				if rest, ok := strings.CutPrefix(u.Path, prefix); ok && rest != "" {
					return strings.SplitN(rest, "/", 2)[0], true
				}
			}
			return "", false
		},
		selectors: []string{".meeting-client", ".meeting-app"},
		policy:    urlOrDOM,
	},
	{
		platform: Teams,
		domain: func(host string) bool {
			return strings.Contains(host, "teams.microsoft.com") || strings.Contains(host, "teams.live.com")
		},
		match: func(u *url.URL, _ string) (string, bool) {
			if strings.Contains(u.Path, "/meeting") || strings.Contains(u.Path, "/l/meetup") {
				return pathID(u), true
			}
			return "", false
		},
		policy: urlOnly,
	},
	{
		platform: Webex,
		domain:   func(host string) bool { return strings.Contains(host, "webex.com") },
		match: func(u *url.URL, _ string) (string, bool) {
			if strings.Contains(u.Path, "/meet") {
				return pathID(u), true
			}
			return "", false
		},
		policy: urlOnly,
	},
	{
		platform: WhatsApp,
		domain:   func(host string) bool { return strings.Contains(host, "web.whatsapp.com") },
		match: func(_ *url.URL, _ string) (string, bool) {
			return "call", true
		},
		selectors: []string{`[data-testid="call"]`, "video"},
		policy:    domOnly,
	},
}

// domHit reports whether any of the rule's in-call markers is present.
func (r rule) domHit(probe DOMProbe) bool {
	for _, sel := range r.selectors {
		if probe(sel) {
			return true
		}
	}
	return false
}

// Detect classifies rawURL against the platform decision table.
//
// With a nil probe only the URL signal is available: a platform is active
// when its URL pattern matches, except domOnly platforms, which never
// classify. With a probe the platform's policy decides how the URL and
// DOM signals combine. Once a platform's domain matches, no later rule
// is consulted.
func Detect(rawURL string, probe DOMProbe) (Meeting, bool) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return Meeting{}, false
	}
	host := strings.ToLower(u.Host)

	for _, r := range rules {
		if !r.domain(host) {
			continue
		}
		id, urlHit := r.match(u, rawURL)

		var active bool
		switch r.policy {
		case urlAndDOM:
			active = urlHit && (probe == nil || r.domHit(probe))
		case urlOrDOM:
			active = urlHit || (probe != nil && r.domHit(probe))
		case urlOnly:
			active = urlHit
		case domOnly:
			active = probe != nil && r.domHit(probe)
		}
		if !active {
			return Meeting{}, false
		}
		if id == "" {
			id = pathID(u)
		}
		return Meeting{Platform: r.platform, ID: id, URL: rawURL}, true
	}
	return Meeting{}, false
}

// pathID derives a meeting identifier from the last non-empty URL path
// segment. Used by platforms without a structured meeting code.
func pathID(u *url.URL) string {
	segs := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(segs) == 0 {
		return "unknown"
	}
	last := segs[len(segs)-1]
	if last == "" {
		return "unknown"
	}
	return strings.ToLower(last)
}
