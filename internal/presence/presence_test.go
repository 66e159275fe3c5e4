package presence

import "testing"

func TestDetectURLTier(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		url      string
		want     bool
		platform Platform
		id       string
	}{
		{name: "gmeet homepage never active", url: "https://meet.google.com/", want: false},
		{name: "gmeet landing with query", url: "https://meet.google.com/?authuser=0", want: false},
		{name: "gmeet dashed code active", url: "https://meet.google.com/abc-defg-hij", want: true, platform: GoogleMeet, id: "abc-defg-hij"},
		{name: "gmeet code uppercased", url: "https://MEET.GOOGLE.COM/ABC-DEFG-HIJ", want: true, platform: GoogleMeet, id: "abc-defg-hij"},
		{name: "gmeet four char first group", url: "https://meet.google.com/abcd-efgh-ijk", want: true, platform: GoogleMeet, id: "abcd-efgh-ijk"},
		{name: "gmeet malformed code", url: "https://meet.google.com/ab-cd-ef", want: false},
		{name: "zoom join link", url: "https://us02web.zoom.us/j/1234567890", want: true, platform: Zoom, id: "1234567890"},
		{name: "zoom web client", url: "https://zoom.us/wc/9876543210/join", want: true, platform: Zoom, id: "9876543210"},
		{name: "zoom homepage", url: "https://zoom.us/", want: false},
		{name: "teams meetup link", url: "https://teams.microsoft.com/l/meetup-join/19%3ameeting", want: true, platform: Teams},
		{name: "teams live meeting", url: "https://teams.live.com/meet/9491830303", want: true, platform: Teams, id: "9491830303"},
		{name: "teams homepage", url: "https://teams.microsoft.com/", want: false},
		{name: "webex meet link", url: "https://company.webex.com/meet/jdoe", want: true, platform: Webex, id: "jdoe"},
		{name: "webex homepage", url: "https://www.webex.com/", want: false},
		{name: "whatsapp url alone never active", url: "https://web.whatsapp.com/", want: false},
		{name: "unrelated site", url: "https://example.com/abc-defg-hij", want: false},
		{name: "garbage url", url: "::not-a-url::", want: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			m, ok := Detect(tc.url, nil)
			if ok != tc.want {
				t.Fatalf("Detect(%q) active = %v, want %v", tc.url, ok, tc.want)
			}
			if !tc.want {
				return
			}
			if m.Platform != tc.platform {
				t.Errorf("platform = %q, want %q", m.Platform, tc.platform)
			}
			if tc.id != "" && m.ID != tc.id {
				t.Errorf("id = %q, want %q", m.ID, tc.id)
			}
		})
	}
}

func TestDetectDOMTier(t *testing.T) {
	t.Parallel()

	probeMatching := func(matched ...string) DOMProbe {
		return func(sel string) bool {
			for _, m := range matched {
				if m == sel {
					return true
				}
			}
			return false
		}
	}

	t.Run("whatsapp active only with call marker", func(t *testing.T) {
		t.Parallel()
		if _, ok := Detect("https://web.whatsapp.com/", probeMatching()); ok {
			t.Fatal("whatsapp without DOM markers should be inactive")
		}
		m, ok := Detect("https://web.whatsapp.com/", probeMatching(`[data-testid="call"]`))
		if !ok {
			t.Fatal("whatsapp with call marker should be active")
		}
		if m.Platform != WhatsApp {
			t.Errorf("platform = %q, want %q", m.Platform, WhatsApp)
		}
	})

	t.Run("gmeet requires in-call marker in DOM tier", func(t *testing.T) {
		t.Parallel()
		url := "https://meet.google.com/abc-defg-hij"
		if _, ok := Detect(url, probeMatching()); ok {
			t.Fatal("gmeet lobby (no video, no leave control) should be inactive in DOM tier")
		}
		if _, ok := Detect(url, probeMatching("video")); !ok {
			t.Fatal("gmeet with video elements should be active")
		}
	})

	t.Run("zoom join url active before client renders", func(t *testing.T) {
		t.Parallel()
		// The join URL is enough; the meeting client container may not
		// exist yet while the page loads.
		m, ok := Detect("https://zoom.us/wc/123/join", probeMatching())
		if !ok {
			t.Fatal("zoom join url without DOM markers should be active")
		}
		if m.ID != "123" {
			t.Errorf("id = %q, want 123", m.ID)
		}
	})

	t.Run("zoom meeting client without join url", func(t *testing.T) {
		t.Parallel()
		// In-client calls do not always carry the /j/ or /wc/ path.
		m, ok := Detect("https://app.zoom.us/wc", probeMatching(".meeting-client"))
		if !ok {
			t.Fatal("zoom with meeting client container should be active")
		}
		if m.Platform != Zoom {
			t.Errorf("platform = %q, want %q", m.Platform, Zoom)
		}
	})

	t.Run("zoom homepage with no signals", func(t *testing.T) {
		t.Parallel()
		if _, ok := Detect("https://zoom.us/", probeMatching()); ok {
			t.Fatal("zoom homepage without any call signal should be inactive")
		}
	})

	t.Run("teams meetup url decides without dom markers", func(t *testing.T) {
		t.Parallel()
		url := "https://teams.microsoft.com/l/meetup-join/19%3ameeting"
		if _, ok := Detect(url, probeMatching()); !ok {
			t.Fatal("teams meetup url should be active before the call stage renders")
		}
	})

	t.Run("webex meet url decides without dom markers", func(t *testing.T) {
		t.Parallel()
		if _, ok := Detect("https://company.webex.com/meet/jdoe", probeMatching()); !ok {
			t.Fatal("webex meet url should be active without DOM confirmation")
		}
	})
}

func TestMeetingKey(t *testing.T) {
	t.Parallel()

	a, _ := Detect("https://meet.google.com/abc-defg-hij", nil)
	b, _ := Detect("https://meet.google.com/abc-defg-hij?hs=122", nil)
	if a.Key() != b.Key() {
		t.Errorf("same meeting should share a key: %q vs %q", a.Key(), b.Key())
	}
}
