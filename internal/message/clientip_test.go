package message

import "testing"

func newIPRequest(t *testing.T, server map[string]string, opts ...RequestOption) *Request {
	t.Helper()
	r, err := NewRequest(Snapshot{Server: server}, opts...)
	if err != nil {
		t.Fatalf("NewRequest() error = %v", err)
	}
	return r
}

func TestClientIP_ProxyTrust(t *testing.T) {
	r := newIPRequest(t, map[string]string{
		"REMOTE_ADDR":          "127.0.0.1",
		"HTTP_X_FORWARDED_FOR": "192.168.1.2,3.3.3.3",
	})

	if got := r.ClientIP(); got != "127.0.0.1" {
		t.Errorf("ClientIP() without trust = %q, want %q", got, "127.0.0.1")
	}

	r.AllowClientProxyIP()
	if got := r.ClientIP(); got != "3.3.3.3" {
		t.Errorf("ClientIP() with trust = %q, want %q", got, "3.3.3.3")
	}

	r.DisallowClientProxyIP()
	if got := r.ClientIP(); got != "127.0.0.1" {
		t.Errorf("ClientIP() after disallow = %q, want %q", got, "127.0.0.1")
	}
}

func TestClientIP_ForwardedChain(t *testing.T) {
	tests := []struct {
		name      string
		forwarded string
		want      string
	}{
		{"all private returns first", "192.168.1.2,192.168.1.3", "192.168.1.2"},
		{"single value returned unchanged", "not-an-ip", "not-an-ip"},
		{"whitespace trimmed", " 10.0.0.1 ,  8.8.8.8 ", "8.8.8.8"},
		{"left-most public wins", "60.205.218.181, 119.23.91.192, 127.0.0.1", "60.205.218.181"},
		{"unparsable skipped", "garbage, 172.16.5.4, 1.1.1.1", "1.1.1.1"},
		{"unparsable then private", "garbage, 172.31.0.1", "172.31.0.1"},
		{"nothing parsable", "garbage, ::1", "0.0.0.0"},
		{"reserved low range", "2.255.255.255, 3.0.0.0", "3.0.0.0"},
		{"link local and test net", "169.254.1.1, 192.0.2.10, 172.32.0.1", "172.32.0.1"},
		{"broadcast block", "255.255.255.1, 255.255.254.255", "255.255.254.255"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newIPRequest(t, map[string]string{
				"REMOTE_ADDR":          "127.0.0.1",
				"HTTP_X_FORWARDED_FOR": tt.forwarded,
			}, TrustProxy(true))
			if got := r.ClientIP(); got != tt.want {
				t.Errorf("ClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClientIP_NoForwardedHeader(t *testing.T) {
	r := newIPRequest(t, map[string]string{"REMOTE_ADDR": "5.6.7.8"}, TrustProxy(true))
	if got := r.ClientIP(); got != "5.6.7.8" {
		t.Errorf("ClientIP() = %q, want %q", got, "5.6.7.8")
	}
}

func TestClientIP_CustomExtractorWins(t *testing.T) {
	extractor := HeaderIPExtractor("x-real-client-ip", "X-Real-IP")

	r, err := NewFixture(FixtureOptions{Headers: map[string]string{
		"x-forwarded-for":  "60.205.218.181, 119.23.91.192, 127.0.0.1",
		"ali-cdn-real-ip":  "60.205.218.181",
		"x-real-client-ip": "42.2.87.59",
	}})
	if err != nil {
		t.Fatalf("NewFixture() error = %v", err)
	}
	r.SetClientIPExtractor(extractor)
	r.AllowClientProxyIP()

	if got := r.ClientIP(); got != "42.2.87.59" {
		t.Errorf("ClientIP() = %q, want %q", got, "42.2.87.59")
	}
}

func TestClientIP_EmptyExtractorFallsThrough(t *testing.T) {
	r := newIPRequest(t, map[string]string{
		"REMOTE_ADDR":          "127.0.0.1",
		"HTTP_X_FORWARDED_FOR": "192.168.1.2,192.168.1.3",
	}, TrustProxy(true), IPExtractor(HeaderIPExtractor("x-real-client-ip")))

	if got := r.ClientIP(); got != "192.168.1.2" {
		t.Errorf("ClientIP() = %q, want %q", got, "192.168.1.2")
	}
}

func TestClientIP_ExtractorSeesTrustFlag(t *testing.T) {
	var seen []bool
	r := newIPRequest(t, map[string]string{"REMOTE_ADDR": "9.9.9.9"})
	r.SetClientIPExtractor(func(_ *Request, trust bool) string {
		seen = append(seen, trust)
		return "1.2.3.4"
	})

	_ = r.ClientIP()
	r.AllowClientProxyIP()
	_ = r.ClientIP()

	if len(seen) != 2 || seen[0] || !seen[1] {
		t.Errorf("trust flags seen = %v, want [false true]", seen)
	}

	r.SetClientIPExtractor(nil)
	if got := r.ClientIP(); got != "9.9.9.9" {
		t.Errorf("ClientIP() after clearing extractor = %q, want %q", got, "9.9.9.9")
	}
}

func TestClientIP_CopyKeepsStrategy(t *testing.T) {
	r := newIPRequest(t, map[string]string{"REMOTE_ADDR": "9.9.9.9"},
		IPExtractor(func(*Request, bool) string { return "4.4.4.4" }))

	if got := r.WithAttribute("k", "v").ClientIP(); got != "4.4.4.4" {
		t.Errorf("copy ClientIP() = %q, want %q", got, "4.4.4.4")
	}
}
