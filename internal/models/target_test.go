package models

import "testing"

func TestBaseURL(t *testing.T) {
	tests := []struct {
		name   string
		target Target
		expect string
	}{
		{"https default", Target{Scheme: "https", Host: "blog.example.com", Port: 443}, "https://blog.example.com:443"},
		{"http custom port", Target{Scheme: "http", Host: "localhost", Port: 8080}, "http://localhost:8080"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.target.BaseURL(); got != tc.expect {
				t.Errorf("BaseURL() = %q, want %q", got, tc.expect)
			}
		})
	}
}

func TestSiteURL(t *testing.T) {
	tests := []struct {
		name   string
		target Target
		expect string
	}{
		{"https default port", Target{Scheme: "https", Host: "blog.example.com", Port: 443}, "https://blog.example.com"},
		{"http default port", Target{Scheme: "http", Host: "blog.example.com", Port: 80}, "http://blog.example.com"},
		{"custom port", Target{Scheme: "http", Host: "localhost", Port: 8080}, "http://localhost:8080"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.target.SiteURL(); got != tc.expect {
				t.Errorf("SiteURL() = %q, want %q", got, tc.expect)
			}
		})
	}
}

func TestPrefix(t *testing.T) {
	tests := []struct {
		input  string
		expect string
	}{
		{"/wp-json/wp/v2/", "/wp-json/wp/v2/"},
		{"wp-json/wp/v2", "/wp-json/wp/v2/"},
		{"", "/"},
	}
	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			tg := Target{APIPrefix: tc.input}
			if got := tg.Prefix(); got != tc.expect {
				t.Errorf("Prefix() = %q, want %q", got, tc.expect)
			}
		})
	}
}

func TestMaskedToken(t *testing.T) {
	tests := []struct {
		name   string
		token  string
		expect string
	}{
		{"non-empty", "secret123", "••••••••"},
		{"empty", "", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tg := &Target{Token: tc.token}
			if got := tg.MaskedToken(); got != tc.expect {
				t.Errorf("MaskedToken() = %q, want %q", got, tc.expect)
			}
		})
	}
}
