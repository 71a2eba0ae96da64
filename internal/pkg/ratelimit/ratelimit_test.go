package ratelimit

import "testing"

func TestCheckoutKey(t *testing.T) {
	tests := []struct {
		name string
		ip   string
		body string
		want string
	}{
		{
			name: "keyed by ip, product and version",
			ip:   "203.0.113.9",
			body: `{"attempt_id":"attempt-1","product_id":5,"version_id":7}`,
			want: "203.0.113.9:checkout:5:7",
		},
		{
			name: "different version is a different bucket",
			ip:   "203.0.113.9",
			body: `{"product_id":5,"version_id":8}`,
			want: "203.0.113.9:checkout:5:8",
		},
		{
			name: "empty body collapses onto the zero bucket",
			ip:   "203.0.113.9",
			body: "",
			want: "203.0.113.9:checkout:0:0",
		},
		{
			name: "malformed body collapses onto the zero bucket",
			ip:   "198.51.100.4",
			body: "{broken",
			want: "198.51.100.4:checkout:0:0",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := checkoutKey(tt.ip, []byte(tt.body)); got != tt.want {
				t.Fatalf("checkoutKey(%q, %q) = %q, want %q", tt.ip, tt.body, got, tt.want)
			}
		})
	}
}
