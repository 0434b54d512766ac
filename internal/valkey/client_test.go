package valkey

import "testing"

func TestKey(t *testing.T) {
	tests := []struct {
		prefix string
		parts  []string
		want   string
	}{
		{"crmchat", []string{"ws", "whatsapp"}, "crmchat:ws:whatsapp"},
		{"crmchat:", []string{"avatar", "1@c.us"}, "crmchat:avatar:1@c.us"},
		{"crmchat", nil, "crmchat"},
		{"", []string{"avatar", "x"}, "avatar:x"},
	}
	for _, tt := range tests {
		c := &Client{keyPrefix: normalizePrefix(tt.prefix)}
		if got := c.Key(tt.parts...); got != tt.want {
			t.Errorf("Key(%q, %v) = %q, want %q", tt.prefix, tt.parts, got, tt.want)
		}
	}
}

func TestConfigEnabled(t *testing.T) {
	if (Config{}).Enabled() {
		t.Error("empty config should be disabled")
	}
	if !(Config{Address: "localhost:6379"}).Enabled() {
		t.Error("config with address should be enabled")
	}
}
