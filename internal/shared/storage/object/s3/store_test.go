package s3

import "testing"

func TestApplyPrefix(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		prefix string
		key    string
		want   string
	}{
		{name: "no prefix", prefix: "", key: "history/analysis_history.json", want: "history/analysis_history.json"},
		{name: "simple prefix", prefix: "root", key: "history/analysis_history.json", want: "root/history/analysis_history.json"},
		{name: "prefix trailing slash", prefix: "root/", key: "history/analysis_history.json", want: "root/history/analysis_history.json"},
		{name: "prefix and key slashes", prefix: "/root/", key: "/history/analysis_history.json", want: "root/history/analysis_history.json"},
		{name: "nested prefix", prefix: "root/sub", key: "history/analysis_history.json", want: "root/sub/history/analysis_history.json"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := applyPrefix(tt.prefix, tt.key); got != tt.want {
				t.Fatalf("applyPrefix(%q, %q) = %q, want %q", tt.prefix, tt.key, got, tt.want)
			}
		})
	}
}

func TestNormalizePrefix(t *testing.T) {
	if got := normalizePrefix("  /gae/exports/ "); got != "gae/exports" {
		t.Fatalf("normalizePrefix = %q", got)
	}
}
