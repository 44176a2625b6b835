package webhook

import "testing"

func TestExtractDecisionID(t *testing.T) {
	cases := []struct {
		name string
		text string
		want string
	}{
		{"membria marker", "Membria Decision: dec_abc123\n\nrefactor cache", "dec_abc123"},
		{"plain marker", "Decision:dec_xyz fix flaky test", "dec_xyz"},
		{"bracketed", "hotfix [dec_br4cket] for prod", "dec_br4cket"},
		{"bare id", "relates to dec_plain_01 somehow", "dec_plain_01"},
		{"nothing", "chore: bump deps", ""},
		{"marker beats bracket", "see [dec_second]\nMembria Decision: dec_first", "dec_first"},
		{"decision marker beats bare", "dec_noise mentioned, Decision: dec_real", "dec_real"},
	}
	for _, tc := range cases {
		if got := ExtractDecisionID(tc.text); got != tc.want {
			t.Fatalf("%s: extracted %q, want %q", tc.name, got, tc.want)
		}
	}
}
