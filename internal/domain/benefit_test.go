package domain

import "testing"

func TestNormalizeStatus(t *testing.T) {
	cases := []struct {
		raw  string
		want InstallmentStatus
	}{
		{"eligible_to_apply", StatusEligible},
		{" ELIGIBLE_TO_APPLY ", StatusEligible},
		{"eligible", StatusEligible},
		{"locked", StatusLocked},
		{"application_submitted", StatusApplicationSubmitted},
		{"approved", StatusApproved},
		{"paid", StatusPaid},
	}

	for _, tc := range cases {
		if got := NormalizeStatus(tc.raw); got != tc.want {
			t.Errorf("NormalizeStatus(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}

func TestMaskAccountNumber(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{"123456789012", "********9012"},
		{"12345", "*2345"},
		{"1234", "****"},
		{"12", "**"},
		{"", ""},
	}

	for _, tc := range cases {
		if got := MaskAccountNumber(tc.raw); got != tc.want {
			t.Errorf("MaskAccountNumber(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}

func TestValidIFSCCode(t *testing.T) {
	cases := []struct {
		code string
		want bool
	}{
		{"SBIN0001234", true},
		{"hdfc0000123", true},
		{"  ICIC0AB1234  ", true},
		{"SBI0001234", false},
		{"SBIN1001234", false},
		{"SBIN000123", false},
		{"SBIN00012345", false},
		{"", false},
	}

	for _, tc := range cases {
		if got := ValidIFSCCode(tc.code); got != tc.want {
			t.Errorf("ValidIFSCCode(%q) = %v, want %v", tc.code, got, tc.want)
		}
	}
}
