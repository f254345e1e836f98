package adminbot

import "testing"

func TestDynamicCommand_Matches(t *testing.T) {
	cases := []struct {
		text          string
		wantVerb      string
		wantAccountID string
		wantArg       string
	}{
		{"/start_acct1", "start", "acct1", ""},
		{"/stop_acct1", "stop", "acct1", ""},
		{"/delay_acct1 30s", "delay", "acct1", "30s"},
		{"/mode_acct1 silent", "mode", "acct1", "silent"},
		{"/expiry_acct1 +1m", "expiry", "acct1", "+1m"},
		{"/targets_acct1", "targets", "acct1", ""},
		{"/addtarget_acct1 https://t.me/foo https://t.me/bar", "addtarget", "acct1", "https://t.me/foo https://t.me/bar"},
		{"/deltarget_acct1 1 2", "deltarget", "acct1", "1 2"},
		{"/deleteaccount_acct1", "deleteaccount", "acct1", ""},
	}
	for _, c := range cases {
		t.Run(c.text, func(t *testing.T) {
			m := dynamicCommand.FindStringSubmatch(c.text)
			if m == nil {
				t.Fatalf("expected a match for %q", c.text)
			}
			if m[1] != c.wantVerb || m[2] != c.wantAccountID || m[3] != c.wantArg {
				t.Fatalf("got verb=%q account=%q arg=%q, want verb=%q account=%q arg=%q",
					m[1], m[2], m[3], c.wantVerb, c.wantAccountID, c.wantArg)
			}
		})
	}
}

func TestDynamicCommand_IgnoresUnrelatedText(t *testing.T) {
	for _, text := range []string{"/accounts", "/help", "hello there", "/start"} {
		if dynamicCommand.MatchString(text) {
			t.Fatalf("expected no match for %q", text)
		}
	}
}
