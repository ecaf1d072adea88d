package render

import (
	"strings"
	"testing"

	"golang.org/x/text/language"
)

func TestNotificationEnglish(t *testing.T) {
	got := Notification(language.English, TopicDepositConfirmed, "$180.00", "thesis review")
	want := `Deposit of $180.00 confirmed for "thesis review". Work can begin.`
	if got != want {
		t.Errorf("Notification() = %q, want %q", got, want)
	}
}

func TestNotificationSpanish(t *testing.T) {
	got := Notification(language.Spanish, TopicContractDisputed, "thesis review")
	if !strings.Contains(got, "disputa") {
		t.Errorf("Notification() = %q, want Spanish copy", got)
	}
}

func TestNotificationFallsBackToEnglish(t *testing.T) {
	got := Notification(language.German, TopicContractCreated, "thesis review")
	want := `Your contract "thesis review" is open for proposals.`
	if got != want {
		t.Errorf("Notification() = %q, want %q", got, want)
	}
}
