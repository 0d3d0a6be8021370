package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"just host", "example.com", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInit(t *testing.T) {
	Init()
	Init()

	if httpRequestsTotal == nil || messengerCallsTotal == nil ||
		deliveryAttemptsTotal == nil || scrapePagesTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}

	ObservePage("https://LMS.example.com/course/1", "200", 512)
	if val := testutil.ToFloat64(scrapePagesTotal.WithLabelValues("lms.example.com", "200")); val != 1 {
		t.Errorf("Expected scrapePagesTotal to be 1, got %f", val)
	}
	if val := testutil.ToFloat64(scrapeBytesTotal.WithLabelValues("lms.example.com")); val != 512 {
		t.Errorf("Expected scrapeBytesTotal to be 512, got %f", val)
	}
}

func TestObserveHelpers(t *testing.T) {
	ObserveMessengerCall("edit", errors.New("flood"))
	ObserveMessengerCall("edit", nil)
	ObserveDeliveryAttempt(nil, time.Second)
	ObserveRelayFlush("terminal")
	ObserveWorkerLaunch(nil)

	if val := testutil.ToFloat64(messengerCallsTotal.WithLabelValues("edit", "error")); val != 1 {
		t.Errorf("Expected one failed edit, got %f", val)
	}
	if val := testutil.ToFloat64(deliveryAttemptsTotal.WithLabelValues("ok")); val != 1 {
		t.Errorf("Expected one delivery attempt, got %f", val)
	}
	if val := testutil.ToFloat64(relayFlushesTotal.WithLabelValues("terminal")); val != 1 {
		t.Errorf("Expected one terminal flush, got %f", val)
	}
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"http://example.com", "https://google.com", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
