package errors

import (
	"fmt"
	"testing"
	"time"
)

func TestBuildAutoDetectsGenericCategory(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("test error")
	ee := New(err).Build()

	if ee.Err.Error() != "test error" {
		t.Errorf("Expected error message 'test error', got '%s'", ee.Err.Error())
	}

	if ee.Category != CategoryGeneric {
		t.Errorf("Expected category 'generic' for a plain unclassified error, got '%s'", ee.Category)
	}
}

func TestBuildHonorsExplicitComponentAndCategory(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("boom")
	ee := New(err).Component("store").Category(CategoryDatabase).Build()

	if ee.GetComponent() != "store" {
		t.Errorf("Expected component 'store', got '%s'", ee.GetComponent())
	}
	if ee.Category != CategoryDatabase {
		t.Errorf("Expected category 'database', got '%s'", ee.Category)
	}
}

func TestDetectCategoryFromComponent(t *testing.T) {
	t.Parallel()

	cases := []struct {
		component string
		want      ErrorCategory
	}{
		{"audiosource", CategoryAudioSource},
		{"window-scheduler", CategoryWindow},
		{"recognizer", CategoryRecognition},
		{"fanout", CategoryRecognition},
		{"aggregator", CategoryAggregator},
		{"store", CategoryDatabase},
		{"stream-worker", CategoryWorker},
		{"worker-manager", CategoryManager},
	}
	for _, c := range cases {
		ee := New(fmt.Errorf("x")).Component(c.component).Build()
		if ee.Category != c.want {
			t.Errorf("component %q: expected category %q, got %q", c.component, c.want, ee.Category)
		}
	}
}

func TestProviderContextAttachesLatencyAndProvider(t *testing.T) {
	t.Parallel()

	ee := New(fmt.Errorf("timeout")).ProviderContext("acrcloud", 1500*time.Millisecond).Build()
	if ee.Context["provider"] != "acrcloud" {
		t.Errorf("expected provider context 'acrcloud', got %v", ee.Context["provider"])
	}
	if ee.Context["latency_ms"] != int64(1500) {
		t.Errorf("expected latency_ms context 1500, got %v", ee.Context["latency_ms"])
	}
}
