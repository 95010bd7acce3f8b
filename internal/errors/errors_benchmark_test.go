package errors

import (
	"fmt"
	"testing"
)

// BenchmarkErrorCreationExplicit measures the cost of building an
// EnhancedError with component/category supplied explicitly, the fast
// path that skips caller-frame auto-detection.
func BenchmarkErrorCreationExplicit(b *testing.B) {
	b.ReportAllocs()

	for range b.N {
		err := fmt.Errorf("test error")
		_ = New(err).
			Component("test").
			Category(CategoryGeneric).
			Build()
	}
}

// BenchmarkErrorCreationAutoDetect measures the cost of the slower path
// that auto-detects component and category from the call stack.
func BenchmarkErrorCreationAutoDetect(b *testing.B) {
	b.ReportAllocs()

	for range b.N {
		err := fmt.Errorf("test error")
		_ = New(err).Build()
	}
}

// BenchmarkErrorCreationWithContext measures the cost of attaching
// several context key/value pairs on top of an explicit component and
// category.
func BenchmarkErrorCreationWithContext(b *testing.B) {
	b.ReportAllocs()

	for range b.N {
		err := fmt.Errorf("test error")
		_ = New(err).
			Component("test").
			Category(CategoryGeneric).
			Context("operation", "test_op").
			Context("count", 42).
			Build()
	}
}

// BenchmarkErrorCreationWithProviderContext measures the cost of the
// recognizer-provider-specific context path used throughout the fan-out
// and recognizer packages.
func BenchmarkErrorCreationWithProviderContext(b *testing.B) {
	b.ReportAllocs()

	for range b.N {
		err := fmt.Errorf("test error from provider")
		_ = New(err).
			Component("recognizer").
			Category(CategoryRecognition).
			ProviderContext("acrcloud", 0).
			Build()
	}
}
