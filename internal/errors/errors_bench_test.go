package errors

import (
	"net/http/httptest"
	"testing"
)

func BenchmarkWriteJSON_Base(b *testing.B) {
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		w := httptest.NewRecorder()
		ErrAPINotFound.WriteJSON(w)
	}
}

func BenchmarkWriteJSON_WithRequestID(b *testing.B) {
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		w := httptest.NewRecorder()
		ErrAPINotFound.WithRequestID("req-1").WriteJSON(w)
	}
}
