package auth

import (
	"testing"
	"time"
)

// ─── JWT tokens (per-request hot path) ──────────────────────────────

func BenchmarkIssueToken(b *testing.B) {
	for i := 0; i < b.N; i++ {
		IssueToken("bench", RoleController, testSecret, "snapdog", time.Hour) //nolint:errcheck // benchmark
	}
}

func BenchmarkParseToken(b *testing.B) {
	token, err := IssueToken("bench", RoleController, testSecret, "snapdog", time.Hour)
	if err != nil {
		b.Fatalf("IssueToken: %v", err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ParseToken(token, testSecret, "snapdog") //nolint:errcheck // benchmark
	}
}
