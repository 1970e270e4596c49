package knx

import "testing"

func BenchmarkParseTelegram_Compact(b *testing.B) {
	// Trigger play on 1/2/3, the most common telegram from a wall switch.
	data := []byte{0x11, 0x01, 0x0A, 0x03, 0x00, 0x81}
	for i := 0; i < b.N; i++ {
		ParseTelegram(data) //nolint:errcheck // benchmark
	}
}

func BenchmarkParseTelegram_Volume(b *testing.B) {
	data := []byte{0x11, 0x02, 0x10, 0x01, 0x00, 0x80, 0x6B}
	for i := 0; i < b.N; i++ {
		ParseTelegram(data) //nolint:errcheck // benchmark
	}
}

func BenchmarkTelegramEncode(b *testing.B) {
	tg := newTelegram(APCIWrite, GroupAddress{Main: 1, Middle: 2, Sub: 3}, DPTScaling, EncodeDPT5(42))
	for i := 0; i < b.N; i++ {
		tg.Encode()
	}
}

func BenchmarkEncodeDPT5(b *testing.B) {
	for i := 0; i < b.N; i++ {
		EncodeDPT5(75.0)
	}
}

func BenchmarkPercentOf(b *testing.B) {
	data := []byte{0xBF}
	for i := 0; i < b.N; i++ {
		percentOf(data) //nolint:errcheck // benchmark
	}
}
