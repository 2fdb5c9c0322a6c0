package pcm

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/wav"
)

func TestIntsAndBytesRoundTrip(t *testing.T) {
	samples := []int{0, 1, -1, 32767, -32768, 1234}
	got, err := Ints(Bytes(samples))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := range samples {
		if got[i] != samples[i] {
			t.Errorf("sample %d: expected %d, got %d", i, samples[i], got[i])
		}
	}
}

func TestBytes_Clips(t *testing.T) {
	got, _ := Ints(Bytes([]int{40000, -40000}))
	if got[0] != math.MaxInt16 || got[1] != math.MinInt16 {
		t.Errorf("expected clipped samples, got %v", got)
	}
}

func TestInts_Unaligned(t *testing.T) {
	if _, err := Ints([]byte{1, 2, 3}); err != ErrUnaligned {
		t.Errorf("expected ErrUnaligned, got %v", err)
	}
}

func TestPowerDB(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		want    float64
	}{
		{"empty", nil, SilenceDB},
		{"zeros", make([]byte, 64), SilenceDB},
		{"full scale", Bytes([]int{-32768, -32768, -32768, -32768}), 0},
		{"half scale", Bytes([]int{16384, -16384, 16384, -16384}), 20 * math.Log10(0.5)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PowerDB(tt.payload)
			if math.Abs(got-tt.want) > 0.01 {
				t.Errorf("PowerDB() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWriteWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := WriteWAV(f, Bytes([]int{1, 2, 3, 4}), 16000, 1); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	f.Close()

	r, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer r.Close()
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		t.Fatal("expected a valid wav file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(buf.Data) != 4 || buf.Data[3] != 4 {
		t.Errorf("unexpected samples: %v", buf.Data)
	}
	if dec.SampleRate != 16000 {
		t.Errorf("expected sample rate 16000, got %d", dec.SampleRate)
	}
}
