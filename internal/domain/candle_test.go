package domain

import "testing"

func TestParseTimeframe(t *testing.T) {
	tests := []struct {
		in      string
		label   string
		seconds int64
		wantErr bool
	}{
		{in: "1s", label: "1s", seconds: 1},
		{in: "15s", label: "15s", seconds: 15},
		{in: "5m", label: "5m", seconds: 300},
		{in: "4h", label: "4h", seconds: 14400},
		{in: "1D", label: "1D", seconds: 86400},
		{in: "1d", label: "1D", seconds: 86400},
		{in: "0m", wantErr: true},
		{in: "m", wantErr: true},
		{in: "5w", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			tf, err := ParseTimeframe(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseTimeframe(%q): %v", tt.in, err)
			}
			if tf.Label != tt.label || tf.Seconds != tt.seconds {
				t.Errorf("got %+v, want %s/%d", tf, tt.label, tt.seconds)
			}
		})
	}
}

func TestParseTimeframes_Duplicate(t *testing.T) {
	if _, err := ParseTimeframes([]string{"1m", "60s"}); err == nil {
		t.Error("expected duplicate error")
	}
	tfs, err := ParseTimeframes([]string{"1s", "1m"})
	if err != nil || len(tfs) != 2 {
		t.Fatalf("unexpected result %v, %v", tfs, err)
	}
}

func TestTimeframeBucket(t *testing.T) {
	if got := Timeframe1m.Bucket(1_700_000_059); got != 1_700_000_040 {
		t.Errorf("1m bucket: got %d", got)
	}
	if got := Timeframe15s.Bucket(30); got != 30 {
		t.Errorf("aligned bucket: got %d", got)
	}
	if got := Timeframe15s.Bucket(-1); got != -15 {
		t.Errorf("negative bucket: got %d", got)
	}
}
