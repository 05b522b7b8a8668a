package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// Timeframe is a candle bucket width.
type Timeframe struct {
	Label   string
	Seconds int64
}

// String returns the label.
func (tf Timeframe) String() string { return tf.Label }

// Bucket returns the bucket start for a Unix-seconds timestamp.
func (tf Timeframe) Bucket(ts int64) int64 {
	b := ts / tf.Seconds * tf.Seconds
	if ts < 0 && ts%tf.Seconds != 0 {
		b -= tf.Seconds
	}
	return b
}

// Supported timeframes.
var (
	Timeframe1s  = Timeframe{Label: "1s", Seconds: 1}
	Timeframe15s = Timeframe{Label: "15s", Seconds: 15}
	Timeframe1m  = Timeframe{Label: "1m", Seconds: 60}
	Timeframe5m  = Timeframe{Label: "5m", Seconds: 300}
	Timeframe15m = Timeframe{Label: "15m", Seconds: 900}
	Timeframe1h  = Timeframe{Label: "1h", Seconds: 3600}
	Timeframe4h  = Timeframe{Label: "4h", Seconds: 14400}
	Timeframe1D  = Timeframe{Label: "1D", Seconds: 86400}
)

// DefaultTimeframes is the set served when nothing is configured.
func DefaultTimeframes() []Timeframe {
	return []Timeframe{
		Timeframe1s, Timeframe15s, Timeframe1m, Timeframe5m,
		Timeframe15m, Timeframe1h, Timeframe4h, Timeframe1D,
	}
}

// ParseTimeframe parses labels such as "15s", "5m", "4h" or "1D".
func ParseTimeframe(label string) (Timeframe, error) {
	s := strings.TrimSpace(label)
	if len(s) < 2 {
		return Timeframe{}, fmt.Errorf("invalid timeframe %q", label)
	}
	n, err := strconv.ParseInt(s[:len(s)-1], 10, 64)
	if err != nil || n <= 0 {
		return Timeframe{}, fmt.Errorf("invalid timeframe %q", label)
	}
	var unit int64
	switch s[len(s)-1] {
	case 's':
		unit = 1
	case 'm':
		unit = 60
	case 'h':
		unit = 3600
	case 'D', 'd':
		unit = 86400
		s = s[:len(s)-1] + "D"
	default:
		return Timeframe{}, fmt.Errorf("invalid timeframe unit in %q", label)
	}
	return Timeframe{Label: s, Seconds: n * unit}, nil
}

// ParseTimeframes parses a list of labels, rejecting duplicates.
func ParseTimeframes(labels []string) ([]Timeframe, error) {
	seen := make(map[int64]bool, len(labels))
	out := make([]Timeframe, 0, len(labels))
	for _, l := range labels {
		tf, err := ParseTimeframe(l)
		if err != nil {
			return nil, err
		}
		if seen[tf.Seconds] {
			return nil, fmt.Errorf("duplicate timeframe %q", l)
		}
		seen[tf.Seconds] = true
		out = append(out, tf)
	}
	return out, nil
}

// Candle is one OHLCV bucket of a token on one timeframe.
// Corresponds to candles table in ClickHouse.
type Candle struct {
	Mint        string  `json:"mint"`
	Timeframe   string  `json:"timeframe"`
	BucketStart int64   `json:"time"` // Unix seconds, floor(ts/tf)*tf
	Open        float64 `json:"open"`
	High        float64 `json:"high"`
	Low         float64 `json:"low"`
	Close       float64 `json:"close"`
	Volume      float64 `json:"volume"` // SOL
	Trades      int     `json:"trades"`
}
