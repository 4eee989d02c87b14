package models

import (
	"fmt"
	"time"
)

// Timeframe is a candle period length. Derived timeframes must be an
// integer multiple of the configured base timeframe.
type Timeframe time.Duration

// Common timeframes.
const (
	TF1s  = Timeframe(time.Second)
	TF1m  = Timeframe(time.Minute)
	TF5m  = Timeframe(5 * time.Minute)
	TF15m = Timeframe(15 * time.Minute)
	TF1h  = Timeframe(time.Hour)
)

// ParseTimeframe converts strings like "1m", "5m", "1h" to a Timeframe.
func ParseTimeframe(s string) (Timeframe, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("parse timeframe %q: %w", s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("timeframe %q must be positive", s)
	}
	return Timeframe(d), nil
}

// Duration returns the timeframe as a time.Duration.
func (tf Timeframe) Duration() time.Duration { return time.Duration(tf) }

func (tf Timeframe) String() string {
	d := time.Duration(tf)
	switch {
	case d%time.Hour == 0:
		return fmt.Sprintf("%dh", d/time.Hour)
	case d%time.Minute == 0:
		return fmt.Sprintf("%dm", d/time.Minute)
	default:
		return fmt.Sprintf("%ds", d/time.Second)
	}
}

// MultipleOf reports whether tf is a whole multiple of base.
func (tf Timeframe) MultipleOf(base Timeframe) bool {
	if base <= 0 || tf < base {
		return false
	}
	return tf%base == 0
}

// Series identifies one (symbol, timeframe) pipeline. Used as a map key
// into buffer, warm-up and partial-aggregate tables.
type Series struct {
	Symbol    string
	Timeframe Timeframe
}

func (s Series) String() string {
	return s.Symbol + "@" + s.Timeframe.String()
}

// Alignment maps a sub-period timestamp to the open time label of its
// containing aggregate period.
type Alignment string

const (
	AlignLeft   Alignment = "left"   // label = period start
	AlignRight  Alignment = "right"  // label = period end
	AlignCenter Alignment = "center" // label = period start + half period
)

// ParseAlignment validates an alignment string, defaulting to left.
func ParseAlignment(s string) (Alignment, error) {
	switch Alignment(s) {
	case AlignLeft, AlignRight, AlignCenter:
		return Alignment(s), nil
	case "":
		return AlignLeft, nil
	default:
		return "", fmt.Errorf("unknown alignment %q", s)
	}
}

// PeriodStart truncates ts down to the start of its containing tf period.
// Periods are aligned to whole multiples of tf from the Unix epoch, in UTC.
func PeriodStart(ts time.Time, tf Timeframe) time.Time {
	return ts.UTC().Truncate(tf.Duration())
}

// PeriodLabel returns the open time recorded for the period containing ts,
// shifted according to the alignment rule.
func PeriodLabel(ts time.Time, tf Timeframe, align Alignment) time.Time {
	start := PeriodStart(ts, tf)
	switch align {
	case AlignRight:
		return start.Add(tf.Duration())
	case AlignCenter:
		return start.Add(tf.Duration() / 2)
	default:
		return start
	}
}
