package display

import "fmt"

// FormatRemaining renders milliseconds as m:ss. Negative values show 0:00;
// partial seconds are truncated.
func FormatRemaining(ms int) string {
	secs := clamp(ms) / 1000
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}
