package sink

import (
	"fmt"
	"path/filepath"
	"time"
)

// Granularity selects how often the output file rolls over.
type Granularity string

const (
	GranularitySeconds Granularity = "seconds"
	GranularityMinutes Granularity = "minutes"
	GranularityHours   Granularity = "hours"
	GranularityDays    Granularity = "days"
)

// Layout returns the time layout whose formatted value changes exactly at
// each granularity boundary.
func (g Granularity) Layout() (string, error) {
	switch g {
	case GranularitySeconds:
		return "20060102-150405", nil
	case GranularityMinutes:
		return "20060102-1504", nil
	case GranularityHours:
		return "20060102-15", nil
	case GranularityDays, "":
		return "20060102", nil
	default:
		return "", fmt.Errorf("unknown granularity %q", g)
	}
}

// BucketKey identifies one output file.
type BucketKey string

// Bucketer derives bucket keys from wall-clock time and maps them to paths.
type Bucketer struct {
	Dir    string
	Layout string
	Label  string // logical collection label, e.g. "track"
	Suffix string // file name suffix, e.g. "tweets_out.json"
}

// KeyFor returns the bucket containing t.
func (b Bucketer) KeyFor(t time.Time) BucketKey {
	return BucketKey(t.Format(b.Layout))
}

// Path returns the file for a bucket: <dir>/<key>-<label>-<suffix>.
func (b Bucketer) Path(key BucketKey) string {
	return filepath.Join(b.Dir, fmt.Sprintf("%s-%s-%s", key, b.Label, b.Suffix))
}

// Pattern returns a glob matching every bucket file of this collection.
func (b Bucketer) Pattern() string {
	return filepath.Join(b.Dir, fmt.Sprintf("*-%s-%s", b.Label, b.Suffix))
}
