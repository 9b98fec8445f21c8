package timezone

import "time"

var Location *time.Location

func init() {
	var err error
	Location, err = time.LoadLocation("America/New_York")
	if err != nil {
		panic(err)
	}
}

// editorial offices stamp contact/due/report dates in their own
// timezone, so day-granularity comparisons must happen there no
// matter where the crawler runs
func Now() time.Time {
	return time.Now().In(Location)
}
