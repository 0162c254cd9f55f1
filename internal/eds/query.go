package eds

import (
	"fmt"

	"edscal/internal/backend"
	"edscal/internal/ics"
)

// rangeQuery builds the EDS S-expression selecting objects that occur in r.
func rangeQuery(r backend.Range) string {
	return fmt.Sprintf(`(occur-in-time-range? (make-time "%s") (make-time "%s"))`,
		ics.FormatUTC(r.Start), ics.FormatUTC(r.End))
}
