package mh

import "time"

// Location zona horaria de El Salvador (UTC-6, sin horario de verano).
var Location = time.FixedZone("CST", -6*60*60)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04:05"
)

// IssueDateTime fecha y hora de emisión en hora local de El Salvador.
func IssueDateTime(t time.Time) (date, clock string) {
	local := t.In(Location)
	return local.Format(DateLayout), local.Format(TimeLayout)
}
