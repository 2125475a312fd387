package cron

import "fmt"

var dayNames = [7]string{"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday"}

// Describe renders a deterministic human-readable summary of the expression.
// The most specific recognized shape wins; anything else falls back to the
// raw cron text.
func (e *Expression) Describe() string {
	allDays := e.dom.star && e.month.star && e.dow.star

	switch {
	case e.minute.star && e.hour.star && allDays:
		return "Every minute"

	case e.minute.singleOK && e.minute.single == 0 && e.hour.star && allDays:
		return "Every hour, on the hour"

	case e.minute.singleOK && e.hour.star && allDays:
		return fmt.Sprintf("Every hour at %d minutes past the hour", e.minute.single)

	case e.minute.singleOK && e.hour.singleOK && allDays:
		return fmt.Sprintf("Every day at %02d:%02d", e.hour.single, e.minute.single)

	case e.minute.singleOK && e.hour.singleOK && e.dom.star && e.month.star &&
		e.dow.rangeOK && e.dow.rangeLo == 1 && e.dow.rangeHi == 5:
		return fmt.Sprintf("Every weekday at %02d:%02d", e.hour.single, e.minute.single)

	case e.minute.singleOK && e.hour.singleOK && e.dom.star && e.month.star && e.dow.singleOK:
		return fmt.Sprintf("Every %s at %02d:%02d", dayNames[e.dow.single], e.hour.single, e.minute.single)

	default:
		return fmt.Sprintf("Cron schedule: %s", e.raw)
	}
}
