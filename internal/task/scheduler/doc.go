// Package scheduler is the in-process clock tick for questd.
//
// The scheduling core itself is stateless; this package only decides when to
// call it. Jobs are registered under a stable name (e.g. "recurrence.expand")
// and fire on a cron expression or a fixed interval.
//
// # Schedule formats
//
//   - Cron expressions: 5-field (min hour dom mon dow) or 6-field with optional
//     seconds. Example: "55 * * * *" or "0 */5 * * * *".
//   - Cron descriptors: "@hourly", "@daily", "@every 55m".
//   - Interval durations: Go duration strings like "55m" or "2h30m".
//   - Interval HH:MM: "00:50" means every 50 minutes, "02:30" every 2h30m.
//
// To force interpretation, prefix the string with "cron:", "interval:", or
// "every:".
//
// # Overlap
//
// A job never overlaps itself: if the previous run is still in flight when
// the next tick fires, the tick is skipped. Runs of different jobs are
// independent.
package scheduler
