// Package reaper implements the idle stream sweep.
//
// The Reaper:
//   - Runs on a fixed interval (default 60s), independent of subscriber activity
//   - Asks its Sweeper to retire entries idle for longer than Timeout (default 5m)
//   - Retires entries even when they still have subscribers, as a safety net
//     against handles that are never released
package reaper
