// Package scheduler provides named one-shot and recurring timer jobs.
//
// The bridge's control flow is entirely timer-driven: periodic polls,
// delayed confirmation refreshes, proactive token renewal, and circuit
// cooldown retries are all scheduled jobs. Naming jobs gives each
// schedule an explicit cancellation handle, and installing a job under
// an existing name replaces it - so changing the poll interval can
// never leave two overlapping schedules running.
//
// Usage:
//
//	s := scheduler.New()
//	defer s.Close()
//
//	s.ScheduleEvery("poll", 10*time.Minute, true, bridge.RefreshAll)
//	s.ScheduleOnce("confirm-heater-a1b2", 2*time.Second, func() {
//	    bridge.RefreshOne("heater-a1b2")
//	})
package scheduler
