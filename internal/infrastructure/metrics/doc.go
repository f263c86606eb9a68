// Package metrics exposes terrarium telemetry in the Prometheus format.
//
// The collectors cover the serial link, the sensor poller, auto control and
// actuator commands, plus gauges for the latest reading and actuator state.
// Callers feed it through small Observe/Set methods that take plain
// strings, so the package does not depend on the domain packages; the
// process entry point adapts the domain hooks onto it.
//
//	m := metrics.New()
//	transport.SetObserver(func(cmd string, outcome link.Outcome, d time.Duration) {
//	    m.ObserveExchange(cmd, string(outcome), d)
//	})
//	router.Handle("/metrics", m.Handler())
package metrics
