// Package api provides the HTTP REST API and WebSocket server for the
// terrarium controller.
//
// It exposes actuator commands, auto-control settings, sensor readings and
// actuator history to dashboards and scripts. Every command goes through
// the device.Controller, so the API never reports a state the board has not
// acknowledged.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// # Authentication
//
// When security.jwt.secret is set, every /api/v1 route except /health
// requires an "Authorization: Bearer <token>" header carrying a token from
// auth.IssueToken. Browsers cannot set headers on WebSocket upgrades, so
// /api/v1/ws also accepts the token as ?token=.
//
// # WebSocket
//
// Clients subscribe to channels and receive an event for every committed
// change:
//
//	{"type":"subscribe","id":"1","payload":{"channels":["actuators.changed"]}}
//
// Channels: actuators.changed, auto_control.changed, sensor.reading.
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
