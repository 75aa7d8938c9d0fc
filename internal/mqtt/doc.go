// Package mqtt exports agent run telemetry to an MQTT broker.
//
// The publisher subscribes to the [events.Bus] and republishes every
// event as JSON on <prefix>/events/<kind>. It also keeps a retained
// <prefix>/availability topic ("online" on connect, "offline" via the
// will message or on shutdown) and a retained <prefix>/stats summary
// of the day's runs that is refreshed periodically.
//
// Connection management uses Eclipse Paho v2's [autopaho] package,
// which reconnects automatically and re-announces availability on
// every (re-)connect.
package mqtt
