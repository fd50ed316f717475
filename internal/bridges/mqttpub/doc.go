// Package mqttpub republishes live telemetry to an MQTT broker.
//
// The bridge subscribes to the dispatcher and mirrors every routed
// value and group aggregate onto retained topics, so late-joining MQTT
// consumers immediately see the latest state.
package mqttpub
