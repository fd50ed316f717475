// Package influxdb provides the non-blocking write connection used by
// the time-series mirror.
package influxdb
