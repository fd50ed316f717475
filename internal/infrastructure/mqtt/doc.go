// Package mqtt provides the publish-only broker connection used by the
// republish bridge.
package mqtt
