// Package queue holds what the queue backends share.
package queue

import (
	"errors"
	"strings"
)

// DefaultLane is the lane avatar requests run on unless configured otherwise.
const DefaultLane = "low"

// ErrClosed is returned by Dequeue once the queue has been shut down.
var ErrClosed = errors.New("queue closed")

// Lane returns lane or DefaultLane when blank.
func Lane(lane string) string {
	lane = strings.TrimSpace(lane)
	if lane == "" {
		return DefaultLane
	}
	return lane
}

// Key builds the storage key for a lane, e.g. "avatar:queue:low".
func Key(prefix, lane string) string {
	prefix = strings.TrimRight(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		return Lane(lane)
	}
	return prefix + ":" + Lane(lane)
}
