package models

import "errors"

// ErrNotFound is returned by repositories when the requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrBroadcastEnded is returned when a live stream has ended and no longer takes viewers.
var ErrBroadcastEnded = errors.New("broadcast has ended")
