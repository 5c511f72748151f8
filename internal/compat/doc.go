// Package compat bridges callback-style consumers onto the stream registry.
//
// An Adapter keeps one stream.Subscription per key and fans each payload out
// to every registered Handler in registration order. A panicking handler is
// recovered and logged; its siblings keep receiving. When a stream fails
// terminally its handlers simply stop being called.
package compat
