// Package audit dispatches authentication audit events asynchronously.
//
// [Dispatcher] relays [Event] values to a [Sink] from a single goroutine,
// either blocking or dropping (and counting) when its buffer is full. The
// package does not decide which events are emitted; the engine does.
package audit
