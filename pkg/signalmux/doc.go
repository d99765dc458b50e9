/*
Package signalmux implements the block and transaction signal multiplexer
sitting between the state-transition engine and its consumers.

The engine injects four kinds of signals: block started, transaction
applied, block accepted and block made irreversible. Every signal is fanned
out synchronously to all registered subscribers in registration order.

In the default (buffered) mode applied transactions are collected per block
and delivered together with the accepted block as a single batch. A block
that was started but never accepted (discarded during validation) still gets
its transactions delivered: the next block start flushes them with a nil
block. In the direct mode (Config.AlternateInterface) every transaction is
delivered as soon as it's applied and no aggregation is performed.

A failing subscriber (returning an error or panicking) never affects the
engine or other subscribers, the failure is logged and the fan-out
continues.

The multiplexer is not safe for concurrent use, the engine is expected to
call it from a single goroutine.
*/
package signalmux
