/*
Package chain contains the engine-side objects passed through the signal
multiplexer: block states, transaction traces and packed transactions.

Objects are created by the engine and are never modified after being
passed to the multiplexer, so they can be freely shared (by pointer) between
the engine, the multiplexer buffer and any number of subscribers.
*/
package chain
