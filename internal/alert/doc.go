// Package alert fans detected signals out to notification channels.
//
// The Dispatcher suppresses duplicate (signal type, symbol) alerts inside
// a configurable window, then invokes every configured channel
// independently: one channel failing never stops the others and never
// crashes the dispatcher. Channels that talk to the network are detached
// onto their own goroutine so they cannot block the scan loop.
package alert
