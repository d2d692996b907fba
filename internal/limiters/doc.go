// Package limiters counts failed attempts in Redis and refuses further
// attempts once a threshold is reached within a window.
//
// A limiter is a fixed window: the first failure starts the window (INCR then
// EXPIRE), success resets it. Methods on a nil *Attempts are no-ops so callers
// can leave a limiter unconfigured.
package limiters
