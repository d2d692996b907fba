// Package orchestrator is the client-side login state machine.
//
// A login attempt moves Idle → PasswordPending → EmailCodePending →
// SecondFactorPending → SessionEstablished. Cancel is reachable from any
// non-Idle state and always ends in Idle. A definitive rejection at any step
// tears the attempt down and returns to Idle.
//
// The orchestrator never trusts a session the Identity Provider creates as a
// side effect of an intermediate step. After the password check it signs the
// implicit session out; after the second factor it signs out the interim
// email-code session and re-authenticates with the retained password, which is
// wiped immediately afterwards.
//
// Exactly one attempt is live at a time. Starting a new one, or calling
// Cancel, waits for the previous attempt's network calls to return before it
// proceeds, so once Cancel returns no session, timer, or credential from the
// cancelled attempt is left behind.
package orchestrator
