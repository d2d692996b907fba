// Package internal holds helpers private to authflow: random session ids and
// the refresh token wire format.
//
// Sub-packages:
//
//   - audit: async audit event dispatch and sinks
//   - flows: refresh rotation and second-factor verification steps
//   - limiters: Redis attempt counters
//   - stores: Redis-backed email one-time code records and resend cooldowns
//   - memstore: in-memory AccountStore used by tests and local demos
//   - observability: zap and sentry setup shared by binaries
package internal
