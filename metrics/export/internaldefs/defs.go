package internaldefs

import (
	"strconv"
	"strings"

	"github.com/MrEthical07/authflow"
)

type CounterDef struct {
	ID   authflow.MetricID
	Name string
	Help string
}

type HistogramDef struct {
	ID   authflow.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: authflow.MetricSignInSuccess, Name: "authflow_sign_in_success_total", Help: "Password sign-ins that issued a session."},
	{ID: authflow.MetricSignInFailure, Name: "authflow_sign_in_failure_total", Help: "Rejected password sign-ins."},
	{ID: authflow.MetricSignInRateLimited, Name: "authflow_sign_in_rate_limited_total", Help: "Password sign-ins refused by the limiter."},
	{ID: authflow.MetricEmailCodeSent, Name: "authflow_email_code_sent_total", Help: "Email one-time codes delivered."},
	{ID: authflow.MetricEmailCodeCooldown, Name: "authflow_email_code_cooldown_total", Help: "Email code requests refused inside the resend window."},
	{ID: authflow.MetricEmailCodeSuccess, Name: "authflow_email_code_success_total", Help: "Accepted email codes."},
	{ID: authflow.MetricEmailCodeFailure, Name: "authflow_email_code_failure_total", Help: "Rejected email codes."},
	{ID: authflow.MetricSessionCreated, Name: "authflow_session_created_total", Help: "Sessions created."},
	{ID: authflow.MetricSessionRevoked, Name: "authflow_session_revoked_total", Help: "Sessions revoked by sign-out or security changes."},
	{ID: authflow.MetricRefreshSuccess, Name: "authflow_refresh_success_total", Help: "Successful refresh token rotations."},
	{ID: authflow.MetricRefreshFailure, Name: "authflow_refresh_failure_total", Help: "Rejected refresh tokens."},
	{ID: authflow.MetricRefreshReuseDetected, Name: "authflow_refresh_reuse_detected_total", Help: "Rotated-out refresh tokens presented again."},
	{ID: authflow.MetricTwoFactorSecretIssued, Name: "authflow_two_factor_secret_issued_total", Help: "Two-factor secrets generated."},
	{ID: authflow.MetricTwoFactorEnabled, Name: "authflow_two_factor_enabled_total", Help: "Two-factor enrollments completed."},
	{ID: authflow.MetricTwoFactorDisabled, Name: "authflow_two_factor_disabled_total", Help: "Two-factor disables."},
	{ID: authflow.MetricTOTPSuccess, Name: "authflow_totp_success_total", Help: "Accepted TOTP codes."},
	{ID: authflow.MetricTOTPFailure, Name: "authflow_totp_failure_total", Help: "Rejected TOTP codes."},
	{ID: authflow.MetricTOTPReplay, Name: "authflow_totp_replay_total", Help: "TOTP codes refused as replays."},
	{ID: authflow.MetricBackupCodeUsed, Name: "authflow_backup_code_used_total", Help: "Backup codes consumed."},
	{ID: authflow.MetricBackupCodeFailed, Name: "authflow_backup_code_failed_total", Help: "Rejected backup codes."},
	{ID: authflow.MetricBackupCodesRegenerated, Name: "authflow_backup_codes_regenerated_total", Help: "Backup code pool replacements."},
	{ID: authflow.MetricSecondFactorRateLimited, Name: "authflow_second_factor_rate_limited_total", Help: "Second-factor checks refused by the limiter."},
	{ID: authflow.MetricPasswordChanged, Name: "authflow_password_changed_total", Help: "Password updates."},
}

var HistogramDefs = []HistogramDef{
	{ID: authflow.MetricVerifyLatency, Name: "authflow_second_factor_verify_seconds", Help: "Second-factor verification latency."},
}

// AuditDropped is exported alongside the engine counters.
var AuditDropped = CounterDef{Name: "authflow_audit_dropped_total", Help: "Audit events dropped under backpressure."}

// BucketCount includes the unbounded last bucket.
const BucketCount = len(authflow.HistogramBounds) + 1

// UpperBounds returns the finite bucket bounds in seconds.
func UpperBounds() []float64 {
	out := make([]float64, len(authflow.HistogramBounds))
	for i, d := range authflow.HistogramBounds {
		out[i] = d.Seconds()
	}
	return out
}

// BoundSuffixes names each bucket for exporters without native histograms,
// e.g. "0_005" and finally "inf".
func BoundSuffixes() []string {
	out := make([]string, 0, BucketCount)
	for _, b := range UpperBounds() {
		out = append(out, strings.ReplaceAll(strconv.FormatFloat(b, 'f', -1, 64), ".", "_"))
	}
	return append(out, "inf")
}

// CumulativeBuckets turns per-bucket counts into running totals. Missing
// buckets count as zero.
func CumulativeBuckets(raw []uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	var running uint64
	for i := range out {
		if i < len(raw) {
			running += raw[i]
		}
		out[i] = running
	}
	return out
}
