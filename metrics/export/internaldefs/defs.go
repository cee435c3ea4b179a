package internaldefs

import (
	"strconv"

	"github.com/MrEthical07/authflow"
)

// CounterDef names one engine counter for exporters.
type CounterDef struct {
	ID   authflow.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram for exporters.
type HistogramDef struct {
	ID   authflow.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in output order.
var CounterDefs = []CounterDef{
	{ID: authflow.MetricLoginSuccess, Name: "authflow_login_success_total", Help: "Logins that issued a full token pair."},
	{ID: authflow.MetricLoginFailure, Name: "authflow_login_failure_total", Help: "Failed login attempts."},
	{ID: authflow.MetricMFARequired, Name: "authflow_mfa_required_total", Help: "Logins that issued an MFA-pending token."},
	{ID: authflow.MetricCodeSent, Name: "authflow_code_sent_total", Help: "Verification codes sent or TOTP URIs rendered."},
	{ID: authflow.MetricCodeSendFailure, Name: "authflow_code_send_failure_total", Help: "Failed send-code requests."},
	{ID: authflow.MetricCodeRateLimited, Name: "authflow_code_rate_limited_total", Help: "Send-code requests denied by the delivery budget."},
	{ID: authflow.MetricVerifySuccess, Name: "authflow_verify_success_total", Help: "Successful second-factor verifications."},
	{ID: authflow.MetricVerifyFailure, Name: "authflow_verify_failure_total", Help: "Failed second-factor verifications."},
	{ID: authflow.MetricRefreshSuccess, Name: "authflow_refresh_success_total", Help: "Successful refresh operations."},
	{ID: authflow.MetricRefreshFailure, Name: "authflow_refresh_failure_total", Help: "Failed refresh operations."},
	{ID: authflow.MetricAuthenticateSuccess, Name: "authflow_authenticate_success_total", Help: "Access tokens resolved to a session."},
	{ID: authflow.MetricAuthenticateFailure, Name: "authflow_authenticate_failure_total", Help: "Access tokens rejected."},
	{ID: authflow.MetricCollaboratorError, Name: "authflow_collaborator_error_total", Help: "Failures of injected stores, codecs and code providers."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: authflow.MetricLoginLatency, Name: "authflow_login_latency_seconds", Help: "Login latency histogram."},
}

// AuditDroppedName is the counter for audit events lost to backpressure.
const AuditDroppedName = "authflow_audit_dropped_total"

// AuditDroppedHelp describes AuditDroppedName.
const AuditDroppedHelp = "Dropped audit events due to dispatcher backpressure."

// HistogramBoundsSeconds are the finite bucket upper bounds in seconds,
// matching authflow.HistogramBoundsMs.
var HistogramBoundsSeconds = func() []float64 {
	out := make([]float64, len(authflow.HistogramBoundsMs))
	for i, ms := range authflow.HistogramBoundsMs {
		out[i] = float64(ms) / 1000
	}
	return out
}()

// HistogramBoundLabels are the le label values of each bucket, +Inf last.
var HistogramBoundLabels = func() []string {
	out := make([]string, 0, len(HistogramBoundsSeconds)+1)
	for _, le := range HistogramBoundsSeconds {
		out = append(out, strconv.FormatFloat(le, 'g', -1, 64))
	}
	return append(out, "+Inf")
}()

// NormalizeBuckets pads or truncates raw to the fixed bucket count.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
