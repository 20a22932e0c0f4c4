package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	OnboardingTransitions *prometheus.CounterVec
	InvalidTransitions    prometheus.Counter
	VerificationOutcomes  *prometheus.CounterVec
	CredentialsIssued     prometheus.Counter
	CredentialsRevoked    prometheus.Counter
	CredentialValidations *prometheus.CounterVec
	AuthzDecisions        *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		OnboardingTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "membergate_onboarding_transitions_total",
			Help: "Onboarding state transitions by target state",
		}, []string{"to_state"}),
		InvalidTransitions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "membergate_onboarding_invalid_transitions_total",
			Help: "Rejected onboarding transition attempts",
		}),
		VerificationOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "membergate_verification_outcomes_total",
			Help: "Terminal verification case outcomes",
		}, []string{"outcome"}),
		CredentialsIssued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "membergate_credentials_issued_total",
			Help: "Machine credentials issued",
		}),
		CredentialsRevoked: promauto.NewCounter(prometheus.CounterOpts{
			Name: "membergate_credentials_revoked_total",
			Help: "Machine credentials revoked",
		}),
		CredentialValidations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "membergate_credential_validations_total",
			Help: "Credential validation attempts by result",
		}, []string{"result"}),
		AuthzDecisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "membergate_authz_decisions_total",
			Help: "Authorization guard decisions by result",
		}, []string{"result"}),
	}
}

// ObserveTransition records a successful onboarding transition.
func (m *Metrics) ObserveTransition(toState string) {
	if m == nil {
		return
	}
	m.OnboardingTransitions.WithLabelValues(toState).Inc()
}

// ObserveInvalidTransition records a rejected transition attempt.
func (m *Metrics) ObserveInvalidTransition() {
	if m == nil {
		return
	}
	m.InvalidTransitions.Inc()
}

// ObserveVerificationOutcome records a terminal verification outcome.
func (m *Metrics) ObserveVerificationOutcome(outcome string) {
	if m == nil {
		return
	}
	m.VerificationOutcomes.WithLabelValues(outcome).Inc()
}

// ObserveAuthzDecision records an allow or deny from the guard.
func (m *Metrics) ObserveAuthzDecision(result string) {
	if m == nil {
		return
	}
	m.AuthzDecisions.WithLabelValues(result).Inc()
}

// ObserveCredentialValidation records a credential validation result.
func (m *Metrics) ObserveCredentialValidation(result string) {
	if m == nil {
		return
	}
	m.CredentialValidations.WithLabelValues(result).Inc()
}

// IncrementCredentialsIssued bumps the issuance counter.
func (m *Metrics) IncrementCredentialsIssued() {
	if m == nil {
		return
	}
	m.CredentialsIssued.Inc()
}

// IncrementCredentialsRevoked bumps the revocation counter.
func (m *Metrics) IncrementCredentialsRevoked() {
	if m == nil {
		return
	}
	m.CredentialsRevoked.Inc()
}
