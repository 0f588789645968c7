package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Label value constants to prevent typos
const (
	// Job tick results
	ResultSuccess = "success"
	ResultFailure = "failure"

	// HTTP endpoints
	EndpointOAuthStart    = "oauth_start"
	EndpointOAuthCallback = "oauth_callback"
	EndpointWebhook       = "webhook_callback"
	EndpointToken         = "internal_token"
	EndpointActions       = "actions"
	EndpointDisconnect    = "disconnect"
	EndpointHealth        = "health"

	// Notification kinds
	NotifyReminder     = "reminder"
	NotifyCompletion   = "completion"
	NotifyJoinExpired  = "join_expired"
	NotifyPostTraining = "post_training"
	NotifySummary      = "trainer_summary"
	NotifyMatch        = "match_proposal"
	NotifyConnected    = "connected"

	// Database operations
	DBOpGetOrCreateWebhookEvent = "get_or_create_webhook_event"
	DBOpSetWebhookResult        = "set_webhook_result"
	DBOpScheduleWebhookRetry    = "schedule_webhook_retry"
	DBOpListDueCompletion       = "list_due_completion"
)

// HTTP Metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"endpoint", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"endpoint", "status_code"},
	)
)

// Scheduler metrics
var (
	JobTicksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_job_ticks_total",
			Help: "Total job ticks by job name and result",
		},
		[]string{"job", "result"},
	)

	JobTickDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "scheduler_job_tick_duration_seconds",
			Help:    "Job tick duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
		},
		[]string{"job"},
	)

	SchedulerActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scheduler_active",
			Help: "Whether the reconciliation scheduler is running (1) or not (0)",
		},
	)
)

// Webhook reconciliation metrics
var (
	WebhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Webhook events by final processing result",
		},
		[]string{"result"},
	)

	WebhookRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "webhook_retries_total",
			Help: "Total webhook processing retries scheduled",
		},
	)

	WebhookEventsByState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "webhook_events_by_state",
			Help: "Current webhook event counts by result state",
		},
		[]string{"result"},
	)

	PendingMatchesCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pending_matches_created_total",
			Help: "Pending matches created by confidence tier",
		},
		[]string{"confidence"},
	)
)

// Notification metrics
var (
	NotificationsSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_sent_total",
			Help: "Notifications attempted by kind and result",
		},
		[]string{"kind", "result"},
	)
)

// Database metrics
var (
	DBOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_operation_duration_seconds",
			Help:    "Database operation duration in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"operation"},
	)

	DBOperationErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_operation_errors_total",
			Help: "Total database operation errors",
		},
		[]string{"operation"},
	)
)

// Token lifecycle metrics
var (
	TokenRefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "token_refreshes_total",
			Help: "Provider token refreshes by result",
		},
		[]string{"result"},
	)
)
