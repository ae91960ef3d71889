package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "liveclass", Name: "http_requests_total", Help: "HTTP requests by route and status",
	}, []string{"method", "route", "status"})
	HTTPDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "liveclass", Name: "http_request_duration_seconds", Help: "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	RoomsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "liveclass", Name: "rooms_created_total", Help: "Video rooms started for sessions",
	})
	RoomsEnded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "liveclass", Name: "rooms_ended_total", Help: "Video rooms torn down",
	}, []string{"reason"})
	TokensIssued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "liveclass", Name: "tokens_issued_total", Help: "Room access tokens minted",
	}, []string{"role"})
	CollaboratorErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "liveclass", Name: "collaborator_errors_total", Help: "Failed calls to the video-room service or the store",
	}, []string{"op"})
	EventsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "liveclass", Name: "events_published_total", Help: "Lifecycle events handed to the queue",
	}, []string{"type", "result"})
	DBPing = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "liveclass", Name: "db_ping_seconds", Help: "DB ping latency",
		Buckets: prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(HTTPRequests, HTTPDuration, RoomsCreated, RoomsEnded, TokensIssued,
		CollaboratorErrors, EventsPublished, DBPing)
}

func Handler() http.Handler { return promhttp.Handler() }

func ObserveDBPing(d time.Duration) { DBPing.Observe(d.Seconds()) }

// GinMiddleware records request counts and latency keyed by the matched route template.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		HTTPRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		HTTPDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}
