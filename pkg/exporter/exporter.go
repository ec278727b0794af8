package exporter

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/terminus-io/warden/pkg/metadata"
	"k8s.io/klog/v2"
)

const DefaultAddr = ":9201"

type volumeView struct {
	Volume            string    `json:"volume"`
	ServerID          int64     `json:"server_id"`
	Identifier        string    `json:"identifier,omitempty"`
	Name              string    `json:"name,omitempty"`
	QuotaGB           float64   `json:"quota_gb"`
	LastMeasuredGB    float64   `json:"last_measured_gb"`
	CumulativeDriftGB float64   `json:"cumulative_drift_gb"`
	LastMeasuredAt    time.Time `json:"last_measured_at,omitzero"`
}

// NewRouter serves health, prometheus metrics and a JSON view of the tenant records.
func NewRouter(reg *prometheus.Registry, store RecordSource) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	api := r.Group("/api")
	{
		api.GET("/volumes", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"volumes": views(store.Records())})
		})
		api.GET("/volumes/:id", func(c *gin.Context) {
			for _, rec := range store.Records() {
				if rec.VolumeID == c.Param("id") {
					c.JSON(http.StatusOK, view(rec))
					return
				}
			}
			c.JSON(http.StatusNotFound, gin.H{"error": "volume not tracked: " + c.Param("id")})
		})
	}
	return r
}

func views(recs []metadata.TenantRecord) []volumeView {
	out := make([]volumeView, 0, len(recs))
	for _, r := range recs {
		out = append(out, view(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Volume < out[j].Volume })
	return out
}

func view(r metadata.TenantRecord) volumeView {
	return volumeView{
		Volume:            r.VolumeID,
		ServerID:          r.InternalID,
		Identifier:        r.Identifier,
		Name:              r.DisplayName,
		QuotaGB:           r.QuotaGB,
		LastMeasuredGB:    r.LastMeasuredGB,
		CumulativeDriftGB: r.CumulativeDriftGB,
		LastMeasuredAt:    r.LastMeasuredAt,
	}
}

// StartMetricsServer blocks until ctx is cancelled or the listener fails.
func StartMetricsServer(ctx context.Context, handler http.Handler, metricsAddr string) error {
	srv := &http.Server{Addr: metricsAddr, Handler: handler, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		klog.Info("Shutting down metrics server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	klog.InfoS("Listening metrics", "address", metricsAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
