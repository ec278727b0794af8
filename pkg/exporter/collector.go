package exporter

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/terminus-io/warden/pkg/metadata"
	"github.com/terminus-io/warden/pkg/utils"
	"k8s.io/klog/v2"
)

var (
	// 卷指标
	descVolumeSize = prometheus.NewDesc(
		"warden_volume_size_bytes",
		"Last measured size of a tenant volume",
		[]string{"volume", "server_id", "name"}, nil,
	)
	descVolumeDrift = prometheus.NewDesc(
		"warden_volume_cumulative_growth_bytes",
		"Growth accumulated inside the drift window",
		[]string{"volume", "server_id", "name"}, nil,
	)
	descVolumeQuota = prometheus.NewDesc(
		"warden_volume_quota_bytes",
		"Disk limit configured on the control plane",
		[]string{"volume", "server_id", "name"}, nil,
	)
	// 根目录所在文件系统
	descFSSize = prometheus.NewDesc(
		"warden_filesystem_size_bytes",
		"Total size of the filesystem holding the volumes",
		[]string{"mount_point"}, nil,
	)
	descFSFree = prometheus.NewDesc(
		"warden_filesystem_free_bytes",
		"Free bytes on the filesystem holding the volumes",
		[]string{"mount_point"}, nil,
	)
	descTenants = prometheus.NewDesc(
		"warden_tenants_tracked",
		"Tenant records currently cached, by resolution state",
		[]string{"resolved"}, nil,
	)
)

type RecordSource interface {
	Records() []metadata.TenantRecord
}

// VolumeCollector exposes the tenant directory as gauges at scrape time.
type VolumeCollector struct {
	root  string
	store RecordSource
}

func NewVolumeCollector(root string, store RecordSource) *VolumeCollector {
	return &VolumeCollector{root: root, store: store}
}

func (c *VolumeCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- descVolumeSize
	ch <- descVolumeDrift
	ch <- descVolumeQuota
	ch <- descFSSize
	ch <- descFSFree
	ch <- descTenants
}

func (c *VolumeCollector) Collect(ch chan<- prometheus.Metric) {
	var resolved, unresolved int
	for _, r := range c.store.Records() {
		if !r.Resolved() {
			unresolved++
			if !r.HasBaseline() {
				continue
			}
		} else {
			resolved++
		}
		labels := []string{r.VolumeID, formatID(r.InternalID), r.DisplayName}
		if r.HasBaseline() {
			ch <- prometheus.MustNewConstMetric(descVolumeSize, prometheus.GaugeValue, r.LastMeasuredGB*utils.GiB, labels...)
			ch <- prometheus.MustNewConstMetric(descVolumeDrift, prometheus.GaugeValue, r.CumulativeDriftGB*utils.GiB, labels...)
		}
		if r.QuotaGB > 0 {
			ch <- prometheus.MustNewConstMetric(descVolumeQuota, prometheus.GaugeValue, r.QuotaGB*utils.GiB, labels...)
		}
	}
	ch <- prometheus.MustNewConstMetric(descTenants, prometheus.GaugeValue, float64(resolved), "true")
	ch <- prometheus.MustNewConstMetric(descTenants, prometheus.GaugeValue, float64(unresolved), "false")

	if c.root == "" {
		return
	}
	st, err := utils.GetDiskUsage(c.root)
	if err != nil {
		klog.ErrorS(err, "Failed to stat volumes filesystem", "path", c.root)
		return
	}
	ch <- prometheus.MustNewConstMetric(descFSSize, prometheus.GaugeValue, float64(st.Total), c.root)
	ch <- prometheus.MustNewConstMetric(descFSFree, prometheus.GaugeValue, float64(st.Free), c.root)
}

func formatID(id int64) string {
	if id == 0 {
		return ""
	}
	return strconv.FormatInt(id, 10)
}
