package mqtmetrics

import (
	"time"

	config "github.com/cornellpepper/CuWatch-server/src/production/MQT.Config"
	logger "github.com/cornellpepper/CuWatch-server/src/production/MQT.Logger"
	mqtmodels "github.com/cornellpepper/CuWatch-server/src/production/MQT.Models"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
)

// RateMeasurement is the influx measurement rate points are written to
const RateMeasurement = "muon_rate"

// InfluxReporter mirrors device rates into InfluxDB v2
type InfluxReporter struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	enabled  bool
}

// NewInfluxReporter creates a reporter; a disabled config yields a no-op reporter
func NewInfluxReporter(cfg config.InfluxConfig, log *logger.Logger) *InfluxReporter {
	if !cfg.Enabled {
		return &InfluxReporter{enabled: false}
	}
	if log == nil {
		log = logger.Nop()
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().SetBatchSize(100).SetFlushInterval(1000))
	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)

	ir := &InfluxReporter{
		client:   client,
		writeAPI: writeAPI,
		enabled:  true,
	}

	log = log.WithComponent("influx")
	go func() {
		for err := range writeAPI.Errors() {
			log.WarnWithError(err, "Influx write failed")
		}
	}()

	return ir
}

// Enabled reports whether points are actually written
func (ir *InfluxReporter) Enabled() bool {
	return ir.enabled
}

// ReportRate writes one rate point stamped with the sample time
func (ir *InfluxReporter) ReportRate(deviceID string, ts time.Time, m mqtmodels.DeviceMetrics) {
	if !ir.enabled {
		return
	}

	fields := map[string]interface{}{}
	if m.InstRateHz != nil {
		fields["inst_rate_hz"] = *m.InstRateHz
	}
	if m.EmaRateHz != nil {
		fields["ema_rate_hz"] = *m.EmaRateHz
	}
	if len(fields) == 0 {
		return
	}

	p := influxdb2.NewPoint(RateMeasurement,
		map[string]string{
			"device_id": deviceID,
		},
		fields,
		ts)

	ir.writeAPI.WritePoint(p)
}

// Flush sends buffered points
func (ir *InfluxReporter) Flush() {
	if ir.enabled {
		ir.writeAPI.Flush()
	}
}

// Close flushes and releases the client
func (ir *InfluxReporter) Close() {
	if !ir.enabled {
		return
	}
	ir.writeAPI.Flush()
	ir.client.Close()
}
