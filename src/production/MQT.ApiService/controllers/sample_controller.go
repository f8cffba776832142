package controllers

import (
	"encoding/csv"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cornellpepper/CuWatch-server/src/production/MQT.ApiService/middleware"
	logger "github.com/cornellpepper/CuWatch-server/src/production/MQT.Logger"
	mqtmodels "github.com/cornellpepper/CuWatch-server/src/production/MQT.Models"
	telemetry "github.com/cornellpepper/CuWatch-server/src/production/MQT.Telemetry"
	"github.com/gin-gonic/gin"
)

// Rows buffered before an export is flushed to the client
const exportFlushRows = 500

// CSVHeader is the first line of every export
var CSVHeader = []string{"device_id", "ts", "device_number", "muon_count", "adc_v", "temp_adc_v", "dt", "wait_cnt", "coincidence"}

// SampleController serves sample listings and CSV export
type SampleController struct {
	query  *telemetry.QueryService
	logger *logger.Logger
}

// NewSampleController creates a new sample controller
func NewSampleController(query *telemetry.QueryService, logger *logger.Logger) *SampleController {
	return &SampleController{
		query:  query,
		logger: logger,
	}
}

// RegisterRoutes registers the sample routes with Gin
func (c *SampleController) RegisterRoutes(router *gin.Engine) {
	router.GET("/api/samples/:device_id", c.ListSamples)
	router.GET("/api/export/:file", c.ExportCSV)
}

// ListSamples returns the newest samples first. Query: limit, start, end
func (c *SampleController) ListSamples(ctx *gin.Context) {
	deviceID := ctx.Param("device_id")
	samples, err := c.query.Samples(ctx, windowFrom(ctx, deviceID), limitFrom(ctx))
	if err != nil {
		middleware.LoggerFrom(ctx, c.logger).ErrorWithError(err, "List samples failed")
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, samples)
}

// ExportCSV streams /api/export/<device_id>.csv oldest first
func (c *SampleController) ExportCSV(ctx *gin.Context) {
	deviceID, ok := strings.CutSuffix(ctx.Param("file"), ".csv")
	if !ok || deviceID == "" {
		ctx.JSON(http.StatusNotFound, gin.H{"error": "export must be <device_id>.csv"})
		return
	}

	w := csv.NewWriter(ctx.Writer)
	started := false
	start := func() {
		ctx.Header("Content-Type", "text/csv")
		ctx.Status(http.StatusOK)
		_ = w.Write(CSVHeader)
		started = true
	}

	rows := 0
	for s, err := range c.query.ExportRows(ctx, windowFrom(ctx, deviceID)) {
		if err != nil {
			middleware.LoggerFrom(ctx, c.logger).ErrorWithError(err, "Export failed")
			if !started {
				writeError(ctx, err)
				return
			}
			break
		}
		if !started {
			start()
		}
		_ = w.Write(csvRow(deviceID, s))
		rows++
		if rows%exportFlushRows == 0 {
			w.Flush()
		}
	}
	if !started {
		start()
	}
	w.Flush()
	if err := w.Error(); err != nil {
		middleware.LoggerFrom(ctx, c.logger).WarnWithError(err, "Export write interrupted")
	}
}

func csvRow(deviceID string, s mqtmodels.Sample) []string {
	return []string{
		deviceID,
		isoformat(s.Ts),
		strconv.Itoa(s.DeviceNumber),
		strconv.FormatInt(s.MuonCount, 10),
		strconv.Itoa(s.AdcV),
		strconv.Itoa(s.TempAdcV),
		strconv.FormatInt(s.Dt, 10),
		strconv.Itoa(s.WaitCnt),
		strconv.FormatBool(s.Coincidence),
	}
}

// isoformat renders microsecond precision only when there is a fraction
func isoformat(t time.Time) string {
	t = t.UTC()
	if t.Nanosecond()/1000 == 0 {
		return t.Format("2006-01-02T15:04:05-07:00")
	}
	return t.Format("2006-01-02T15:04:05.000000-07:00")
}
