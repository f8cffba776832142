package controllers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	interfaces "github.com/cornellpepper/CuWatch-server/src/production/MQT.Repository/Interfaces"
	telemetry "github.com/cornellpepper/CuWatch-server/src/production/MQT.Telemetry"
	"github.com/gin-gonic/gin"
	"github.com/relvacode/iso8601"
)

// parseTime accepts epoch seconds (all digits) or ISO-8601; anything else is ignored
func parseTime(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if isDigits(s) {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil
		}
		t := time.Unix(n, 0).UTC()
		return &t
	}
	t, err := iso8601.ParseString(strings.Replace(s, " ", "T", 1))
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// windowFrom reads the start and end query parameters
func windowFrom(c *gin.Context, deviceID string) telemetry.Window {
	return telemetry.Window{
		DeviceID: deviceID,
		Start:    parseTime(c.Query("start")),
		End:      parseTime(c.Query("end")),
	}
}

// limitFrom reads ?limit; absent or unparsable selects the default, anything
// else is clamped to at least one row.
func limitFrom(c *gin.Context) int {
	raw, ok := c.GetQuery("limit")
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0
	}
	return max(n, 1)
}

func orderFrom(c *gin.Context, def interfaces.SortOrder) interfaces.SortOrder {
	switch strings.ToLower(c.Query("order")) {
	case "asc", "ascending":
		return interfaces.Ascending
	case "desc", "descending":
		return interfaces.Descending
	}
	return def
}

// writeError maps query errors to HTTP statuses
func writeError(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, telemetry.ErrDeviceNotFound):
		ctx.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, telemetry.ErrStorageUnavailable):
		ctx.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage unavailable"})
	default:
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
