package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mizusense/suimon/internal/logx"
	"github.com/mizusense/suimon/internal/registry"
	"github.com/mizusense/suimon/internal/server/db"
)

type createDeviceRequest struct {
	DeviceID        string   `json:"deviceId" binding:"required"`
	Label           string   `json:"label"`
	Site            string   `json:"site"`
	FieldID         string   `json:"fieldId"`
	Location        string   `json:"location"`
	FirmwareVersion string   `json:"firmwareVersion"`
	Lat             *float64 `json:"lat"`
	Lon             *float64 `json:"lon"`
}

// HandleCreateDevice handles POST /v1/devices (admin provisioning).
func HandleCreateDevice(store *db.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createDeviceRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		d := &db.Device{
			DeviceID:        req.DeviceID,
			Label:           req.Label,
			Site:            req.Site,
			FieldID:         req.FieldID,
			Location:        req.Location,
			FirmwareVersion: req.FirmwareVersion,
			Lat:             req.Lat,
			Lon:             req.Lon,
			Active:          true,
		}

		if err := store.CreateDevice(d); err != nil {
			if err == db.ErrDeviceDuplicate {
				c.JSON(http.StatusConflict, gin.H{"error": "device already exists"})
				return
			}
			logx.Errorf("CreateDevice(%q): %v", req.DeviceID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create device"})
			return
		}

		c.JSON(http.StatusCreated, gin.H{"deviceId": req.DeviceID, "status": "created"})
	}
}

// HandleListDevices handles GET /v1/devices.
func HandleListDevices(store *db.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		devices, err := store.ListDevices()
		if err != nil {
			logx.Errorf("ListDevices: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list devices"})
			return
		}
		if devices == nil {
			devices = []db.Device{}
		}
		c.JSON(http.StatusOK, devices)
	}
}

// HandleGetDevice handles GET /v1/devices/:id, returning the merged
// catalog + ownership view.
func HandleGetDevice(coord *registry.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		view, err := coord.Device(id)
		if err != nil {
			if errors.Is(err, registry.ErrDeviceNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "device not found"})
				return
			}
			logx.Errorf("GetDevice(%q): %v", id, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve device"})
			return
		}
		c.JSON(http.StatusOK, view)
	}
}

type claimRequest struct {
	DeviceID string   `json:"deviceId" binding:"required"`
	Lat      *float64 `json:"lat" binding:"required"`
	Lon      *float64 `json:"lon" binding:"required"`
}

// HandleClaimDevice handles POST /v1/devices/claim. Requires the user auth
// middleware.
func HandleClaimDevice(coord *registry.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		ident := identityFrom(c)
		if ident == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var req claimRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		view, err := coord.Claim(c.Request.Context(), ident, req.DeviceID, *req.Lat, *req.Lon)
		if err != nil {
			switch {
			case errors.Is(err, registry.ErrDeviceNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": "device not found"})
			case errors.Is(err, registry.ErrDeviceAlreadyClaimed):
				c.JSON(http.StatusConflict, gin.H{"error": "already claimed"})
			case errors.Is(err, registry.ErrAllocationConflict):
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "claim could not be recorded, retry"})
			default:
				logx.Errorf("Claim(%q, %q): %v", ident.Subject, req.DeviceID, err)
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to claim device"})
			}
			return
		}

		c.JSON(http.StatusOK, view)
	}
}

// HandleListOwnerships handles GET /v1/ownerships: the caller's active
// claims with their device records.
func HandleListOwnerships(coord *registry.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		ident := identityFrom(c)
		if ident == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		owned, err := coord.Owned(ident.Subject)
		if err != nil {
			logx.Errorf("Owned(%q): %v", ident.Subject, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list ownerships"})
			return
		}
		c.JSON(http.StatusOK, owned)
	}
}

type latestMetricResponse struct {
	DeviceID string   `json:"deviceId"`
	Time     *string  `json:"time"`
	Value    *float64 `json:"value"`
}

// HandleLatestMeasurement handles GET /v1/devices/:id/latest. A device that
// has never reported yields null time and value, matching the metric-store
// contract's "no sample" outcome.
func HandleLatestMeasurement(store *db.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		m, err := store.LatestMeasurement(id)
		if err != nil {
			logx.Errorf("LatestMeasurement(%q): %v", id, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query measurements"})
			return
		}

		resp := latestMetricResponse{DeviceID: id}
		if m != nil {
			ts := m.MeasuredAt.UTC().Format(time.RFC3339)
			resp.Time = &ts
			resp.Value = &m.Value
		}
		c.JSON(http.StatusOK, resp)
	}
}

// HandleMeasurementRange handles GET /v1/devices/:id/measurements.
// Query params: hours (default 24), limit (default 100, capped at 1000).
func HandleMeasurementRange(store *db.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")

		hours := 24
		if v := c.Query("hours"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "hours must be a positive integer"})
				return
			}
			hours = n
		}
		limit := 100
		if v := c.Query("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
				return
			}
			limit = n
		}
		if limit > 1000 {
			limit = 1000
		}

		since := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
		samples, err := store.MeasurementRange(id, since, limit)
		if err != nil {
			logx.Errorf("MeasurementRange(%q): %v", id, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query measurements"})
			return
		}
		if samples == nil {
			samples = []db.Measurement{}
		}
		c.JSON(http.StatusOK, samples)
	}
}

type ingestMeasurementRequest struct {
	Value       *float64 `json:"value" binding:"required"`
	Time        string   `json:"time"`
	MeasureName string   `json:"measureName"`
}

// HandleIngestMeasurement handles POST /v1/devices/:id/measurements
// (admin ingest).
func HandleIngestMeasurement(store *db.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")

		var req ingestMeasurementRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		dev, err := store.GetDevice(id)
		if err != nil {
			logx.Errorf("GetDevice(%q): %v", id, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve device"})
			return
		}
		if dev == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "device not found"})
			return
		}

		measuredAt := time.Now().UTC()
		if req.Time != "" {
			ts, err := time.Parse(time.RFC3339, req.Time)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "time must be RFC3339"})
				return
			}
			measuredAt = ts
		}

		m := &db.Measurement{
			DeviceID:    id,
			MeasureName: req.MeasureName,
			MeasuredAt:  measuredAt,
			Value:       *req.Value,
		}
		if err := store.InsertMeasurement(m); err != nil {
			logx.Errorf("InsertMeasurement(%q): %v", id, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record measurement"})
			return
		}

		c.JSON(http.StatusCreated, gin.H{"deviceId": id, "status": "recorded"})
	}
}
