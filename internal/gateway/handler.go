// Package gateway binds the device-facing polling protocol to the
// registry, command queue, and ingestion pipeline. Responses are always
// plain text with a recognized token; terminals treat anything else as an
// error and retry.
package gateway

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"devicegw/internal/command"
	"devicegw/internal/device"
	"devicegw/internal/ingest"
	"devicegw/internal/metrics"
	"devicegw/internal/protocol"
)

// maxPushBody bounds a cdata upload; terminals batch at most a few
// thousand punches per push.
const maxPushBody = 1 << 20

// Handler serves the iclock routes.
type Handler struct {
	registry *device.Registry
	queue    *command.Queue
	pipeline *ingest.Pipeline
	metrics  *metrics.Gateway
	log      *zap.Logger
}

// NewHandler builds the handler.
func NewHandler(registry *device.Registry, queue *command.Queue, pipeline *ingest.Pipeline, m *metrics.Gateway, log *zap.Logger) *Handler {
	return &Handler{registry: registry, queue: queue, pipeline: pipeline, metrics: m, log: log}
}

// Register mounts the device-facing routes.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/iclock/getrequest", h.poll)
	r.POST("/iclock/cdata", h.push)
	r.POST("/iclock/devicecmd", h.commandReply)
}

// authenticate resolves the SN query parameter. A failure writes the
// rejection token; the caller must return immediately when ok is false.
func (h *Handler) authenticate(c *gin.Context) (device.Device, bool) {
	dev, err := h.registry.Authenticate(c.Request.Context(), c.Query("SN"))
	if err != nil {
		if errors.Is(err, device.ErrUnknown) || errors.Is(err, device.ErrInactive) {
			h.metrics.AuthRejections.Inc()
			c.String(http.StatusUnauthorized, protocol.TokenUnauth)
		} else {
			h.log.Error("device lookup failed", zap.Error(err))
			c.String(http.StatusInternalServerError, protocol.TokenError)
		}
		return device.Device{}, false
	}
	return dev, true
}

// poll delivers the device's pending command backlog.
func (h *Handler) poll(c *gin.Context) {
	dev, ok := h.authenticate(c)
	if !ok {
		return
	}
	h.registry.RecordHeartbeat(c.Request.Context(), dev)

	cmds, err := h.queue.Drain(c.Request.Context(), dev.ID)
	if err != nil {
		h.log.Error("drain failed", zap.String("device", dev.Serial), zap.Error(err))
		c.String(http.StatusInternalServerError, protocol.TokenError)
		return
	}
	if len(cmds) == 0 {
		c.String(http.StatusOK, protocol.EncodeEmptyResponse())
		return
	}

	lines := make([]protocol.CommandLine, len(cmds))
	for i, cmd := range cmds {
		lines[i] = protocol.CommandLine{
			Seq:          cmd.Seq,
			Kind:         string(cmd.Kind),
			DeviceUserID: cmd.DeviceUserID,
			DisplayName:  cmd.DisplayName,
			CardNumber:   cmd.CardNumber,
		}
	}
	h.metrics.CommandsDrained.Add(float64(len(cmds)))
	c.String(http.StatusOK, protocol.EncodeCommandResponse(lines))
}

// push ingests a punch batch.
func (h *Handler) push(c *gin.Context) {
	dev, ok := h.authenticate(c)
	if !ok {
		return
	}
	h.registry.RecordHeartbeat(c.Request.Context(), dev)

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxPushBody))
	if err != nil {
		c.String(http.StatusBadRequest, protocol.TokenError)
		return
	}

	punches, malformed := protocol.DecodePunchBlock(string(body))
	for _, m := range malformed {
		h.log.Warn("malformed punch line skipped",
			zap.String("device", dev.Serial), zap.Int("line", m.LineNo), zap.String("reason", m.Reason))
	}
	h.metrics.MalformedLines.Add(float64(len(malformed)))

	rep, err := h.pipeline.Ingest(c.Request.Context(), dev, punches)
	if err != nil {
		h.log.Error("ingest failed", zap.String("device", dev.Serial), zap.Error(err))
		c.String(http.StatusInternalServerError, protocol.TokenError)
		return
	}
	h.metrics.PunchesAccepted.Add(float64(rep.Accepted))
	h.metrics.PunchesDuplicate.Add(float64(rep.Duplicates))
	h.metrics.PunchesUnresolved.Add(float64(rep.Unresolved))

	c.String(http.StatusOK, protocol.EncodePushAck(rep.Accepted+rep.Duplicates))
}

// commandReply resolves terminal acknowledgements against SENT commands.
func (h *Handler) commandReply(c *gin.Context) {
	dev, ok := h.authenticate(c)
	if !ok {
		return
	}
	h.registry.RecordHeartbeat(c.Request.Context(), dev)

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxPushBody))
	if err != nil {
		c.String(http.StatusBadRequest, protocol.TokenError)
		return
	}

	acks := protocol.DecodeCommandAck(string(body))
	results := make([]command.AckResult, len(acks))
	for i, a := range acks {
		results[i] = command.AckResult{Seq: a.Seq, OK: a.ReturnCode == 0}
	}
	if err := h.queue.Acknowledge(c.Request.Context(), dev.ID, results); err != nil {
		h.log.Error("acknowledge failed", zap.String("device", dev.Serial), zap.Error(err))
		c.String(http.StatusInternalServerError, protocol.TokenError)
		return
	}
	h.metrics.CommandsAcked.Add(float64(len(results)))
	c.String(http.StatusOK, protocol.TokenOK)
}
