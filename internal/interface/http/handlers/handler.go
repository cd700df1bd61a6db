package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"

	"github.com/ark-network/coinjoin/internal/core/application"
	"github.com/ark-network/coinjoin/internal/core/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

type Handler interface {
	RegisterRoutes(router gin.IRouter)
	// Start forwards the application events to the stream listeners.
	Start()
	Stop()
}

type handler struct {
	svc    application.Service
	events *broker[eventInfo]

	quitOnce *sync.Once
	quit     chan struct{}
}

func NewHandler(svc application.Service) Handler {
	return &handler{
		svc:      svc,
		events:   newBroker[eventInfo](),
		quitOnce: &sync.Once{},
		quit:     make(chan struct{}),
	}
}

func (h *handler) RegisterRoutes(router gin.IRouter) {
	v1 := router.Group("/v1")
	v1.GET("/rounds", h.getRounds)
	v1.GET("/alices", h.getAlices)
	v1.GET("/addresses", h.getAddresses)
	v1.GET("/events", h.getEventStream)
	v1.POST("/inputs", h.registerInput)
	v1.POST("/participation/disable", h.disable)
	v1.POST("/participation/enable", h.enable)
}

func (h *handler) Start() {
	go h.listenToEvents()
}

func (h *handler) Stop() {
	h.quitOnce.Do(func() {
		close(h.quit)
	})
	h.events.closeAll()
}

func (h *handler) getRounds(c *gin.Context) {
	list := h.svc.GetRounds(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"rounds": rounds(list).toInfo()})
}

func (h *handler) getAlices(c *gin.Context) {
	list := h.svc.GetAlices(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"enabled": h.svc.IsEnabled(),
		"alices":  alices(list).toInfo(),
	})
}

func (h *handler) getAddresses(c *gin.Context) {
	list, err := h.svc.GetReservedAddresses(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"addresses": addresses(list).toInfo()})
}

func (h *handler) registerInput(c *gin.Context) {
	var req registerInputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	utxo, err := req.toUtxo()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	registered, err := h.svc.RegisterInput(c.Request.Context(), utxo)
	if err != nil {
		c.JSON(statusOf(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"alice": alice(*registered).toInfo()})
}

func (h *handler) disable(c *gin.Context) {
	if err := h.svc.Disable(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"enabled": h.svc.IsEnabled()})
}

func (h *handler) enable(c *gin.Context) {
	h.svc.Enable()
	c.JSON(http.StatusOK, gin.H{"enabled": h.svc.IsEnabled()})
}

func (h *handler) getEventStream(c *gin.Context) {
	l := &listener[eventInfo]{
		id: uuid.NewString(),
		ch: make(chan eventInfo, listenerBufferSize),
	}
	h.events.pushListener(l)
	defer h.events.removeListener(l.id)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case ev, ok := <-l.ch:
			if !ok {
				return false
			}
			c.SSEvent(ev.Type, ev)
			return true
		}
	})
}

func (h *handler) listenToEvents() {
	ch := h.svc.GetEventsChannel(context.Background())
	for {
		select {
		case <-h.quit:
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			info, ok := toEventInfo(event)
			if !ok {
				log.Warnf("unknown participation event %T", event)
				continue
			}
			if missed := h.events.publish(info); missed > 0 {
				log.Debugf("%d slow listeners missed event %s", missed, info.Id)
			}
		}
	}
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrParticipationOff):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrNoSuitableRound):
		return http.StatusConflict
	case errors.Is(err, domain.ErrAmountTooSmall),
		errors.Is(err, domain.ErrInputNotAllowed),
		errors.Is(err, domain.ErrOutputPlanning):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrCoordinatorRejected):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
