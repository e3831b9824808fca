package api

import (
	"errors"
	"net/http"
	"strconv"

	"ethstack/internal/metrics"
	"ethstack/internal/observability"
	"ethstack/pkg/dhcp"
	"ethstack/pkg/network"
	"ethstack/pkg/nic"

	"github.com/gin-gonic/gin"
)

type Handlers struct {
	Stack   *network.Stack
	DHCP    map[string]*dhcp.Client
	Metrics *metrics.Metrics
	Events  *observability.Store
}

func (h *Handlers) GetInterfaces(c *gin.Context) {
	ifaces := h.Stack.Interfaces()
	out := make([]network.Info, 0, len(ifaces))
	for _, iface := range ifaces {
		out = append(out, iface.Info())
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handlers) GetInterface(c *gin.Context) {
	iface, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, iface.Info())
}

func (h *Handlers) SetInterfaceFlags(c *gin.Context) {
	iface, ok := h.lookup(c)
	if !ok {
		return
	}
	var req struct {
		Promiscuous        *bool `json:"promiscuous"`
		AcceptAllMulticast *bool `json:"accept_all_multicast"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.Promiscuous != nil {
		if err := iface.SetPromiscuous(*req.Promiscuous); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}
	if req.AcceptAllMulticast != nil {
		if err := iface.SetAcceptAllMulticast(*req.AcceptAllMulticast); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, iface.Info())
}

func (h *Handlers) GetFilters(c *gin.Context) {
	iface, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, iface.Info().Filters)
}

func (h *Handlers) AddFilter(c *gin.Context) {
	iface, ok := h.lookup(c)
	if !ok {
		return
	}
	var req struct {
		MAC string `json:"mac"`
	}
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	addr, err := nic.ParseMacAddr(req.MAC)
	if err != nil || addr.IsUnspecified() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid mac"})
		return
	}
	if err := iface.AcceptMacAddr(addr); err != nil {
		if errors.Is(err, nic.ErrFilterFull) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handlers) DeleteFilter(c *gin.Context) {
	iface, ok := h.lookup(c)
	if !ok {
		return
	}
	addr, err := nic.ParseMacAddr(c.Param("mac"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid mac"})
		return
	}
	if err := iface.DropMacAddr(addr); err != nil {
		if errors.Is(err, nic.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handlers) GetDHCP(c *gin.Context) {
	client, ok := h.dhcpClient(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, client.Status())
}

func (h *Handlers) StartDHCP(c *gin.Context) {
	client, ok := h.dhcpClient(c)
	if !ok {
		return
	}
	if err := client.Start(); err != nil {
		if errors.Is(err, network.ErrAlreadyRunning) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, client.Status())
}

func (h *Handlers) StopDHCP(c *gin.Context) {
	client, ok := h.dhcpClient(c)
	if !ok {
		return
	}
	if err := client.Stop(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, client.Status())
}

func (h *Handlers) ReleaseDHCP(c *gin.Context) {
	client, ok := h.dhcpClient(c)
	if !ok {
		return
	}
	if err := client.Release(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, client.Status())
}

func (h *Handlers) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.Metrics.Snapshot())
}

func (h *Handlers) GetEvents(c *gin.Context) {
	if h.Events == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "events disabled"})
		return
	}
	var since uint64
	if raw := c.Query("since"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid since"})
			return
		}
		since = v
	}
	c.JSON(http.StatusOK, h.Events.Since(since))
}

func (h *Handlers) lookup(c *gin.Context) (*network.Interface, bool) {
	iface, err := h.Stack.InterfaceByName(c.Param("name"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return nil, false
	}
	return iface, true
}

func (h *Handlers) dhcpClient(c *gin.Context) (*dhcp.Client, bool) {
	if _, ok := h.lookup(c); !ok {
		return nil, false
	}
	client := h.DHCP[c.Param("name")]
	if client == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "dhcp not enabled"})
		return nil, false
	}
	return client, true
}
