package main

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/agirails/canvas-core/internal/canvas/domain"
	"github.com/agirails/canvas-core/internal/canvas/snapshot"
	"github.com/agirails/canvas-core/internal/canvas/store"
)

// apiServer wires the core's read/command interfaces onto gin routes.
// Every command handler dispatches exactly one store.Action and broadcasts
// the resulting state over the hub.
type apiServer struct {
	st      *store.Store
	runner  *autoRunner
	hub     *wsHub
	resolve snapshot.CodeResolver
}

func newAPIServer(st *store.Store, runner *autoRunner, hub *wsHub) *apiServer {
	return &apiServer{
		st:     st,
		runner: runner,
		hub:    hub,
		resolve: func(templateID string) (string, bool) {
			t, ok := domain.LookupTemplate(templateID)
			return t.Code, ok
		},
	}
}

func (a *apiServer) router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowAllOrigins = true
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization")
	r.Use(cors.New(corsCfg))

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/ws", func(c *gin.Context) { a.hub.handleWS(c.Writer, c.Request) })

	r.GET("/state", a.getState)
	r.GET("/agents/:id", a.getAgent)
	r.GET("/agents/:id/connections", a.getAgentConnections)
	r.GET("/agents/:id/position", a.getAgentPosition)
	r.GET("/agents/:id/state", a.getAgentState)
	r.GET("/connections/:id", a.getConnection)
	r.GET("/export", a.getExport)

	r.POST("/agents", a.addAgent)
	r.DELETE("/agents/:id", a.removeAgent)
	r.PATCH("/agents/:id/code", a.updateAgentCode)
	r.PATCH("/agents/:id/position", a.updateAgentPosition)
	r.PATCH("/agents/:id/balance", a.updateAgentBalance)
	r.PATCH("/agents/:id/status", a.updateAgentStatus)

	r.POST("/connections", a.addConnection)
	r.DELETE("/connections/:id", a.removeConnection)
	r.PATCH("/connections/:id/state", a.updateConnectionState)
	r.PATCH("/connections/:id/amount", a.updateConnectionAmount)

	r.POST("/select/:id", a.selectAgent)
	r.POST("/select/clear", a.clearSelection)
	r.POST("/inspector/toggle", a.toggleInspector)

	r.POST("/runtime/start", a.startRuntime)
	r.POST("/runtime/stop", a.stopRuntime)
	r.POST("/runtime/tick", a.tickRuntime)
	r.POST("/runtime/reset", a.resetRuntime)
	r.POST("/runtime/step", a.stepOnce)
	r.PUT("/runtime/mode", a.setRuntimeMode)
	r.PUT("/runtime/tick-interval", a.setTickInterval)

	r.POST("/state/load", a.loadState)
	r.POST("/state/reset", a.resetState)

	return r
}

func (a *apiServer) getState(c *gin.Context) { c.JSON(http.StatusOK, a.st.State()) }

func (a *apiServer) getAgent(c *gin.Context) {
	ag, ok := a.st.GetAgent(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "agent not found"})
		return
	}
	c.JSON(http.StatusOK, ag)
}

func (a *apiServer) getAgentConnections(c *gin.Context) {
	c.JSON(http.StatusOK, a.st.GetAgentConnections(c.Param("id")))
}

func (a *apiServer) getAgentPosition(c *gin.Context) {
	p, ok := a.st.GetAgentPosition(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "position not found"})
		return
	}
	c.JSON(http.StatusOK, p)
}

func (a *apiServer) getAgentState(c *gin.Context) {
	c.JSON(http.StatusOK, a.st.GetAgentState(c.Param("id")))
}

func (a *apiServer) getConnection(c *gin.Context) {
	conn, ok := a.st.GetConnection(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "connection not found"})
		return
	}
	c.JSON(http.StatusOK, conn)
}

func (a *apiServer) getExport(c *gin.Context) {
	state := a.st.State()
	positions := make(map[string]domain.Position, len(state.Agents))
	for id := range state.Agents {
		if p, ok := a.st.GetAgentPosition(id); ok {
			positions[id] = p
		}
	}
	exportedAt := time.Now().UTC().Format(time.RFC3339)
	if c.Query("full") == "true" {
		c.JSON(http.StatusOK, snapshot.ExportFull(state, positions, exportedAt))
		return
	}
	c.JSON(http.StatusOK, snapshot.ExportTopology(state, positions, exportedAt))
}

func (a *apiServer) dispatch(c *gin.Context, action store.Action) {
	if err := a.st.Dispatch(action); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if a.hub != nil {
		a.hub.Broadcast("state", a.st.State())
	}
	c.JSON(http.StatusOK, a.st.State())
}

func (a *apiServer) addAgent(c *gin.Context) {
	var body struct {
		Agent    domain.Agent    `json:"agent"`
		Position domain.Position `json:"position"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	a.dispatch(c, store.Action{Kind: store.AddAgent, Agent: &body.Agent, Position: &body.Position})
}

func (a *apiServer) removeAgent(c *gin.Context) {
	a.dispatch(c, store.Action{Kind: store.RemoveAgent, AgentID: c.Param("id")})
}

func (a *apiServer) updateAgentCode(c *gin.Context) {
	var body struct {
		Code string `json:"code"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	a.dispatch(c, store.Action{Kind: store.UpdateAgentCode, AgentID: c.Param("id"), Code: body.Code})
}

func (a *apiServer) updateAgentPosition(c *gin.Context) {
	var pos domain.Position
	if err := c.ShouldBindJSON(&pos); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	a.dispatch(c, store.Action{Kind: store.UpdateAgentPosition, AgentID: c.Param("id"), Position: &pos})
}

func (a *apiServer) updateAgentBalance(c *gin.Context) {
	var body struct {
		BalanceMicro int64 `json:"balanceMicro"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	a.dispatch(c, store.Action{Kind: store.UpdateAgentBalance, AgentID: c.Param("id"), Balance: body.BalanceMicro})
}

func (a *apiServer) updateAgentStatus(c *gin.Context) {
	var body struct {
		Status domain.AgentStatus `json:"status"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	a.dispatch(c, store.Action{Kind: store.UpdateAgentStatus, AgentID: c.Param("id"), Status: body.Status})
}

func (a *apiServer) addConnection(c *gin.Context) {
	var conn domain.Connection
	if err := c.ShouldBindJSON(&conn); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	a.dispatch(c, store.Action{Kind: store.AddConnection, Connection: &conn})
}

func (a *apiServer) removeConnection(c *gin.Context) {
	a.dispatch(c, store.Action{Kind: store.RemoveConnection, ConnectionID: c.Param("id")})
}

func (a *apiServer) updateConnectionState(c *gin.Context) {
	var body struct {
		State domain.ConnState `json:"state"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	a.dispatch(c, store.Action{Kind: store.UpdateConnState, ConnectionID: c.Param("id"), ConnState: body.State})
}

func (a *apiServer) updateConnectionAmount(c *gin.Context) {
	var body struct {
		AmountMicro int64 `json:"amountMicro"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	a.dispatch(c, store.Action{Kind: store.UpdateConnAmount, ConnectionID: c.Param("id"), Amount: body.AmountMicro})
}

func (a *apiServer) selectAgent(c *gin.Context) {
	a.dispatch(c, store.Action{Kind: store.SelectAgent, SelectedID: c.Param("id")})
}

func (a *apiServer) clearSelection(c *gin.Context) {
	a.dispatch(c, store.Action{Kind: store.SelectAgent, ClearSelect: true})
}

func (a *apiServer) toggleInspector(c *gin.Context) {
	a.dispatch(c, store.Action{Kind: store.ToggleInspector})
}

func (a *apiServer) startRuntime(c *gin.Context) {
	if err := a.st.Dispatch(store.Action{Kind: store.StartRuntime}); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	a.runner.Start(a.hub)
	if a.hub != nil {
		a.hub.Broadcast("state", a.st.State())
	}
	c.JSON(http.StatusOK, a.st.State())
}

func (a *apiServer) stopRuntime(c *gin.Context) {
	a.runner.Stop()
	a.dispatch(c, store.Action{Kind: store.StopRuntime})
}

func (a *apiServer) tickRuntime(c *gin.Context) {
	a.dispatch(c, store.Action{Kind: store.TickRuntime, TickMs: a.st.State().TickIntervalMs})
}

func (a *apiServer) resetRuntime(c *gin.Context) {
	a.runner.Stop()
	a.dispatch(c, store.Action{Kind: store.ResetRuntime})
}

func (a *apiServer) stepOnce(c *gin.Context) {
	a.dispatch(c, store.Action{Kind: store.StepOnce})
}

func (a *apiServer) setRuntimeMode(c *gin.Context) {
	var body struct {
		Mode domain.RuntimeMode `json:"mode"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	a.dispatch(c, store.Action{Kind: store.SetRuntimeMode, RuntimeMode: body.Mode})
}

func (a *apiServer) setTickInterval(c *gin.Context) {
	var body struct {
		TickIntervalMs int64 `json:"tickIntervalMs"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	a.dispatch(c, store.Action{Kind: store.SetTickInterval, TickMs: body.TickIntervalMs})
}

func (a *apiServer) loadState(c *gin.Context) {
	var body snapshot.Export
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	state, positions, err := snapshot.Hydrate(body, a.resolve)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	a.dispatch(c, store.Action{Kind: store.LoadState, LoadedState: &state, LoadedPos: positions, NowMs: state.VirtualTimeMs})
}

func (a *apiServer) resetState(c *gin.Context) {
	a.dispatch(c, store.Action{Kind: store.ResetState})
}
