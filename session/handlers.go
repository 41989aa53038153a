package session

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mrMistryRohit/creditbook-trimplin-sub000/models"
	"github.com/mrMistryRohit/creditbook-trimplin-sub000/syncengine"
	"github.com/mrMistryRohit/creditbook-trimplin-sub000/utils"
	"gorm.io/gorm"
)

func StatusHandler(m *Manager, online func() bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		resp := StatusResponse{State: string(syncengine.StateIdle)}
		if online != nil {
			resp.Online = online()
		}
		o := m.Current()
		if o == nil {
			c.JSON(http.StatusOK, resp)
			return
		}
		tenant := m.Tenant()
		resp.State = string(o.State())
		resp.Tenant = tenant
		resp.BusinessId = m.BusinessId()
		resp.Running = o.Running()
		resp.LastCycle = o.LastReport()

		watermark, err := m.Store().GetWatermark(c.Request.Context(), tenant)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		resp.LastSyncAt = formatTime(&watermark)
		c.JSON(http.StatusOK, resp)
	}
}

func LoginHandler(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		tenant := strings.TrimSpace(req.Tenant)
		ctx := utils.SetTenantInContext(c.Request.Context(), tenant)
		o, err := m.Login(ctx, tenant)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "state": o.State()})
	}
}

func LogoutHandler(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		m.Logout()
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

func SyncNowHandler(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		o := m.Current()
		tenant := m.Tenant()
		if o == nil || tenant == "" {
			c.JSON(http.StatusConflict, gin.H{"error": "no active session"})
			return
		}
		ctx := utils.SetTriggerInContext(c.Request.Context(), models.SyncTriggeredManual)
		report := o.SyncNow(ctx, tenant)
		if report.Dropped {
			c.JSON(http.StatusAccepted, gin.H{"dropped": true})
			return
		}
		c.JSON(http.StatusOK, report)
	}
}

func QueueHandler(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		o := m.Current()
		if o == nil {
			c.JSON(http.StatusConflict, gin.H{"error": "no active session"})
			return
		}
		var req QueueRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		err := o.QueueForSync(c.Request.Context(), syncengine.TableName(req.Table), req.LocalId)
		if err != nil {
			switch {
			case errors.Is(err, syncengine.ErrUnknownTable):
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			case errors.Is(err, gorm.ErrRecordNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			default:
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			}
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

func SwitchBusinessHandler(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req SwitchBusinessRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if err := m.SwitchBusiness(c.Request.Context(), req.BusinessId); err != nil {
			switch {
			case errors.Is(err, syncengine.ErrNoTenant):
				c.JSON(http.StatusConflict, gin.H{"error": "no active session"})
			case errors.Is(err, utils.ErrorRecordNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			default:
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			}
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

func SyncHistoryHandler(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenant := m.Tenant()
		if tenant == "" {
			c.JSON(http.StatusConflict, gin.H{"error": "no active session"})
			return
		}

		limit := 20
		if v := strings.TrimSpace(c.Query("limit")); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
				limit = n
			}
		}

		runs, err := m.Store().ListSyncRuns(c.Request.Context(), tenant, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		items := make([]SyncRunResponse, 0, len(runs))
		for _, run := range runs {
			items = append(items, mapRunToResponse(run))
		}
		c.JSON(http.StatusOK, SyncHistoryResponse{Items: items})
	}
}

func SyncRunDetailHandler(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenant := m.Tenant()
		if tenant == "" {
			c.JSON(http.StatusConflict, gin.H{"error": "no active session"})
			return
		}
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
			return
		}

		run, errs, err := m.Store().GetSyncRun(c.Request.Context(), tenant, uint(id))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if run == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.JSON(http.StatusOK, SyncRunDetailResponse{
			SyncRunResponse: mapRunToResponse(run),
			Errors:          mapErrors(errs),
		})
	}
}

// Register mounts the sync API on r.
func Register(r gin.IRouter, m *Manager, online func() bool) {
	api := r.Group("/api/sync")
	api.GET("/status", StatusHandler(m, online))
	api.POST("/login", LoginHandler(m))
	api.POST("/logout", LogoutHandler(m))
	api.POST("/now", SyncNowHandler(m))
	api.POST("/queue", QueueHandler(m))
	api.POST("/business", SwitchBusinessHandler(m))
	api.GET("/runs", SyncHistoryHandler(m))
	api.GET("/runs/:id", SyncRunDetailHandler(m))
}
