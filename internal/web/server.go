// Package web is the operator-facing JSON control surface: operator login,
// account management, and manual triggers for the flows the scheduler
// normally drives.
package web

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/j5272000/campus-imaotai/internal/accounts"
	"github.com/j5272000/campus-imaotai/internal/auth"
	"github.com/j5272000/campus-imaotai/internal/db"
	"github.com/j5272000/campus-imaotai/internal/errs"
	"github.com/j5272000/campus-imaotai/internal/logbook"
	"github.com/j5272000/campus-imaotai/internal/outlets"
	"github.com/j5272000/campus-imaotai/internal/workflow"
)

// Accounts is the account store surface the handlers need.
type Accounts interface {
	Get(ctx context.Context, mobile string) (accounts.Account, error)
	Update(ctx context.Context, a accounts.Account) (int64, error)
	Delete(ctx context.Context, mobiles []string) (int64, error)
	List(ctx context.Context, f accounts.PageFilter) ([]accounts.Account, int64, error)
}

// Flows are the manually triggerable account workflows.
type Flows interface {
	SendCode(ctx context.Context, mobile string) error
	Login(ctx context.Context, p workflow.LoginParams) (accounts.Account, error)
	Reservation(ctx context.Context, acct accounts.Account) error
	TravelReward(ctx context.Context, acct accounts.Account) error
}

// Catalog exposes the refreshable upstream state.
type Catalog interface {
	RefreshAll(ctx context.Context) error
	Outlets(ctx context.Context) ([]outlets.Outlet, error)
}

// Items lists the current item catalog.
type Items interface {
	ListItems(ctx context.Context) ([]outlets.Item, error)
}

// Logs reads the per-account logbook.
type Logs interface {
	Recent(ctx context.Context, mobile string, limit int) ([]logbook.Entry, error)
}

type Server struct {
	auth     *auth.Store
	accounts Accounts
	flows    Flows
	catalog  Catalog
	items    Items
	logs     Logs
	log      *slog.Logger
}

func NewServer(authStore *auth.Store, acc Accounts, flows Flows, cat Catalog, items Items, logs Logs, log *slog.Logger) *Server {
	return &Server{auth: authStore, accounts: acc, flows: flows, catalog: cat, items: items, logs: logs, log: log}
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.POST("/api/session", s.operatorLogin)
	r.DELETE("/api/session", s.operatorLogout)

	api := r.Group("/api", s.auth.RequireOperator())
	{
		api.GET("/accounts", s.listAccounts)
		api.PUT("/accounts/:mobile", s.updateAccount)
		api.DELETE("/accounts", s.deleteAccounts)
		api.GET("/accounts/:mobile/logs", s.accountLogs)

		api.POST("/mt/code", s.sendCode)
		api.POST("/mt/login", s.mtLogin)
		api.POST("/mt/reservation", s.runReservation)
		api.POST("/mt/travel-reward", s.runTravelReward)
		api.POST("/mt/refresh", s.refreshCatalog)
		api.GET("/mt/items", s.listItems)
		api.GET("/mt/outlets", s.listOutlets)
	}
	return r
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"data": data})
}

// fail maps the error taxonomy onto status codes: preconditions are the
// caller's problem, upstream rejections are a bad gateway, missing rows are
// 404, everything else is a 500.
func (s *Server) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errs.IsPrecondition(err):
		status = http.StatusUnprocessableEntity
	case errs.IsUpstream(err):
		status = http.StatusBadGateway
	case db.IsNotFound(err):
		status = http.StatusNotFound
	}
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}
