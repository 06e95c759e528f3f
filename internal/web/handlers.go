package web

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/j5272000/campus-imaotai/internal/accounts"
	"github.com/j5272000/campus-imaotai/internal/auth"
	"github.com/j5272000/campus-imaotai/internal/workflow"
)

func (s *Server) operatorLogin(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	oid, err := s.auth.Authenticate(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	if err := s.auth.SetSession(c, oid); err != nil {
		s.fail(c, err)
		return
	}
	ok(c, gin.H{"operator": oid})
}

func (s *Server) operatorLogout(c *gin.Context) {
	s.auth.ClearSession(c)
	ok(c, nil)
}

// adminOperatorID is the bootstrap operator, which sees every account
// regardless of ownership.
const adminOperatorID = 1

func (s *Server) listAccounts(c *gin.Context) {
	offset, _ := strconv.Atoi(c.Query("offset"))
	limit, _ := strconv.Atoi(c.Query("limit"))
	owner := auth.OperatorID(c)
	if owner == adminOperatorID {
		owner = 0
	}
	list, total, err := s.accounts.List(c.Request.Context(), accounts.PageFilter{
		Mobile:  c.Query("mobile"),
		OwnerID: owner,
		Offset:  offset,
		Limit:   limit,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, gin.H{"accounts": list, "total": total})
}

func (s *Server) updateAccount(c *gin.Context) {
	var a accounts.Account
	if err := c.ShouldBindJSON(&a); err != nil {
		badRequest(c, err)
		return
	}
	a.Mobile = c.Param("mobile")
	if err := a.Validate(); err != nil {
		badRequest(c, err)
		return
	}
	n, err := s.accounts.Update(c.Request.Context(), a)
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, gin.H{"updated": n})
}

func (s *Server) deleteAccounts(c *gin.Context) {
	var req struct {
		Mobiles []string `json:"mobiles" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	n, err := s.accounts.Delete(c.Request.Context(), req.Mobiles)
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, gin.H{"deleted": n})
}

func (s *Server) accountLogs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	entries, err := s.logs.Recent(c.Request.Context(), c.Param("mobile"), limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, gin.H{"logs": entries})
}

func (s *Server) sendCode(c *gin.Context) {
	var req struct {
		Mobile string `json:"mobile" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := s.flows.SendCode(c.Request.Context(), req.Mobile); err != nil {
		s.fail(c, err)
		return
	}
	ok(c, nil)
}

func (s *Server) mtLogin(c *gin.Context) {
	var req struct {
		Mobile       string `json:"mobile" binding:"required"`
		Code         string `json:"code" binding:"required"`
		ItemCode     string `json:"itemCode"`
		ShopMode     int    `json:"shopMode"`
		ProvinceName string `json:"provinceName"`
		CityName     string `json:"cityName"`
		Lat          string `json:"lat"`
		Lng          string `json:"lng"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	acct, err := s.flows.Login(c.Request.Context(), workflow.LoginParams{
		Mobile:       req.Mobile,
		Code:         req.Code,
		ItemCode:     req.ItemCode,
		ShopMode:     req.ShopMode,
		ProvinceName: req.ProvinceName,
		CityName:     req.CityName,
		Lat:          req.Lat,
		Lng:          req.Lng,
		OwnerID:      auth.OperatorID(c),
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, gin.H{"account": acct})
}

// runReservation fires one reservation pass for a single account, outside
// the scheduled window.
func (s *Server) runReservation(c *gin.Context) {
	acct, done := s.accountFromBody(c)
	if done {
		return
	}
	if err := s.flows.Reservation(c.Request.Context(), acct); err != nil {
		s.fail(c, err)
		return
	}
	ok(c, nil)
}

func (s *Server) runTravelReward(c *gin.Context) {
	acct, done := s.accountFromBody(c)
	if done {
		return
	}
	if err := s.flows.TravelReward(c.Request.Context(), acct); err != nil {
		s.fail(c, err)
		return
	}
	ok(c, nil)
}

func (s *Server) accountFromBody(c *gin.Context) (accounts.Account, bool) {
	var req struct {
		Mobile string `json:"mobile" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return accounts.Account{}, true
	}
	acct, err := s.accounts.Get(c.Request.Context(), req.Mobile)
	if err != nil {
		s.fail(c, err)
		return accounts.Account{}, true
	}
	return acct, false
}

func (s *Server) refreshCatalog(c *gin.Context) {
	if err := s.catalog.RefreshAll(c.Request.Context()); err != nil {
		s.fail(c, err)
		return
	}
	ok(c, nil)
}

func (s *Server) listItems(c *gin.Context) {
	items, err := s.items.ListItems(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, gin.H{"items": items})
}

func (s *Server) listOutlets(c *gin.Context) {
	list, err := s.catalog.Outlets(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, gin.H{"outlets": list})
}
