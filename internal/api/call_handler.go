package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/pccr10001/jinglegw/internal/calling"
	"github.com/pccr10001/jinglegw/internal/media"
	"github.com/pccr10001/jinglegw/internal/model"
	"github.com/pccr10001/jinglegw/internal/repository"
	"github.com/pccr10001/jinglegw/internal/worker"
)

// CallControl is the part of the call endpoint the API drives.
type CallControl interface {
	Originate(dest string) (*calling.Session, error)
	Session(id string) (*calling.Session, bool)
	Sessions() []*calling.Session
}

type ProfileStatuses interface {
	Statuses() []worker.Status
}

type CallHandler struct {
	calls    CallControl
	profiles ProfileStatuses
	records  *repository.CallRepository
}

func NewCallHandler(calls CallControl, profiles ProfileStatuses, records *repository.CallRepository) *CallHandler {
	return &CallHandler{calls: calls, profiles: profiles, records: records}
}

type callView struct {
	calling.CallInfo
	Flags calling.Flags `json:"flags"`
}

func viewOf(s *calling.Session) callView {
	return callView{CallInfo: s.Info(), Flags: s.Flags()}
}

// visibleProfiles is the status of every profile user may call on.
func visibleProfiles(user *model.User, profiles ProfileStatuses) []worker.Status {
	out := make([]worker.Status, 0)
	if user == nil || profiles == nil {
		return out
	}
	for _, st := range profiles.Statuses() {
		if user.CanUseProfile(st.Name) {
			out = append(out, st)
		}
	}
	return out
}

func (h *CallHandler) ListProfiles(c *gin.Context) {
	c.JSON(http.StatusOK, visibleProfiles(currentUser(c), h.profiles))
}

func (h *CallHandler) ListCalls(c *gin.Context) {
	user := currentUser(c)
	out := make([]callView, 0)
	for _, s := range h.calls.Sessions() {
		if user != nil && user.CanUseProfile(s.Profile().Name) {
			out = append(out, viewOf(s))
		}
	}
	c.JSON(http.StatusOK, out)
}

func originateStatus(err error) int {
	switch {
	case errors.Is(err, calling.ErrInvalidDestination):
		return http.StatusBadRequest
	case errors.Is(err, calling.ErrProfileNotFound):
		return http.StatusNotFound
	case errors.Is(err, calling.ErrProfileNotReady), errors.Is(err, media.ErrTransportAllocationFailed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (h *CallHandler) CreateCall(c *gin.Context) {
	var req struct {
		Profile string `json:"profile" binding:"required"`
		To      string `json:"to" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.Contains(req.Profile, "/") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid profile name"})
		return
	}
	if user := currentUser(c); user == nil || !user.CanUseProfile(req.Profile) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Access denied to this profile"})
		return
	}

	s, err := h.calls.Originate(req.Profile + "/" + req.To)
	if err != nil {
		c.JSON(originateStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, viewOf(s))
}

// lookup resolves :id to a live call the user may touch, writing the error
// response when it cannot.
func (h *CallHandler) lookup(c *gin.Context) (*calling.Session, bool) {
	s, ok := h.calls.Session(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Call not found"})
		return nil, false
	}
	if user := currentUser(c); user == nil || !user.CanUseProfile(s.Profile().Name) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Access denied to this call"})
		return nil, false
	}
	return s, true
}

func (h *CallHandler) GetCall(c *gin.Context) {
	s, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, viewOf(s))
}

func (h *CallHandler) HangupCall(c *gin.Context) {
	s, ok := h.lookup(c)
	if !ok {
		return
	}
	s.Kill()
	c.JSON(http.StatusOK, gin.H{"status": "hangup requested"})
}

func (h *CallHandler) SendDTMF(c *gin.Context) {
	s, ok := h.lookup(c)
	if !ok {
		return
	}
	var req struct {
		Digits string `json:"digits" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	status, err := sendDigits(s, req.Digits)
	if err != nil {
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "queued", "digits": req.Digits})
}

func sendDigits(s *calling.Session, digits string) (int, error) {
	select {
	case <-s.Done():
		return http.StatusGone, calling.ErrCallTerminated
	default:
	}
	err := s.SendDTMF(strings.ToUpper(digits))
	switch {
	case err == nil:
		return http.StatusOK, nil
	case errors.Is(err, calling.ErrInvalidDigit):
		return http.StatusBadRequest, err
	case errors.Is(err, calling.ErrDTMFQueueFull):
		return http.StatusTooManyRequests, err
	}
	return http.StatusInternalServerError, err
}

func (h *CallHandler) ListRecords(c *gin.Context) {
	user, ok := requireUser(c)
	if !ok {
		return
	}

	f := repository.CallFilter{Remote: c.Query("remote")}
	f.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	f.Offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))

	if p := c.Query("profile"); p != "" {
		if !user.CanUseProfile(p) {
			c.JSON(http.StatusForbidden, gin.H{"error": "Access denied to this profile"})
			return
		}
		f.Profiles = []string{p}
	} else if !user.IsAdmin() && user.AllowedProfiles != "*" {
		f.Profiles = splitAllowed(user.AllowedProfiles)
	}

	list, total, err := h.records.List(f)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"total": total, "records": list})
}

func (h *CallHandler) GetRecord(c *gin.Context) {
	rec, err := h.records.FindByID(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Record not found"})
		return
	}
	if user := currentUser(c); user == nil || !user.CanUseProfile(rec.Profile) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Access denied to this record"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func splitAllowed(s string) []string {
	out := []string{}
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
