package web

import (
	"bytes"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"classagenda/internal/agenda"
	"classagenda/internal/ics"
	appLog "classagenda/internal/log"
	"classagenda/internal/model"
	"classagenda/internal/service"
	"classagenda/internal/store"
)

// rowDTO is the JSON shape of one agenda row.
type rowDTO struct {
	Type  string              `json:"type"`
	Day   agenda.Date         `json:"day"`
	Label string              `json:"label,omitempty"`
	Item  *model.CalendarItem `json:"item,omitempty"`
}

// agendaResponse is the JSON response shape for /api/agenda.
type agendaResponse struct {
	Rows           []rowDTO     `json:"rows"`
	Empty          bool         `json:"empty"`
	ExactDayActive bool         `json:"exact_day_active"`
	Mode           string       `json:"mode"`
	Day            *agenda.Date `json:"day,omitempty"`
	Today          agenda.Date  `json:"today"`
	FromCache      bool         `json:"from_cache"`
	RefreshedAt    time.Time    `json:"refreshed_at"`
}

type filterRequest struct {
	Mode     string       `json:"mode"`
	Day      *agenda.Date `json:"day"`
	ShowPast bool         `json:"show_past"`
}

type refreshResponse struct {
	RefreshedAt time.Time `json:"refreshed_at"`
	FromCache   bool      `json:"from_cache"`
	Error       string    `json:"error,omitempty"`
}

func toAgendaResponse(v service.View) agendaResponse {
	rows := make([]rowDTO, 0, len(v.Rows))
	for _, r := range v.Rows {
		rows = append(rows, rowDTO{
			Type:  r.Kind.String(),
			Day:   r.Day,
			Label: r.Label,
			Item:  r.Item,
		})
	}
	resp := agendaResponse{
		Rows:           rows,
		Empty:          v.Empty,
		ExactDayActive: v.ExactDayActive,
		Mode:           v.Filter.Mode.String(),
		Today:          v.Today,
		FromCache:      v.FromCache,
		RefreshedAt:    v.RefreshedAt,
	}
	if v.Filter.Mode == agenda.ModeExactDay {
		d := v.Filter.Day
		resp.Day = &d
	}
	return resp
}

// resolveFilter turns mode/day/show_past into one filter. A day without a
// mode means the exact-day filter, which wins over show_past.
func resolveFilter(mode string, day *agenda.Date, showPast bool) (agenda.Filter, error) {
	if mode == "" {
		return agenda.ResolveFilter(showPast, day), nil
	}
	m, err := agenda.ParseMode(mode)
	if err != nil {
		return agenda.Filter{}, err
	}
	switch m {
	case agenda.ModeExactDay:
		if day == nil {
			return agenda.Filter{}, agenda.ErrMissingDay
		}
		return agenda.Filter{Mode: m, Day: *day}, nil
	default:
		return agenda.Filter{Mode: m}, nil
	}
}

func scopeFromQuery(c *gin.Context) store.Scope {
	return store.Scope{
		InstitutionID: c.Query("institution_id"),
		ClassID:       c.Query("class_id"),
	}
}

// handleAgenda returns agenda rows.
//
// GET /api/agenda?mode=from_today|show_all|exact&day=2024-03-04&show_past=1&institution_id=&class_id=
//
// Without any query parameter the shared agenda (see PUT /api/agenda/filter)
// is returned.
func (s *Server) handleAgenda(c *gin.Context) {
	if len(c.Request.URL.Query()) == 0 {
		c.JSON(http.StatusOK, toAgendaResponse(s.svc.Current()))
		return
	}

	var day *agenda.Date
	if raw := c.Query("day"); raw != "" {
		d, err := agenda.ParseDate(raw)
		if err != nil {
			writeError(c, http.StatusBadRequest, err.Error())
			return
		}
		day = &d
	}
	showPast, _ := strconv.ParseBool(c.DefaultQuery("show_past", "false"))

	f, err := resolveFilter(c.Query("mode"), day, showPast)
	if err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}

	v := s.svc.Query(service.Query{Filter: f, Scope: scopeFromQuery(c)})
	c.JSON(http.StatusOK, toAgendaResponse(v))
}

// handleSetFilter changes the shared agenda's filter.
func (s *Server) handleSetFilter(c *gin.Context) {
	var req filterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid filter: "+err.Error())
		return
	}
	f, err := resolveFilter(req.Mode, req.Day, req.ShowPast)
	if err != nil {
		writeError(c, http.StatusBadRequest, err.Error())
		return
	}
	s.svc.SetFilter(f)
	c.JSON(http.StatusOK, toAgendaResponse(s.svc.Current()))
}

// handleICS exports the (optionally scoped) items as an iCalendar feed.
func (s *Server) handleICS(c *gin.Context) {
	var buf bytes.Buffer
	if err := ics.Export(&buf, s.svc.Items(scopeFromQuery(c)), s.now()); err != nil {
		appLog.Error("ics export failed", err)
		writeError(c, http.StatusInternalServerError, "failed to export calendar")
		return
	}
	c.Data(http.StatusOK, "text/calendar; charset=utf-8", buf.Bytes())
}

func (s *Server) handleListItems(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"items": s.svc.Items(scopeFromQuery(c))})
}

func (s *Server) handleGetItem(c *gin.Context) {
	it, err := s.svc.Item(c.Param("id"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, it)
}

func (s *Server) handleCreateItem(c *gin.Context) {
	var in model.CalendarItem
	if err := c.ShouldBindJSON(&in); err != nil {
		writeError(c, http.StatusBadRequest, "invalid item: "+err.Error())
		return
	}
	out, err := s.svc.Create(c.Request.Context(), in)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, out)
}

func (s *Server) handleUpdateItem(c *gin.Context) {
	var in model.CalendarItem
	if err := c.ShouldBindJSON(&in); err != nil {
		writeError(c, http.StatusBadRequest, "invalid item: "+err.Error())
		return
	}
	out, err := s.svc.Update(c.Request.Context(), c.Param("id"), in)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleDeleteItem(c *gin.Context) {
	if err := s.svc.Delete(c.Request.Context(), c.Param("id")); err != nil {
		writeServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// handleRefresh reloads from the store. A failed reload keeps the previous
// items and answers 502 with the reason.
func (s *Server) handleRefresh(c *gin.Context) {
	err := s.svc.Refresh(c.Request.Context())
	v := s.svc.Current()
	resp := refreshResponse{RefreshedAt: v.RefreshedAt, FromCache: v.FromCache}
	if err != nil {
		resp.Error = err.Error()
		c.JSON(http.StatusBadGateway, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func writeServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrInvalidItem):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrReadOnly):
		writeError(c, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrLimitReached):
		writeError(c, http.StatusForbidden, err.Error())
	default:
		appLog.Error("api request failed", err, "path", c.Request.URL.Path)
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}

func writeError(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"error": msg})
}
