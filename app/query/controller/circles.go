package controller

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/canopy-network/roscax/pkg/db"
	"github.com/canopy-network/roscax/pkg/db/models/rosca"
	"github.com/canopy-network/roscax/pkg/query"
)

const (
	defaultPageLimit = query.DefaultLimit
	// maxPageLimit stays below query.MaxLimit so the look-ahead row survives the facade's clamp.
	maxPageLimit = 100
)

var (
	errPageLimit  = errors.New("limit must be a positive integer")
	errPageCursor = errors.New("cursor must be a circle chain id")
	errPageSort   = errors.New("sort must be 'asc' or 'desc'")
)

// circlePage is one /circles request. Cursor is the chain id of the last circle already seen;
// zero starts from the first (or, descending, the newest) circle.
type circlePage struct {
	Limit  int
	Cursor uint32
	Desc   bool
}

func parseCirclePage(r *http.Request) (circlePage, error) {
	qs := r.URL.Query()
	page := circlePage{Limit: defaultPageLimit, Desc: true}

	if v := qs.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return circlePage{}, errPageLimit
		}
		page.Limit = min(n, maxPageLimit)
	}
	if v := qs.Get("cursor"); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return circlePage{}, errPageCursor
		}
		page.Cursor = uint32(n)
	}
	switch qs.Get("sort") {
	case "", "desc":
	case "asc":
		page.Desc = false
	default:
		return circlePage{}, errPageSort
	}
	return page, nil
}

type pagedResponse[T any] struct {
	Data       []T     `json:"data"`
	Limit      int     `json:"limit"`
	NextCursor *uint64 `json:"next_cursor,omitempty"`
}

type listResponse[T any] struct {
	Data []T `json:"data"`
}

// HandleCircles pages circles by chain id.
// GET /circles?limit=&cursor=&sort=
func (c *Controller) HandleCircles(w http.ResponseWriter, r *http.Request) {
	page, err := parseCirclePage(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	// one extra row tells whether another page follows
	rows, err := c.App.Facade.ListCircles(r.Context(), uint64(page.Cursor), page.Limit+1, page.Desc)
	if err != nil {
		c.queryFailed(w, r, err)
		return
	}

	nextCursor := (*uint64)(nil)
	if len(rows) > page.Limit {
		rows = rows[:page.Limit]
		cursor := uint64(rows[len(rows)-1].ChainID)
		nextCursor = &cursor
	}

	writeJSON(w, http.StatusOK, pagedResponse[query.CircleView]{
		Data:       orEmpty(rows),
		Limit:      page.Limit,
		NextCursor: nextCursor,
	})
}

// GET /circles/{id}
func (c *Controller) HandleCircle(w http.ResponseWriter, r *http.Request) {
	circle, err := c.App.Facade.GetCircle(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		c.queryFailed(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, circle)
}

// GET /circles/{id}/rounds
func (c *Controller) HandleRounds(w http.ResponseWriter, r *http.Request) {
	rounds, err := c.App.Facade.ListRounds(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		c.queryFailed(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[rosca.Round]{Data: orEmpty(rounds)})
}

// GET /circles/{id}/deposits
func (c *Controller) HandleDeposits(w http.ResponseWriter, r *http.Request) {
	deposits, err := c.App.Facade.ListSecurityDeposits(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		c.queryFailed(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[rosca.SecurityDeposit]{Data: orEmpty(deposits)})
}

// GET /circles/{id}/participants
func (c *Controller) HandleParticipants(w http.ResponseWriter, r *http.Request) {
	participants, err := c.App.Facade.ListParticipants(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		c.queryFailed(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[query.Participant]{Data: orEmpty(participants)})
}

// HandleAccountCircles lists the circles an address was invited to.
// GET /accounts/{address}/circles
func (c *Controller) HandleAccountCircles(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]
	if address == "" {
		writeError(w, http.StatusBadRequest, "missing address")
		return
	}
	circles, err := c.App.Facade.ListCirclesForAccount(r.Context(), address)
	if err != nil {
		c.queryFailed(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[query.AccountCircle]{Data: orEmpty(circles)})
}

func (c *Controller) queryFailed(w http.ResponseWriter, r *http.Request, err error) {
	if db.IsNotFound(err) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	c.App.Logger.Error("Query failed", zap.String("path", r.URL.Path), zap.Error(err))
	writeError(w, http.StatusInternalServerError, "query failed")
}

// orEmpty keeps empty results encoded as [] rather than null.
func orEmpty[T any](rows []T) []T {
	if rows == nil {
		return []T{}
	}
	return rows
}
