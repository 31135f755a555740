package adminapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sqlcoord/sessioncore"
	"github.com/sqlcoord/sessioncore/session"
)

type sessionsAPI struct {
	directory *session.Directory
}

// list godoc
// @Summary List live sessions
// @Description Returns a snapshot of every session currently registered in the session directory.
// @Tags Sessions
// @Produce json
// @Success 200 {object} []session.Snapshot
// @Router /sessions [get]
func (a *sessionsAPI) list(c *gin.Context) {
	if a.directory == nil {
		c.IndentedJSON(http.StatusOK, []session.Snapshot{})
		return
	}
	sessions := a.directory.List()
	snapshots := make([]session.Snapshot, 0, len(sessions))
	for _, s := range sessions {
		snapshots = append(snapshots, s.Snapshot())
	}
	c.IndentedJSON(http.StatusOK, snapshots)
}

// get godoc
// @Summary Inspect a session
// @Description Returns the snapshot of a single session by id.
// @Tags Sessions
// @Produce json
// @Param id path string true "Session id"
// @Failure 404 {object} map[string]any
// @Success 200 {object} session.Snapshot
// @Router /sessions/{id} [get]
func (a *sessionsAPI) get(c *gin.Context) {
	id, ok := parseSessionID(c)
	if !ok {
		return
	}
	s, found := a.lookup(id)
	if !found {
		c.IndentedJSON(http.StatusNotFound, gin.H{"message": "session not found"})
		return
	}
	c.IndentedJSON(http.StatusOK, s.Snapshot())
}

// cancel godoc
// @Summary Cancel a session's in-flight statement
// @Description Requests cancellation of whatever statement the session is currently running.
// @Tags Sessions
// @Produce json
// @Param id path string true "Session id"
// @Failure 404 {object} map[string]any
// @Success 200 {object} map[string]any
// @Router /sessions/{id}/cancel [post]
// @Security Bearer
func (a *sessionsAPI) cancel(c *gin.Context) {
	id, ok := parseSessionID(c)
	if !ok {
		return
	}
	s, found := a.lookup(id)
	if !found {
		c.IndentedJSON(http.StatusNotFound, gin.H{"message": "session not found"})
		return
	}
	s.Cancel()
	c.IndentedJSON(http.StatusOK, gin.H{"message": "cancel requested"})
}

// kill godoc
// @Summary Kill a session
// @Description Closes the session, releasing its locks and rolling back any open transaction.
// @Tags Sessions
// @Produce json
// @Param id path string true "Session id"
// @Failure 404 {object} map[string]any
// @Failure 500 {object} map[string]any
// @Success 200 {object} map[string]any
// @Router /sessions/{id} [delete]
// @Security Bearer
func (a *sessionsAPI) kill(c *gin.Context) {
	id, ok := parseSessionID(c)
	if !ok {
		return
	}
	s, found := a.lookup(id)
	if !found {
		c.IndentedJSON(http.StatusNotFound, gin.H{"message": "session not found"})
		return
	}
	if err := s.Close(); err != nil {
		c.IndentedJSON(http.StatusInternalServerError, gin.H{"message": err.Error()})
		return
	}
	c.IndentedJSON(http.StatusOK, gin.H{"message": "session closed"})
}

func (a *sessionsAPI) lookup(id sqlcoord.UUID) (*session.Session, bool) {
	if a.directory == nil {
		return nil, false
	}
	return a.directory.Get(id)
}
