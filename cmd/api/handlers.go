package main

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"presence/internal/auth"
	"presence/internal/record"
	"presence/internal/report"
	"presence/internal/roster"
	"presence/internal/session"
	"presence/internal/token"
)

type api struct {
	sessions *session.Service
	tokens   *token.Service
	records  *record.Service
	reports  *report.Service
}

// statusFor maps domain errors to HTTP statuses. Collaborator failures
// fall through to 500 and are never reported as invalid-code/token.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrNotOwner),
		errors.Is(err, roster.ErrNotAssigned),
		errors.Is(err, roster.ErrNotEnrolled),
		errors.Is(err, token.ErrMismatch):
		return http.StatusForbidden
	case errors.Is(err, token.ErrInvalid),
		errors.Is(err, token.ErrExpired),
		errors.Is(err, token.ErrUsed):
		return http.StatusUnauthorized
	case errors.Is(err, session.ErrRotationConflict):
		return http.StatusConflict
	case errors.Is(err, session.ErrNotOpen),
		errors.Is(err, session.ErrWeightOutOfRange),
		errors.Is(err, session.ErrSubjectUnknown),
		errors.Is(err, record.ErrInvalidStatus),
		errors.Is(err, record.ErrPresenceFailed),
		errors.Is(err, token.ErrPayload),
		errors.Is(err, token.ErrCodeInvalid):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func fail(c *gin.Context, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal server error"
	}
	c.JSON(status, gin.H{"message": msg})
}

func principal(c *gin.Context) auth.Principal {
	p, _ := auth.FromContext(c)
	return p
}

func parseDate(s string) (time.Time, error) {
	return time.Parse("2006-01-02", s)
}

func (a *api) createSession(c *gin.Context) {
	var req struct {
		SubjectID string `json:"subject_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "subject_id is required"})
		return
	}

	sess, err := a.sessions.Start(c.Request.Context(), principal(c).ID, req.SubjectID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "attendance session started", "session": sess})
}

func (a *api) listSessions(c *gin.Context) {
	out, err := a.sessions.ListForFaculty(c.Request.Context(), principal(c).ID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": out})
}

func (a *api) rotateSession(c *gin.Context) {
	sess, err := a.sessions.Rotate(c.Request.Context(), principal(c).ID, c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"code":       sess.Code,
		"sequence":   sess.CodeSequence,
		"expires_at": sess.CodeExpiresAt,
	})
}

func (a *api) closeSession(c *gin.Context) {
	sess, err := a.sessions.Close(c.Request.Context(), principal(c).ID, c.Param("id"))
	if err != nil {
		// An already-closed session reads as absent on this path.
		if errors.Is(err, session.ErrNotOpen) {
			c.JSON(http.StatusNotFound, gin.H{"message": "active attendance session not found or already closed"})
			return
		}
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "attendance session ended", "session": sess})
}

func (a *api) submitSession(c *gin.Context) {
	var req struct {
		Weight int `json:"attendance_weight" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "attendance_weight is required"})
		return
	}

	sess, err := a.sessions.Submit(c.Request.Context(), principal(c).ID, c.Param("id"), req.Weight)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "attendance submitted", "session": sess})
}

func (a *api) listSessionRecords(c *gin.Context) {
	recs, err := a.records.ListBySession(c.Request.Context(), principal(c).ID, c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": recs})
}

func (a *api) manualMark(c *gin.Context) {
	var req struct {
		StudentID string `json:"student_id" binding:"required"`
		Status    string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "student_id and status are required"})
		return
	}

	rec, err := a.records.ManualMark(c.Request.Context(), principal(c).ID, c.Param("id"), req.StudentID, record.Status(req.Status))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "attendance recorded", "record": rec})
}

func (a *api) facultyCalendar(c *gin.Context) {
	from, err1 := parseDate(c.Query("from"))
	to, err2 := parseDate(c.Query("to"))
	if err1 != nil || err2 != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "from and to must be YYYY-MM-DD"})
		return
	}

	cal, err := a.reports.FacultyCalendar(c.Request.Context(), principal(c).ID, c.Param("sid"), c.Param("id"), from, to)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cal)
}

func (a *api) overrideRecord(c *gin.Context) {
	var req struct {
		StudentID   string `json:"student_id" binding:"required"`
		SubjectID   string `json:"subject_id" binding:"required"`
		SessionDate string `json:"session_date" binding:"required"`
		Status      string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "student_id, subject_id, session_date and status are required"})
		return
	}
	date, err := parseDate(req.SessionDate)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "session_date must be YYYY-MM-DD"})
		return
	}

	p := principal(c)
	rec, err := a.records.Override(c.Request.Context(), p.ID, p.Role == auth.RoleAdmin,
		req.StudentID, req.SubjectID, date, record.Status(req.Status))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "attendance overridden", "record": rec})
}

func (a *api) scanCode(c *gin.Context) {
	var req struct {
		Code string `json:"code" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "code is required"})
		return
	}

	grant, err := a.tokens.Scan(c.Request.Context(), principal(c).ID, req.Code)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":      grant.Token,
		"expires_in": int(grant.ExpiresIn.Seconds()),
	})
}

func (a *api) redeemToken(c *gin.Context) {
	var req struct {
		Token            string `json:"token" binding:"required"`
		PresenceVerified *bool  `json:"presence_verified" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "token and presence_verified are required"})
		return
	}

	res, err := a.records.Redeem(c.Request.Context(), principal(c).ID, req.Token, *req.PresenceVerified)
	if err != nil {
		fail(c, err)
		return
	}
	if res.AlreadyMarked {
		c.JSON(http.StatusOK, gin.H{
			"message": "attendance already marked for this session",
			"status":  res.Record.Status,
			"record":  res.Record,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "attendance marked",
		"status":  res.Record.Status,
		"record":  res.Record,
	})
}

func (a *api) studentCalendar(c *gin.Context) {
	from, err1 := parseDate(c.Query("from"))
	to, err2 := parseDate(c.Query("to"))
	if err1 != nil || err2 != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "from and to must be YYYY-MM-DD"})
		return
	}

	summary, err := a.reports.StudentSummary(c.Request.Context(), principal(c).ID, c.Param("id"), from, to)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}
