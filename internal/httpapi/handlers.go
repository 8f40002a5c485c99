package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"reminder-voice/internal/auth"
	"reminder-voice/internal/calls"
	"reminder-voice/internal/queue"
	"reminder-voice/internal/rbac"
	"reminder-voice/internal/reporting"
	"reminder-voice/internal/transcript"
	"reminder-voice/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Enqueuer accepts calls for the sequential dialer. *queue.Queue implements it.
type Enqueuer interface {
	Enqueue(ctx context.Context, in calls.NewCall) (calls.Record, error)
	EnqueueBatch(ctx context.Context, in []calls.NewCall) ([]calls.Record, []queue.ItemError)
}

// CallReader is the read side of the call store.
type CallReader interface {
	Get(ctx context.Context, callUUID string) (calls.Record, error)
	List(ctx context.Context, f calls.ListFilter) ([]calls.Record, error)
}

// TranscriptReader is implemented by *transcript.Store.
type TranscriptReader interface {
	PathFor(rec calls.Record) string
	List(userID string) ([]transcript.Meta, error)
	Load(path string) (transcript.Document, error)
}

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Queue       Enqueuer
	Calls       CallReader
	Transcripts TranscriptReader
	Reports     *reporting.Service
	Clock       func() time.Time
}

const (
	maxBatch           = 500
	defaultReportRange = 30 * 24 * time.Hour
)

func (h Handlers) now() time.Time {
	if h.Clock != nil {
		return h.Clock()
	}
	return time.Now()
}

// --- Identity ---

func (h Handlers) Me(c *gin.Context) {
	uid, _ := auth.UserID(c.Request.Context())
	role, _ := auth.Role(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"user_id": uid, "role": role})
}

// --- Calls ---

type callRequest struct {
	PhoneNumber string           `json:"phone_number"`
	CustomData  calls.CustomData `json:"custom_data"`
}

type batchRequest struct {
	Calls []callRequest `json:"calls"`
}

type callAccepted struct {
	CallUUID    string       `json:"call_uuid"`
	PhoneNumber string       `json:"phone_number"`
	Status      calls.Status `json:"status"`
}

type batchRejected struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

func accepted(rec calls.Record) callAccepted {
	return callAccepted{CallUUID: rec.CallUUID, PhoneNumber: rec.PhoneNumber, Status: rec.Status}
}

// CreateCall enqueues a single call. Single calls go through the same queue
// as batches, so they never run concurrently with another call.
func (h Handlers) CreateCall(c *gin.Context) {
	if h.Queue == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "queue not configured"})
		return
	}
	uid, err := auth.UserID(c.Request.Context())
	if err != nil || uid == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return
	}
	var req callRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	rec, err := h.Queue.Enqueue(c.Request.Context(), calls.NewCall{PhoneNumber: req.PhoneNumber, UserID: uid, CustomData: req.CustomData})
	if err != nil {
		if errors.Is(err, calls.ErrInvalidArgument) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		logger.FromGin(c).Error("enqueue call failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "enqueue failed"})
		return
	}
	c.JSON(http.StatusAccepted, accepted(rec))
}

func (h Handlers) CreateBatch(c *gin.Context) {
	if h.Queue == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "queue not configured"})
		return
	}
	uid, err := auth.UserID(c.Request.Context())
	if err != nil || uid == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user_id required"})
		return
	}
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if len(req.Calls) == 0 || len(req.Calls) > maxBatch {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "calls must hold between 1 and 500 entries"})
		return
	}

	in := make([]calls.NewCall, len(req.Calls))
	for i, rc := range req.Calls {
		in[i] = calls.NewCall{PhoneNumber: rc.PhoneNumber, UserID: uid, CustomData: rc.CustomData}
	}
	recs, rejected := h.Queue.EnqueueBatch(c.Request.Context(), in)

	out := struct {
		Calls    []callAccepted  `json:"calls"`
		Rejected []batchRejected `json:"rejected"`
	}{Calls: make([]callAccepted, 0, len(recs)), Rejected: make([]batchRejected, 0, len(rejected))}
	for _, rec := range recs {
		out.Calls = append(out.Calls, accepted(rec))
	}
	for _, r := range rejected {
		out.Rejected = append(out.Rejected, batchRejected{Index: r.Index, Error: r.Err.Error()})
	}

	if len(recs) == 0 {
		c.JSON(http.StatusBadRequest, out)
		return
	}
	c.JSON(http.StatusAccepted, out)
}

// ListCalls returns call statuses, newest first. super_admin may filter by
// ?user_id; everyone else sees only their own calls.
func (h Handlers) ListCalls(c *gin.Context) {
	if h.Calls == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call store not configured"})
		return
	}
	owner, ok := ownerFilter(c)
	if !ok {
		return
	}
	f := calls.ListFilter{UserID: owner}
	var err error
	if f.From, err = parseTime(c.Query("from")); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid from"})
		return
	}
	if f.To, err = parseTime(c.Query("to")); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid to"})
		return
	}
	recs, err := h.Calls.List(c.Request.Context(), f)
	if err != nil {
		logger.FromGin(c).Error("list calls failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "list failed"})
		return
	}
	if recs == nil {
		recs = []calls.Record{}
	}
	c.JSON(http.StatusOK, gin.H{"calls": recs})
}

func (h Handlers) GetCall(c *gin.Context) {
	rec, ok := h.visibleCall(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, rec)
}

// visibleCall loads :call_uuid and hides calls the caller does not own.
func (h Handlers) visibleCall(c *gin.Context) (calls.Record, bool) {
	if h.Calls == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call store not configured"})
		return calls.Record{}, false
	}
	rec, err := h.Calls.Get(c.Request.Context(), c.Param("call_uuid"))
	if errors.Is(err, calls.ErrNotFound) || (err == nil && !rbac.CanSee(c.Request.Context(), rec.UserID)) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return calls.Record{}, false
	}
	if err != nil {
		logger.FromGin(c).Error("get call failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return calls.Record{}, false
	}
	return rec, true
}

// --- Transcripts ---

func (h Handlers) ListTranscripts(c *gin.Context) {
	if h.Transcripts == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "transcripts not configured"})
		return
	}
	owner, ok := ownerFilter(c)
	if !ok {
		return
	}
	metas, err := h.Transcripts.List(owner)
	if err != nil {
		logger.FromGin(c).Error("list transcripts failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "list failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"transcripts": metas})
}

func (h Handlers) GetTranscript(c *gin.Context) {
	if h.Transcripts == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "transcripts not configured"})
		return
	}
	rec, ok := h.visibleCall(c)
	if !ok {
		return
	}
	doc, err := h.Transcripts.Load(h.Transcripts.PathFor(rec))
	switch {
	case errors.Is(err, transcript.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "transcript not found"})
	case errors.Is(err, transcript.ErrInvalidPath):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid transcript path"})
	case err != nil:
		logger.FromGin(c).Error("load transcript failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "load failed"})
	default:
		doc.CallUUID = rec.CallUUID
		doc.UserID = rec.UserID
		c.JSON(http.StatusOK, doc)
	}
}

// --- Reports ---

func (h Handlers) OutcomeReport(c *gin.Context) {
	if h.Reports == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "reports not configured"})
		return
	}
	owner, ok := ownerFilter(c)
	if !ok {
		return
	}
	to, err := parseTime(c.Query("to"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid to"})
		return
	}
	if to.IsZero() {
		to = h.now().UTC()
	}
	from, err := parseTime(c.Query("from"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid from"})
		return
	}
	if from.IsZero() {
		from = to.Add(-defaultReportRange)
	}

	rep, err := h.Reports.Outcomes(c.Request.Context(), reporting.OutcomeReportRequest{
		UserID: owner,
		Range:  reporting.TimeRange{From: from, To: to},
	})
	if errors.Is(err, reporting.ErrInvalidRequest) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from must be before to"})
		return
	}
	if err != nil {
		logger.FromGin(c).Error("outcome report failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "report failed"})
		return
	}
	c.JSON(http.StatusOK, rep)
}

// ownerFilter resolves the owner a listing is restricted to. Only
// super_admin may choose another owner with ?user_id.
func ownerFilter(c *gin.Context) (string, bool) {
	scope, err := rbac.OwnerScope(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "identity required"})
		return "", false
	}
	if scope == "" {
		return c.Query("user_id"), true
	}
	return scope, true
}

// parseTime accepts RFC 3339 timestamps and plain YYYY-MM-DD dates (UTC).
func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, s)
}
