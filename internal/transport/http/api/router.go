package apihttp

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"docagent/internal/agui"
	"docagent/internal/logger"
	"docagent/internal/pipeline"
	"docagent/internal/store"
	"docagent/internal/store/auditlog"
	"docagent/internal/store/blob"
	"docagent/internal/types"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	userHeader      = "X-User-ID"
	userContextKey  = "user_id"
	defaultHistory  = 50
	maxHistoryLimit = 100
)

// DocumentProcessor 由 pipeline.Processor 实现。
type DocumentProcessor interface {
	Process(ctx context.Context, req pipeline.ProcessRequest) (pipeline.ProcessResult, error)
	Respond(ctx context.Context, req pipeline.RespondRequest) (pipeline.ProcessResult, error)
}

// BlobStore 保存/删除上传文件。
type BlobStore interface {
	Save(ctx context.Context, userID, documentID, ext string, r io.Reader, maxBytes int64) (string, int64, error)
	Delete(ctx context.Context, rel string) error
}

// AuditLister 查询会话审计事件。
type AuditLister interface {
	List(ctx context.Context, q auditlog.AuditQuery) ([]auditlog.AuditEvent, error)
}

// UploadPolicy 限制上传文件的类型与大小。
type UploadPolicy struct {
	MaxBytes          int64
	AllowedExtensions []string
}

func (p UploadPolicy) allows(ext string) bool {
	for _, allowed := range p.AllowedExtensions {
		if strings.EqualFold(allowed, ext) {
			return true
		}
	}
	return false
}

// Router 暴露 /api/documents 下的上传、处理与 AG-UI 会话接口。
type Router struct {
	Processor DocumentProcessor
	Documents store.DocumentRepository
	Results   store.ResultRepository
	Blobs     BlobStore
	Sessions  *agui.Registry
	Audit     AuditLister
	Upload    UploadPolicy
}

// Register 将路由挂载到给定分组下。
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.POST("/upload", r.handleUpload)
	group.POST("/process", r.handleProcess)
	group.GET("/history", r.handleHistory)
	group.GET("/:id/result", r.handleResult)
	group.GET("/:id/agui-history", r.handleAGUIHistory)
	group.GET("/:id/agui-audit", r.handleAGUIAudit)
	group.POST("/:id/agui/undo", r.handleUndo)
	group.POST("/:id/agui/respond", r.handleRespond)
	group.DELETE("/:id/agui", r.handleCloseSession)
}

// requireUser 从 X-User-ID 取得调用方身份，缺失时返回 401。
func requireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := strings.TrimSpace(c.GetHeader(userHeader))
		if user == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing " + userHeader + " header"})
			return
		}
		c.Set(userContextKey, user)
		c.Next()
	}
}

func userID(c *gin.Context) string {
	return c.GetString(userContextKey)
}

// writeError 把领域错误映射为 HTTP 状态码。
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, pipeline.ErrDocumentNotFound),
		errors.Is(err, agui.ErrSessionNotFound),
		errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, agui.ErrSessionClosed),
		errors.Is(err, pipeline.ErrNothingPending),
		errors.Is(err, pipeline.ErrRunInProgress):
		status = http.StatusConflict
	case errors.Is(err, agui.ErrInvalidResponse),
		errors.Is(err, pipeline.ErrInvalidDocumentType),
		errors.Is(err, blob.ErrTooLarge):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		logger.Errorf("[api] %s %s failed: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func (r *Router) handleUpload(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart field 'file' is required"})
		return
	}
	ext := strings.ToLower(filepath.Ext(fh.Filename))
	if !r.Upload.allows(ext) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "unsupported file type " + strconv.Quote(ext) + "; allowed: " + strings.Join(r.Upload.AllowedExtensions, ", "),
		})
		return
	}
	if r.Upload.MaxBytes > 0 && fh.Size > r.Upload.MaxBytes {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file exceeds maximum size of " + strconv.FormatInt(r.Upload.MaxBytes, 10) + " bytes"})
		return
	}
	src, err := fh.Open()
	if err != nil {
		writeError(c, err)
		return
	}
	defer src.Close()

	ctx := c.Request.Context()
	user := userID(c)
	id := uuid.NewString()
	rel, size, err := r.Blobs.Save(ctx, user, id, ext, src, r.Upload.MaxBytes)
	if err != nil {
		writeError(c, err)
		return
	}
	contentType := fh.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		if byExt := mime.TypeByExtension(ext); byExt != "" {
			contentType = byExt
		}
	}
	doc := store.Document{
		ID:          id,
		UserID:      user,
		Filename:    filepath.Base(fh.Filename),
		FilePath:    rel,
		FileSize:    size,
		ContentType: contentType,
		Status:      types.StatusPending,
		UploadedAt:  time.Now().UTC(),
	}
	if err := r.Documents.CreateDocument(ctx, doc); err != nil {
		_ = r.Blobs.Delete(ctx, rel)
		writeError(c, err)
		return
	}
	logger.Infof("[api] user=%s 上传 %s (%d bytes) document=%s", user, doc.Filename, size, id)
	c.JSON(http.StatusCreated, doc)
}

type processRequest struct {
	DocumentID  string `json:"document_id"`
	AutoApprove *bool  `json:"auto_approve"`
}

func (r *Router) handleProcess(c *gin.Context) {
	var req processRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.DocumentID = strings.TrimSpace(req.DocumentID)
	if req.DocumentID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "document_id is required"})
		return
	}
	autoApprove := false
	if req.AutoApprove != nil {
		autoApprove = *req.AutoApprove
	}
	if raw := strings.TrimSpace(c.Query("auto_approve")); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid auto_approve"})
			return
		}
		autoApprove = v
	}
	res, err := r.Processor.Process(c.Request.Context(), pipeline.ProcessRequest{
		DocumentID:  req.DocumentID,
		UserID:      userID(c),
		AutoApprove: autoApprove,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type historyItem struct {
	store.Document
	Result *resultSummary `json:"extraction_result,omitempty"`
}

type resultSummary struct {
	DocumentType    types.DocumentType `json:"document_type"`
	VendorName      string             `json:"vendor_name,omitempty"`
	TotalAmount     string             `json:"total_amount,omitempty"`
	InvoiceDate     string             `json:"invoice_date,omitempty"`
	ConfidenceScore float64            `json:"confidence_score"`
}

func (r *Router) handleHistory(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultHistory)))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	ctx := c.Request.Context()
	docs, err := r.Documents.ListDocuments(ctx, userID(c), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
	}
	results, err := r.Results.ListExtractionResults(ctx, ids)
	if err != nil {
		writeError(c, err)
		return
	}
	items := make([]historyItem, 0, len(docs))
	for _, d := range docs {
		item := historyItem{Document: d}
		if res, ok := results[d.ID]; ok {
			item.Result = &resultSummary{
				DocumentType:    res.DocumentType,
				VendorName:      res.VendorName,
				TotalAmount:     res.TotalAmount,
				InvoiceDate:     res.InvoiceDate,
				ConfidenceScore: res.ConfidenceScore,
			}
		}
		items = append(items, item)
	}
	c.JSON(http.StatusOK, items)
}

// ownedDocument 确认文档属于调用方；不属于时与不存在同样返回 404。
func (r *Router) ownedDocument(c *gin.Context) (store.Document, bool) {
	doc, err := r.Documents.GetDocument(c.Request.Context(), c.Param("id"))
	if err == nil && doc.UserID != userID(c) {
		err = store.ErrNotFound
	}
	if err != nil {
		writeError(c, err)
		return store.Document{}, false
	}
	return doc, true
}

func (r *Router) handleResult(c *gin.Context) {
	doc, ok := r.ownedDocument(c)
	if !ok {
		return
	}
	res, err := r.Results.GetExtractionResult(c.Request.Context(), doc.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (r *Router) handleAGUIHistory(c *gin.Context) {
	var history []agui.HistoryEntry
	err := r.Sessions.Do(c.Param("id"), userID(c), func(s *agui.Session) error {
		history = s.History()
		return nil
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, history)
}

func (r *Router) handleUndo(c *gin.Context) {
	var (
		undone bool
		steps  int
	)
	err := r.Sessions.Do(c.Param("id"), userID(c), func(s *agui.Session) error {
		var err error
		undone, err = s.UndoLast()
		steps = s.Len()
		return err
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"undone": undone, "steps": steps})
}

type respondRequest struct {
	Response     string `json:"response"`
	DocumentType string `json:"document_type"`
}

func (r *Router) handleRespond(c *gin.Context) {
	var req respondRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := r.Processor.Respond(c.Request.Context(), pipeline.RespondRequest{
		DocumentID:   c.Param("id"),
		UserID:       userID(c),
		Response:     req.Response,
		DocumentType: req.DocumentType,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (r *Router) handleCloseSession(c *gin.Context) {
	if err := r.Sessions.Remove(c.Param("id"), userID(c)); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"closed": true})
}

func (r *Router) handleAGUIAudit(c *gin.Context) {
	if r.Audit == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit log disabled"})
		return
	}
	doc, ok := r.ownedDocument(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	events, err := r.Audit.List(c.Request.Context(), auditlog.AuditQuery{
		SubjectID: doc.ID,
		ActorID:   userID(c),
		Limit:     limit,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	if events == nil {
		events = []auditlog.AuditEvent{}
	}
	c.JSON(http.StatusOK, events)
}
