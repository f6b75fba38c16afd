package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"docagent/internal/agui"
	"docagent/internal/document"
	"docagent/internal/logger"
	"docagent/internal/store"
	"docagent/internal/types"
)

// BlobReader 读取上传的原始文件。
type BlobReader interface {
	Read(ctx context.Context, rel string) ([]byte, error)
}

// Validator 按类型 schema 校验并规范化抽取结果。
type Validator interface {
	Validate(docType types.DocumentType, data map[string]any) (map[string]any, error)
}

// Deps 汇总 Processor 的依赖。
type Deps struct {
	Documents  store.DocumentRepository
	Results    store.ResultRepository
	Blobs      BlobReader
	Sessions   *agui.Registry
	Schemas    Validator
	Classifier Classifier
	Extractor  Extractor
	Clock      func() time.Time
}

// Processor 驱动 分类 → 确认 → 抽取 → 校验 → 完成 的流程，并把每一步记录到 AG-UI 会话。
type Processor struct {
	docs       store.DocumentRepository
	results    store.ResultRepository
	blobs      BlobReader
	sessions   *agui.Registry
	schemas    Validator
	classifier Classifier
	extractor  Extractor
	now        func() time.Time
}

func NewProcessor(d Deps) *Processor {
	now := d.Clock
	if now == nil {
		now = time.Now
	}
	return &Processor{
		docs:       d.Documents,
		results:    d.Results,
		blobs:      d.Blobs,
		sessions:   d.Sessions,
		schemas:    d.Schemas,
		classifier: d.Classifier,
		extractor:  d.Extractor,
		now:        now,
	}
}

type ProcessRequest struct {
	DocumentID  string
	UserID      string
	AutoApprove bool
}

type RespondRequest struct {
	DocumentID   string
	UserID       string
	Response     string
	DocumentType string
}

// ProcessResult 是一次 Process / Respond 调用后的文档状态。
type ProcessResult struct {
	DocumentID     string               `json:"document_id"`
	Status         types.DocumentStatus `json:"status"`
	DocumentType   types.DocumentType   `json:"document_type,omitempty"`
	Confidence     *float64             `json:"confidence,omitempty"`
	ResultData     map[string]any       `json:"result_data,omitempty"`
	Duration       time.Duration        `json:"-"`
	ProcessingTime float64              `json:"processing_time"`
	Error          string               `json:"error,omitempty"`
	History        []agui.HistoryEntry  `json:"agui_history"`
}

// run 是一次处理中共享的状态。
type run struct {
	doc        store.Document
	userID     string
	input      Input
	docType    types.DocumentType
	confidence float64
	started    time.Time
	// session 是本次处理占用的会话；后续记录只写入它。
	session *agui.Session
}

// Process 开始处理一个已上传的文档。AutoApprove 为 false 时在分类结果处暂停，等待 Respond。
// 阶段性失败（模型、校验）体现在返回的 ProcessResult 中；error 只用于找不到文档、重复处理或存储错误。
func (p *Processor) Process(ctx context.Context, req ProcessRequest) (ProcessResult, error) {
	doc, err := p.loadDocument(ctx, req.DocumentID, req.UserID)
	if err != nil {
		return ProcessResult{}, err
	}
	r := &run{doc: doc, userID: req.UserID, started: p.now()}
	// 已关闭的旧会话被替换；仍在进行中的会话拒绝重复处理。
	r.session, err = p.sessions.Begin(doc.ID, req.UserID, func(s *agui.Session) error {
		if s.Len() > 0 {
			return ErrRunInProgress
		}
		_, err := s.Record(agui.ClassificationStarted(doc.Filename), nil, nil)
		return err
	})
	if err != nil {
		return ProcessResult{}, err
	}
	logger.Infof("[pipeline] 开始处理 document=%s user=%s auto_approve=%v", doc.ID, req.UserID, req.AutoApprove)

	if err := p.setStatus(ctx, doc.ID, types.StatusProcessing); err != nil {
		return ProcessResult{}, err
	}

	if err := p.loadInput(ctx, r); err != nil {
		return p.fail(ctx, r, stageErr("load", err))
	}
	cls, err := p.classifier.Classify(ctx, r.input)
	if err != nil {
		return p.fail(ctx, r, stageErr("classify", err))
	}
	ann, err := agui.ClassificationResult(cls.Type, cls.Confidence)
	if err != nil {
		return p.fail(ctx, r, stageErr("classify", err))
	}
	r.docType, r.confidence = cls.Type, cls.Confidence
	if err := p.docs.UpdateDocument(ctx, doc.ID, store.DocumentUpdate{
		DocumentType: &r.docType,
		Confidence:   &r.confidence,
	}); err != nil {
		return ProcessResult{}, err
	}
	payload := map[string]any{
		"document_type":    string(cls.Type),
		"confidence_score": cls.Confidence,
	}
	if cls.Reasoning != "" {
		payload["reasoning"] = cls.Reasoning
	}

	if !req.AutoApprove {
		if err := p.record(r, ann, nil, payload); err != nil {
			return p.recordFailed(ctx, r, err)
		}
		if err := p.setStatus(ctx, doc.ID, types.StatusAwaitingApproval); err != nil {
			return ProcessResult{}, err
		}
		logger.Infof("[pipeline] document=%s 分类为 %s (%.2f)，等待确认", doc.ID, cls.Type, cls.Confidence)
		return p.result(r, types.StatusAwaitingApproval, nil, ""), nil
	}

	approve := agui.ResponseApprove
	if err := p.record(r, ann, &approve, payload); err != nil {
		return p.recordFailed(ctx, r, err)
	}
	return p.extract(ctx, r)
}

// Respond 处理用户对待确认步骤的回应：待确认步骤被撤销后连同回应重新记录。
func (p *Processor) Respond(ctx context.Context, req RespondRequest) (ProcessResult, error) {
	resp, err := agui.ParseUserResponse(req.Response)
	if err != nil {
		return ProcessResult{}, err
	}
	doc, err := p.loadDocument(ctx, req.DocumentID, req.UserID)
	if err != nil {
		return ProcessResult{}, err
	}
	var corrected types.DocumentType
	if resp == agui.ResponseModify {
		corrected = types.ParseDocumentType(req.DocumentType)
		if !corrected.Known() {
			return ProcessResult{}, fmt.Errorf("%w: %q", ErrInvalidDocumentType, req.DocumentType)
		}
	}

	r := &run{doc: doc, userID: req.UserID, started: p.now(), docType: doc.DocumentType}
	err = p.sessions.Do(doc.ID, req.UserID, func(s *agui.Session) error {
		r.session = s
		last, ok := s.Last()
		if !ok || !last.Announcement.RequiresApproval() || last.Response != nil {
			return ErrNothingPending
		}
		conf, _ := last.Announcement.Confidence()
		r.confidence = conf
		ann := last.Announcement
		payload := cloneMap(last.Result)
		if resp == agui.ResponseModify {
			payload["original_type"] = string(r.docType)
			payload["document_type"] = string(corrected)
			payload["confidence_score"] = 1.0
			r.docType, r.confidence = corrected, 1.0
			modified, cerr := agui.ClassificationResult(corrected, 1.0)
			if cerr != nil {
				return cerr
			}
			ann = modified
		}
		if _, err := s.UndoLast(); err != nil {
			return err
		}
		_, err := s.Record(ann, &resp, payload)
		return err
	})
	if errors.Is(err, agui.ErrSessionNotFound) {
		return ProcessResult{}, fmt.Errorf("%w: %v", ErrNothingPending, err)
	}
	if err != nil {
		return ProcessResult{}, err
	}
	logger.Infof("[pipeline] document=%s 用户回应 %s", doc.ID, resp)

	switch resp {
	case agui.ResponseApprove, agui.ResponseModify:
		status := types.StatusProcessing
		if err := p.docs.UpdateDocument(ctx, doc.ID, store.DocumentUpdate{
			Status:       &status,
			DocumentType: &r.docType,
			Confidence:   &r.confidence,
		}); err != nil {
			return ProcessResult{}, err
		}
		if err := p.loadInput(ctx, r); err != nil {
			return p.fail(ctx, r, stageErr("load", err))
		}
		return p.extract(ctx, r)
	default:
		reason := "classification rejected by user"
		if resp == agui.ResponseSkip {
			reason = "processing skipped by user"
		}
		return p.finish(ctx, r, false, nil, reason)
	}
}

// extract 在确认之后执行 抽取 → 校验 → 完成。
func (p *Processor) extract(ctx context.Context, r *run) (ProcessResult, error) {
	if !r.docType.Known() {
		return p.finish(ctx, r, false, nil, "unsupported document type")
	}
	if err := p.record(r, agui.ExtractionStarted(r.docType), nil, nil); err != nil {
		return p.recordFailed(ctx, r, err)
	}
	data, err := p.extractor.Extract(ctx, r.docType, r.input)
	if err != nil {
		return p.fail(ctx, r, stageErr("extract", err))
	}
	if err := p.record(r, agui.ValidationStarted(len(data)), nil, nil); err != nil {
		return p.recordFailed(ctx, r, err)
	}
	normalized, verr := p.schemas.Validate(r.docType, data)
	if verr != nil {
		if normalized == nil {
			normalized = data
		}
		if err := p.saveResult(ctx, r, normalized); err != nil {
			return ProcessResult{}, err
		}
		return p.finish(ctx, r, false, normalized, stageErr("validate", verr).Error())
	}
	if err := p.saveResult(ctx, r, normalized); err != nil {
		return ProcessResult{}, err
	}
	return p.finish(ctx, r, true, normalized, "")
}

// fail 记录失败完成步骤。会话已被删除时只更新文档状态。
func (p *Processor) fail(ctx context.Context, r *run, cause error) (ProcessResult, error) {
	logger.Warnf("[pipeline] document=%s 处理失败: %v", r.doc.ID, cause)
	return p.finish(ctx, r, false, nil, cause.Error())
}

// recordFailed 处理中途写会话失败：会话被删除或关闭时按失败结束，其余错误原样返回。
func (p *Processor) recordFailed(ctx context.Context, r *run, err error) (ProcessResult, error) {
	if detached(err) {
		return p.fail(ctx, r, stageErr("session", err))
	}
	return ProcessResult{}, err
}

func detached(err error) bool {
	return errors.Is(err, agui.ErrSessionNotFound) || errors.Is(err, agui.ErrSessionClosed)
}

// superseded 表示该文档已由更新的一次处理接管。
func (p *Processor) superseded(r *run) bool {
	s, err := p.sessions.Get(r.doc.ID, r.userID)
	return err == nil && s != r.session
}

func (p *Processor) finish(ctx context.Context, r *run, success bool, data map[string]any, reason string) (ProcessResult, error) {
	result := map[string]any{"success": success}
	if reason != "" {
		result["error"] = reason
	}
	if err := p.record(r, agui.Completed(success, len(data)), nil, result); err != nil && !detached(err) {
		return ProcessResult{}, err
	}
	if p.superseded(r) {
		if reason == "" {
			reason = "session replaced by a newer run"
		}
		logger.Warnf("[pipeline] document=%s 会话已被新的处理替换，保留文档状态", r.doc.ID)
		return p.result(r, types.StatusFailed, data, reason), nil
	}
	status := types.StatusCompleted
	if !success {
		status = types.StatusFailed
	}
	processed := p.now()
	upd := store.DocumentUpdate{Status: &status, ProcessedAt: &processed}
	if reason != "" {
		upd.ErrorMessage = &reason
	}
	if err := p.docs.UpdateDocument(ctx, r.doc.ID, upd); err != nil {
		return ProcessResult{}, err
	}
	out := p.result(r, status, data, reason)
	_ = p.sessions.DoSession(r.session, func(s *agui.Session) error {
		s.Close()
		return nil
	})
	logger.Infof("[pipeline] document=%s 完成 status=%s 耗时=%s", r.doc.ID, status, out.Duration.Truncate(time.Millisecond))
	return out, nil
}

func (p *Processor) result(r *run, status types.DocumentStatus, data map[string]any, reason string) ProcessResult {
	elapsed := p.now().Sub(r.started)
	out := ProcessResult{
		DocumentID:     r.doc.ID,
		Status:         status,
		DocumentType:   r.docType,
		ResultData:     data,
		Duration:       elapsed,
		ProcessingTime: elapsed.Seconds(),
		Error:          reason,
		History:        []agui.HistoryEntry{},
	}
	if r.docType != "" {
		conf := r.confidence
		out.Confidence = &conf
	}
	err := p.sessions.DoSession(r.session, func(s *agui.Session) error {
		out.History = s.History()
		return nil
	})
	if err != nil && r.session != nil {
		// 已脱离注册表的会话只剩本次处理持有。
		out.History = r.session.History()
	}
	return out
}

func (p *Processor) saveResult(ctx context.Context, r *run, data map[string]any) error {
	res := store.ExtractionResult{
		DocumentID:      r.doc.ID,
		DocumentType:    r.docType,
		ResultData:      data,
		ConfidenceScore: r.confidence,
		ProcessingAgent: r.docType.SpecialistName(),
		CreatedAt:       p.now(),
	}
	if sum, err := document.Summarize(data); err == nil {
		res.VendorName = sum.VendorName
		res.TotalAmount = sum.TotalString()
		res.InvoiceDate = sum.Date
	} else {
		logger.Warnf("[pipeline] document=%s 结果摘要失败: %v", r.doc.ID, err)
	}
	return p.results.SaveExtractionResult(ctx, res)
}

func (p *Processor) record(r *run, ann agui.Announcement, resp *agui.UserResponse, result map[string]any) error {
	return p.sessions.DoSession(r.session, func(s *agui.Session) error {
		_, err := s.Record(ann, resp, result)
		return err
	})
}

func (p *Processor) setStatus(ctx context.Context, id string, status types.DocumentStatus) error {
	return p.docs.UpdateDocument(ctx, id, store.DocumentUpdate{Status: &status})
}

func (p *Processor) loadDocument(ctx context.Context, id, userID string) (store.Document, error) {
	doc, err := p.docs.GetDocument(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return store.Document{}, fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}
	if err != nil {
		return store.Document{}, err
	}
	if doc.UserID != userID {
		return store.Document{}, fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}
	return doc, nil
}

func (p *Processor) loadInput(ctx context.Context, r *run) error {
	content, err := p.blobs.Read(ctx, r.doc.FilePath)
	if err != nil {
		return err
	}
	r.input = Input{Filename: r.doc.Filename, ContentType: r.doc.ContentType, Content: content}
	return nil
}

func cloneMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in)+2)
	for k, v := range in {
		out[k] = v
	}
	return out
}
