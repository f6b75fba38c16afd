package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"docagent/internal/agui"
	"docagent/internal/document"
	"docagent/internal/store"
	"docagent/internal/store/blob"
	"docagent/internal/store/gormstore"
	"docagent/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockClassifier struct {
	mock.Mock
}

func (m *MockClassifier) Classify(ctx context.Context, in Input) (document.Classification, error) {
	args := m.Called(ctx, in)
	return args.Get(0).(document.Classification), args.Error(1)
}

type MockExtractor struct {
	mock.Mock
}

func (m *MockExtractor) Extract(ctx context.Context, docType types.DocumentType, in Input) (map[string]any, error) {
	args := m.Called(ctx, docType, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]any), args.Error(1)
}

type fixture struct {
	proc       *Processor
	store      *gormstore.GormStore
	sessions   *agui.Registry
	classifier *MockClassifier
	extractor  *MockExtractor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	st, err := gormstore.NewGormStore(filepath.Join(dir, "docagent.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	blobs, err := blob.NewLocalStore(filepath.Join(dir, "uploads"))
	require.NoError(t, err)
	schemas, err := document.NewSchemaRegistry("", false)
	require.NoError(t, err)

	f := &fixture{
		store:      st,
		sessions:   agui.NewRegistry(agui.RegistryConfig{}),
		classifier: new(MockClassifier),
		extractor:  new(MockExtractor),
	}
	f.proc = NewProcessor(Deps{
		Documents:  st,
		Results:    st,
		Blobs:      blobs,
		Sessions:   f.sessions,
		Schemas:    schemas,
		Classifier: f.classifier,
		Extractor:  f.extractor,
	})

	ctx := context.Background()
	rel, n, err := blobs.Save(ctx, "user-1", "doc-1", ".txt", strings.NewReader("INVOICE INV-7 Acme total 1108.00"), 0)
	require.NoError(t, err)
	require.NoError(t, st.CreateDocument(ctx, store.Document{
		ID:          "doc-1",
		UserID:      "user-1",
		Filename:    "invoice.txt",
		FilePath:    rel,
		FileSize:    n,
		ContentType: "text/plain",
		UploadedAt:  time.Now(),
	}))
	return f
}

func invoiceData() map[string]any {
	return map[string]any{
		"invoice_number": "INV-7",
		"invoice_date":   "2026-02-01",
		"vendor":         map[string]any{"name": "Acme"},
		"subtotal":       1100.0,
		"tax_amount":     "8",
		"total_amount":   "1,108.00",
	}
}

func (f *fixture) document(t *testing.T) store.Document {
	t.Helper()
	doc, err := f.store.GetDocument(context.Background(), "doc-1")
	require.NoError(t, err)
	return doc
}

func actions(history []agui.HistoryEntry) []agui.ActionType {
	out := make([]agui.ActionType, 0, len(history))
	for _, h := range history {
		out = append(out, h.Action)
	}
	return out
}

func TestProcessor_ApprovalFlow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.classifier.On("Classify", mock.Anything, mock.MatchedBy(func(in Input) bool {
		return in.Filename == "invoice.txt" && strings.Contains(string(in.Content), "INV-7")
	})).Return(document.Classification{Type: types.DocumentInvoice, Confidence: 0.93}, nil).Once()
	f.extractor.On("Extract", mock.Anything, types.DocumentInvoice, mock.Anything).Return(invoiceData(), nil).Once()

	res, err := f.proc.Process(ctx, ProcessRequest{DocumentID: "doc-1", UserID: "user-1"})
	require.NoError(t, err)
	assert.Equal(t, types.StatusAwaitingApproval, res.Status)
	assert.Equal(t, types.DocumentInvoice, res.DocumentType)
	require.Len(t, res.History, 2)
	assert.Equal(t, "Document classified as 'invoice' with 93.0% confidence. Proceed with extraction?", res.History[1].Message)
	assert.Nil(t, res.History[1].UserResponse)
	assert.Equal(t, types.StatusAwaitingApproval, f.document(t).Status)
	f.extractor.AssertNotCalled(t, "Extract", mock.Anything, mock.Anything, mock.Anything)

	_, err = f.proc.Process(ctx, ProcessRequest{DocumentID: "doc-1", UserID: "user-1"})
	assert.ErrorIs(t, err, ErrRunInProgress)

	res, err = f.proc.Respond(ctx, RespondRequest{DocumentID: "doc-1", UserID: "user-1", Response: " Approve "})
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, res.Status)
	assert.Empty(t, res.Error)
	assert.Equal(t, []agui.ActionType{
		agui.ActionClassify, agui.ActionClassify, agui.ActionExtract, agui.ActionValidate, agui.ActionComplete,
	}, actions(res.History))
	require.NotNil(t, res.History[1].UserResponse)
	assert.Equal(t, agui.ResponseApprove, *res.History[1].UserResponse)
	assert.Equal(t, 2, res.History[1].Step)
	assert.Equal(t, "Validating 6 extracted fields against schema...", res.History[3].Message)
	assert.Equal(t, "✓ Processing complete! Successfully extracted 6 fields.", res.History[4].Message)
	assert.Equal(t, 1108.0, res.ResultData["total_amount"])

	doc := f.document(t)
	assert.Equal(t, types.StatusCompleted, doc.Status)
	assert.NotNil(t, doc.ProcessedAt)

	saved, err := f.store.GetExtractionResult(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "Acme", saved.VendorName)
	assert.Equal(t, "1108.00", saved.TotalAmount)
	assert.Equal(t, "2026-02-01", saved.InvoiceDate)
	assert.InDelta(t, 0.93, saved.ConfidenceScore, 1e-9)
	assert.Equal(t, "Invoice Processing Specialist", saved.ProcessingAgent)

	sess, err := f.sessions.Get("doc-1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, agui.StateClosed, sess.State())

	_, err = f.proc.Respond(ctx, RespondRequest{DocumentID: "doc-1", UserID: "user-1", Response: "approve"})
	assert.ErrorIs(t, err, ErrNothingPending)

	f.classifier.AssertExpectations(t)
	f.extractor.AssertExpectations(t)
}

func TestProcessor_AutoApprove(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.classifier.On("Classify", mock.Anything, mock.Anything).
		Return(document.Classification{Type: types.DocumentInvoice, Confidence: 0.8}, nil)
	f.extractor.On("Extract", mock.Anything, types.DocumentInvoice, mock.Anything).Return(invoiceData(), nil)

	res, err := f.proc.Process(ctx, ProcessRequest{DocumentID: "doc-1", UserID: "user-1", AutoApprove: true})
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, res.Status)
	require.Len(t, res.History, 5)
	require.NotNil(t, res.History[1].UserResponse)
	assert.Equal(t, agui.ResponseApprove, *res.History[1].UserResponse)

	// 已完成的文档可以重新处理，旧会话被替换。
	res, err = f.proc.Process(ctx, ProcessRequest{DocumentID: "doc-1", UserID: "user-1", AutoApprove: true})
	require.NoError(t, err)
	assert.Len(t, res.History, 5)
	assert.Equal(t, 1, f.sessions.Len())
}

func TestProcessor_UnknownTypeSkipsExtraction(t *testing.T) {
	f := newFixture(t)
	f.classifier.On("Classify", mock.Anything, mock.Anything).
		Return(document.Classification{Type: types.DocumentUnknown, Confidence: 0.4}, nil)

	res, err := f.proc.Process(context.Background(), ProcessRequest{DocumentID: "doc-1", UserID: "user-1", AutoApprove: true})
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, res.Status)
	assert.Equal(t, []agui.ActionType{agui.ActionClassify, agui.ActionClassify, agui.ActionComplete}, actions(res.History))
	assert.Equal(t, "unsupported document type", res.Error)
	f.extractor.AssertNotCalled(t, "Extract", mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessor_StageFailures(t *testing.T) {
	t.Run("classifier error", func(t *testing.T) {
		f := newFixture(t)
		f.classifier.On("Classify", mock.Anything, mock.Anything).
			Return(document.Classification{}, errors.New("model offline"))

		res, err := f.proc.Process(context.Background(), ProcessRequest{DocumentID: "doc-1", UserID: "user-1"})
		require.NoError(t, err)
		assert.Equal(t, types.StatusFailed, res.Status)
		assert.Equal(t, "classify: model offline", res.Error)
		require.Len(t, res.History, 2)
		assert.Equal(t, "✗ Processing failed. Please review the errors.", res.History[1].Message)
		assert.Equal(t, "classify: model offline", f.document(t).ErrorMessage)
	})

	t.Run("invalid confidence", func(t *testing.T) {
		f := newFixture(t)
		f.classifier.On("Classify", mock.Anything, mock.Anything).
			Return(document.Classification{Type: types.DocumentInvoice, Confidence: 1.5}, nil)

		res, err := f.proc.Process(context.Background(), ProcessRequest{DocumentID: "doc-1", UserID: "user-1"})
		require.NoError(t, err)
		assert.Equal(t, types.StatusFailed, res.Status)
		assert.Contains(t, res.Error, "classify")
	})

	t.Run("extractor error", func(t *testing.T) {
		f := newFixture(t)
		f.classifier.On("Classify", mock.Anything, mock.Anything).
			Return(document.Classification{Type: types.DocumentInvoice, Confidence: 0.9}, nil)
		f.extractor.On("Extract", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("bad json"))

		res, err := f.proc.Process(context.Background(), ProcessRequest{DocumentID: "doc-1", UserID: "user-1", AutoApprove: true})
		require.NoError(t, err)
		assert.Equal(t, types.StatusFailed, res.Status)
		assert.Equal(t, []agui.ActionType{
			agui.ActionClassify, agui.ActionClassify, agui.ActionExtract, agui.ActionComplete,
		}, actions(res.History))
		assert.Equal(t, "extract: bad json", res.Error)
	})

	t.Run("schema violation", func(t *testing.T) {
		f := newFixture(t)
		data := invoiceData()
		delete(data, "total_amount")
		f.classifier.On("Classify", mock.Anything, mock.Anything).
			Return(document.Classification{Type: types.DocumentInvoice, Confidence: 0.9}, nil)
		f.extractor.On("Extract", mock.Anything, mock.Anything, mock.Anything).Return(data, nil)

		res, err := f.proc.Process(context.Background(), ProcessRequest{DocumentID: "doc-1", UserID: "user-1", AutoApprove: true})
		require.NoError(t, err)
		assert.Equal(t, types.StatusFailed, res.Status)
		assert.Len(t, res.History, 5)
		assert.True(t, strings.HasPrefix(res.Error, "validate: invoice schema validation failed"))

		saved, err := f.store.GetExtractionResult(context.Background(), "doc-1")
		require.NoError(t, err, "invalid payload is kept for review")
		assert.Equal(t, "INV-7", saved.ResultData["invoice_number"])
	})
}

func TestProcessor_RemovedSessionMidRunFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.classifier.On("Classify", mock.Anything, mock.Anything).
		Return(document.Classification{Type: types.DocumentInvoice, Confidence: 0.9}, nil)
	f.extractor.On("Extract", mock.Anything, types.DocumentInvoice, mock.Anything).
		Run(func(mock.Arguments) {
			require.NoError(t, f.sessions.Remove("doc-1", "user-1"))
		}).
		Return(invoiceData(), nil)

	res, err := f.proc.Process(ctx, ProcessRequest{DocumentID: "doc-1", UserID: "user-1", AutoApprove: true})
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, res.Status)
	assert.Contains(t, res.Error, "session")
	assert.Equal(t, []agui.ActionType{agui.ActionClassify, agui.ActionClassify, agui.ActionExtract}, actions(res.History))

	doc := f.document(t)
	assert.Equal(t, types.StatusFailed, doc.Status)
	assert.Contains(t, doc.ErrorMessage, "session")
	assert.Equal(t, 0, f.sessions.Len())
}

func TestProcessor_StaleRunLeavesNewerSessionAlone(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.classifier.On("Classify", mock.Anything, mock.Anything).
		Return(document.Classification{Type: types.DocumentInvoice, Confidence: 0.9}, nil)

	var (
		newer    ProcessResult
		newerErr error
	)
	f.extractor.On("Extract", mock.Anything, types.DocumentInvoice, mock.Anything).
		Run(func(mock.Arguments) {
			require.NoError(t, f.sessions.Remove("doc-1", "user-1"))
			newer, newerErr = f.proc.Process(ctx, ProcessRequest{DocumentID: "doc-1", UserID: "user-1"})
		}).
		Return(invoiceData(), nil).Once()

	res, err := f.proc.Process(ctx, ProcessRequest{DocumentID: "doc-1", UserID: "user-1", AutoApprove: true})
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, res.Status)

	require.NoError(t, newerErr)
	assert.Equal(t, types.StatusAwaitingApproval, newer.Status)

	s, err := f.sessions.Get("doc-1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, agui.StateActive, s.State())
	assert.Equal(t, []agui.ActionType{agui.ActionClassify, agui.ActionClassify}, actions(s.History()))
	assert.Equal(t, types.StatusAwaitingApproval, f.document(t).Status)

	// 新会话仍可正常确认。
	f.extractor.On("Extract", mock.Anything, types.DocumentInvoice, mock.Anything).Return(invoiceData(), nil).Once()
	res, err = f.proc.Respond(ctx, RespondRequest{DocumentID: "doc-1", UserID: "user-1", Response: "approve"})
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, res.Status)
}

func TestProcessor_ConcurrentProcessClaimsOnce(t *testing.T) {
	f := newFixture(t)
	release := make(chan struct{})
	f.classifier.On("Classify", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { <-release }).
		Return(document.Classification{Type: types.DocumentInvoice, Confidence: 0.9}, nil)

	const n = 4
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := f.proc.Process(context.Background(), ProcessRequest{DocumentID: "doc-1", UserID: "user-1"})
			errs <- err
		}()
	}

	var busy int
	for i := 0; i < n-1; i++ {
		err := <-errs
		require.ErrorIs(t, err, ErrRunInProgress)
		busy++
	}
	close(release)
	assert.NoError(t, <-errs)
	assert.Equal(t, n-1, busy)
	f.classifier.AssertNumberOfCalls(t, "Classify", 1)
}

func TestProcessor_RespondVariants(t *testing.T) {
	ctx := context.Background()
	start := func(t *testing.T) *fixture {
		f := newFixture(t)
		f.classifier.On("Classify", mock.Anything, mock.Anything).
			Return(document.Classification{Type: types.DocumentInvoice, Confidence: 0.6}, nil)
		_, err := f.proc.Process(ctx, ProcessRequest{DocumentID: "doc-1", UserID: "user-1"})
		require.NoError(t, err)
		return f
	}

	t.Run("reject", func(t *testing.T) {
		f := start(t)
		res, err := f.proc.Respond(ctx, RespondRequest{DocumentID: "doc-1", UserID: "user-1", Response: "reject"})
		require.NoError(t, err)
		assert.Equal(t, types.StatusFailed, res.Status)
		assert.Equal(t, "classification rejected by user", res.Error)
		require.Len(t, res.History, 3)
		assert.Equal(t, agui.ResponseReject, *res.History[1].UserResponse)
		f.extractor.AssertNotCalled(t, "Extract", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("skip", func(t *testing.T) {
		f := start(t)
		res, err := f.proc.Respond(ctx, RespondRequest{DocumentID: "doc-1", UserID: "user-1", Response: "skip"})
		require.NoError(t, err)
		assert.Equal(t, "processing skipped by user", res.Error)
	})

	t.Run("modify", func(t *testing.T) {
		f := start(t)
		receipt := map[string]any{
			"merchant_name": "Corner Cafe",
			"purchase_date": "2026-01-02",
			"subtotal":      11.0,
			"tax_amount":    1.5,
			"total_amount":  12.5,
		}
		f.extractor.On("Extract", mock.Anything, types.DocumentReceipt, mock.Anything).Return(receipt, nil).Once()

		res, err := f.proc.Respond(ctx, RespondRequest{
			DocumentID: "doc-1", UserID: "user-1", Response: "modify", DocumentType: "receipt",
		})
		require.NoError(t, err)
		assert.Equal(t, types.StatusCompleted, res.Status)
		assert.Equal(t, types.DocumentReceipt, res.DocumentType)
		assert.Equal(t, "Document classified as 'receipt' with 100.0% confidence. Proceed with extraction?", res.History[1].Message)
		assert.Equal(t, agui.ResponseModify, *res.History[1].UserResponse)
		assert.Equal(t, types.DocumentReceipt, f.document(t).DocumentType)
		f.extractor.AssertExpectations(t)
	})

	t.Run("invalid input", func(t *testing.T) {
		f := start(t)
		_, err := f.proc.Respond(ctx, RespondRequest{DocumentID: "doc-1", UserID: "user-1", Response: "maybe"})
		assert.ErrorIs(t, err, agui.ErrInvalidResponse)

		_, err = f.proc.Respond(ctx, RespondRequest{DocumentID: "doc-1", UserID: "user-1", Response: "modify", DocumentType: "payslip"})
		assert.ErrorIs(t, err, ErrInvalidDocumentType)

		_, err = f.proc.Respond(ctx, RespondRequest{DocumentID: "doc-1", UserID: "someone-else", Response: "approve"})
		assert.ErrorIs(t, err, ErrDocumentNotFound)

		// 待确认步骤未被消耗
		sess, err := f.sessions.Get("doc-1", "user-1")
		require.NoError(t, err)
		last, ok := sess.Last()
		require.True(t, ok)
		assert.Nil(t, last.Response)
	})

	t.Run("undone approval leaves nothing pending", func(t *testing.T) {
		f := start(t)
		require.NoError(t, f.sessions.Do("doc-1", "user-1", func(s *agui.Session) error {
			_, err := s.UndoLast()
			return err
		}))
		_, err := f.proc.Respond(ctx, RespondRequest{DocumentID: "doc-1", UserID: "user-1", Response: "approve"})
		assert.ErrorIs(t, err, ErrNothingPending)
	})
}

func TestProcessor_DocumentNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.proc.Process(context.Background(), ProcessRequest{DocumentID: "nope", UserID: "user-1"})
	assert.ErrorIs(t, err, ErrDocumentNotFound)

	_, err = f.proc.Process(context.Background(), ProcessRequest{DocumentID: "doc-1", UserID: "intruder"})
	assert.ErrorIs(t, err, ErrDocumentNotFound)
	assert.Equal(t, 0, f.sessions.Len())
}

func TestDocumentText(t *testing.T) {
	assert.Equal(t, "hello", documentText([]byte("  hello \n"), 0))
	assert.Equal(t, "héll", documentText([]byte("héllo"), 4))

	binary := []byte{0x25, 0x50, 0x44, 0x46, 0xff, 0x00, 'T', 'o', 't', 'a', 'l', ' ', '4', '2', 0xfe, 'a', 'b'}
	assert.Equal(t, "%PDF Total 42", documentText(binary, 0))
}
