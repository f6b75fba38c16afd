package pipeline

import "errors"

var (
	// ErrDocumentNotFound 文档不存在或不属于当前用户。
	ErrDocumentNotFound = errors.New("pipeline: document not found")
	// ErrNothingPending 会话末尾没有等待确认的步骤。
	ErrNothingPending = errors.New("pipeline: no step is awaiting approval")
	// ErrRunInProgress 文档已有进行中（或等待确认）的处理。
	ErrRunInProgress = errors.New("pipeline: document is already being processed")
	// ErrInvalidDocumentType modify 回应必须带上可识别的文档类型。
	ErrInvalidDocumentType = errors.New("pipeline: invalid document type")
)

// StageError 封装某个处理阶段的失败信息。
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return e.Stage
	}
	return e.Stage + ": " + e.Err.Error()
}

func (e *StageError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func stageErr(stage string, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: stage, Err: err}
}
