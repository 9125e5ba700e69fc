// browser/handlers.go
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/chhz0/webauto/types"
)

// 四类任务的执行入口。每个任务起一个新浏览器，执行完关掉，
// 结果写回 task.Result。
type Executor struct {
	opts   Options
	static *StaticFetcher
	log    *logrus.Entry
}

func NewExecutor(opts Options, log *logrus.Entry) *Executor {
	return &Executor{
		opts:   opts,
		static: NewStaticFetcher(opts.Timeout, opts.UserAgent),
		log:    log,
	}
}

// 按任务类型分发，注册到任务注册表时四种类型都指到这里
func (e *Executor) Execute(ctx context.Context, task *types.Task) error {
	switch task.Type {
	case types.TypeFormFill:
		return e.ExecuteFormFill(ctx, task)
	case types.TypeExtract:
		return e.ExecuteExtract(ctx, task)
	case types.TypeClick:
		return e.ExecuteClick(ctx, task)
	case types.TypeUpload:
		return e.ExecuteUpload(ctx, task)
	}
	return fmt.Errorf("%w: %q", types.ErrUnknownTaskType, task.Type)
}

func (e *Executor) ExecuteFormFill(ctx context.Context, task *types.Task) error {
	var p types.FormFillPayload
	if err := decodeInto(task, &p); err != nil {
		return err
	}

	ctrl, err := e.open(ctx, task)
	if err != nil {
		return err
	}
	defer ctrl.Close()

	result, err := ctrl.FillForm(p.Fields, p.Submit)
	if err != nil {
		return err
	}
	if err := setResult(task, result); err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("no form fields filled out of %d", len(p.Fields))
	}
	e.log.WithFields(logrus.Fields{
		"task":   task.ID,
		"filled": len(result.FilledFields),
		"failed": len(result.FailedFields),
	}).Info("form fill finished")
	return nil
}

func (e *Executor) ExecuteExtract(ctx context.Context, task *types.Task) error {
	var p types.ExtractPayload
	if err := decodeInto(task, &p); err != nil {
		return err
	}

	var result *ExtractResult
	if p.Static {
		var err error
		result, err = e.static.Extract(ctx, task.URL, p.Selectors)
		if err != nil {
			return err
		}
	} else {
		ctrl, err := e.open(ctx, task)
		if err != nil {
			return err
		}
		defer ctrl.Close()
		result, err = ctrl.Extract(p.Selectors)
		if err != nil {
			return err
		}
	}

	if err := setResult(task, result); err != nil {
		return err
	}
	if result.SuccessfulExtractions == 0 {
		return fmt.Errorf("all %d selectors failed", result.TotalSelectors)
	}
	e.log.WithFields(logrus.Fields{
		"task":      task.ID,
		"selectors": result.TotalSelectors,
		"static":    p.Static,
	}).Info("extraction finished")
	return nil
}

func (e *Executor) ExecuteClick(ctx context.Context, task *types.Task) error {
	var p types.ClickPayload
	if err := decodeInto(task, &p); err != nil {
		return err
	}

	ctrl, err := e.open(ctx, task)
	if err != nil {
		return err
	}
	defer ctrl.Close()

	result, err := ctrl.ClickSequence(p.Selectors, p.Wait())
	if err != nil {
		return err
	}
	if err := setResult(task, result); err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("no clicks landed out of %d", result.TotalAttempted)
	}
	e.log.WithFields(logrus.Fields{
		"task":    task.ID,
		"clicked": len(result.SuccessfulClicks),
	}).Info("click sequence finished")
	return nil
}

func (e *Executor) ExecuteUpload(ctx context.Context, task *types.Task) error {
	var p types.UploadPayload
	if err := decodeInto(task, &p); err != nil {
		return err
	}

	ctrl, err := e.open(ctx, task)
	if err != nil {
		return err
	}
	defer ctrl.Close()

	result, err := ctrl.UploadFiles(p.Selector(), p.Files)
	if err != nil {
		return err
	}
	if err := setResult(task, result); err != nil {
		return err
	}
	if !result.Success {
		return errors.New("no files uploaded")
	}
	e.log.WithFields(logrus.Fields{
		"task":     task.ID,
		"uploaded": len(result.UploadedFiles),
	}).Info("upload finished")
	return nil
}

// 起浏览器并导航到任务目标页，导航失败整个任务算失败
func (e *Executor) open(ctx context.Context, task *types.Task) (*Controller, error) {
	opts := e.opts
	if task.Timeout > 0 {
		opts.Timeout = task.Timeout
	}
	ctrl := NewController(opts)
	if err := ctrl.Start(ctx); err != nil {
		return nil, err
	}
	nav, err := ctrl.Navigate(task.URL)
	if err != nil {
		ctrl.Close()
		return nil, err
	}
	e.log.WithFields(logrus.Fields{
		"task":  task.ID,
		"url":   nav.CurrentURL,
		"title": nav.Title,
	}).Debug("page loaded")
	return ctrl, nil
}

func decodeInto(task *types.Task, v any) error {
	if len(task.Payload) == 0 {
		return errors.New("task_data is required")
	}
	if err := json.Unmarshal(task.Payload, v); err != nil {
		return fmt.Errorf("decode task_data: %w", err)
	}
	return nil
}

func setResult(task *types.Task, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	task.Result = data
	return nil
}
