// browser/controller.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
)

type NavResult struct {
	Success    bool   `json:"success"`
	CurrentURL string `json:"current_url"`
	Title      string `json:"title"`
}

type FormResult struct {
	Success      bool     `json:"success"`
	FilledFields []string `json:"filled_fields"`
	FailedFields []string `json:"failed_fields"`
	Submitted    bool     `json:"submitted"`
}

type Element struct {
	Text       string            `json:"text"`
	Tag        string            `json:"tag"`
	Attributes map[string]string `json:"attributes"`
}

type ExtractResult struct {
	Success               bool                 `json:"success"`
	Data                  map[string][]Element `json:"data"`
	Errors                map[string]string    `json:"errors,omitempty"`
	TotalSelectors        int                  `json:"total_selectors"`
	SuccessfulExtractions int                  `json:"successful_extractions"`
}

type ClickResult struct {
	Success          bool     `json:"success"`
	SuccessfulClicks []string `json:"successful_clicks"`
	FailedClicks     []string `json:"failed_clicks"`
	TotalAttempted   int      `json:"total_attempted"`
}

type UploadResult struct {
	Success       bool     `json:"success"`
	UploadedFiles []string `json:"uploaded_files"`
	FailedFiles   []string `json:"failed_files"`
}

type ScreenshotResult struct {
	Success  bool   `json:"success"`
	Filename string `json:"filename"`
	Path     string `json:"path"`
}

// 单标签页浏览器控制器，每次任务执行新建一个，用完即关
type Controller struct {
	opts        Options
	allocCancel context.CancelFunc
	cancel      context.CancelFunc
	ctx         context.Context
}

func NewController(opts Options) *Controller {
	return &Controller{opts: opts}
}

// 启动浏览器，parent 取消时浏览器随之退出
func (c *Controller) Start(parent context.Context) error {
	allocCtx, allocCancel := chromedp.NewExecAllocator(parent, c.opts.allocatorOptions()...)
	ctx, cancel := chromedp.NewContext(allocCtx)

	// 先跑一个空动作把进程拉起来，失败尽早暴露
	startCtx, startCancel := context.WithTimeout(ctx, c.opts.timeout())
	defer startCancel()
	if err := chromedp.Run(startCtx); err != nil {
		cancel()
		allocCancel()
		return fmt.Errorf("start chrome: %w", err)
	}

	c.allocCancel = allocCancel
	c.cancel = cancel
	c.ctx = ctx
	return nil
}

func (c *Controller) Close() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.allocCancel != nil {
		c.allocCancel()
		c.allocCancel = nil
	}
	c.ctx = nil
}

func (c *Controller) run(timeout time.Duration, actions ...chromedp.Action) error {
	if c.ctx == nil {
		return errors.New("browser not started")
	}
	ctx := c.ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return chromedp.Run(ctx, actions...)
}

// 元素探测，找不到不算错误
func (c *Controller) probe(sel string, wait time.Duration) bool {
	return c.run(wait, chromedp.WaitReady(sel, chromedp.ByQuery)) == nil
}

const (
	// 表单字段逐个选择器试探的单次等待
	probeWait = 2 * time.Second
	// 页面加载后的静置时间
	settleWait = 2 * time.Second
)

func (c *Controller) Navigate(url string) (*NavResult, error) {
	var current, title string
	err := c.run(c.opts.timeout(),
		chromedp.Navigate(url),
		chromedp.Sleep(settleWait),
		chromedp.Location(&current),
		chromedp.Title(&title),
	)
	if err != nil {
		return nil, fmt.Errorf("navigation failed: %w", err)
	}
	return &NavResult{Success: true, CurrentURL: current, Title: title}, nil
}

// 同一个字段名依次按 name、id、css、placeholder、aria-label 匹配
func fieldSelectors(field string) []string {
	q := strconv.Quote(field)
	return []string{
		fmt.Sprintf(`[name=%s]`, q),
		fmt.Sprintf(`[id=%s]`, q),
		field,
		fmt.Sprintf(`input[placeholder=%s]`, q),
		fmt.Sprintf(`input[aria-label=%s]`, q),
		fmt.Sprintf(`textarea[name=%s]`, q),
		fmt.Sprintf(`select[name=%s]`, q),
	}
}

func (c *Controller) findField(field string) (string, bool) {
	for _, sel := range fieldSelectors(field) {
		if c.probe(sel, probeWait) {
			return sel, true
		}
	}
	return "", false
}

func (c *Controller) FillForm(fields map[string]string, submit bool) (*FormResult, error) {
	result := &FormResult{
		FilledFields: make([]string, 0, len(fields)),
		FailedFields: make([]string, 0),
		Submitted:    submit,
	}

	var lastSel string
	for field, value := range fields {
		sel, ok := c.findField(field)
		if !ok {
			result.FailedFields = append(result.FailedFields, field)
			continue
		}
		err := c.run(c.opts.timeout(),
			chromedp.Clear(sel, chromedp.ByQuery),
			chromedp.SendKeys(sel, value, chromedp.ByQuery),
		)
		if err != nil {
			result.FailedFields = append(result.FailedFields, fmt.Sprintf("%s: %v", field, err))
			continue
		}
		result.FilledFields = append(result.FilledFields, field)
		lastSel = sel
	}

	if submit {
		c.submitForm(lastSel)
	}

	result.Success = len(result.FilledFields) > 0
	return result, nil
}

// 优先点提交按钮，找不到对最后一个字段回车
func (c *Controller) submitForm(lastSel string) {
	for _, sel := range []string{`input[type="submit"]`, `button[type="submit"]`} {
		if !c.probe(sel, probeWait) {
			continue
		}
		if err := c.run(c.opts.timeout(),
			chromedp.Click(sel, chromedp.ByQuery),
			chromedp.Sleep(settleWait),
		); err == nil {
			return
		}
	}
	if lastSel != "" {
		c.run(c.opts.timeout(),
			chromedp.SendKeys(lastSel, kb.Enter, chromedp.ByQuery),
			chromedp.Sleep(settleWait),
		)
	}
}

const extractScript = `(() => {
	const out = [];
	for (const el of document.querySelectorAll(%s)) {
		const item = {text: (el.innerText || '').trim(), tag: el.tagName.toLowerCase(), attributes: {}};
		for (const a of ['href', 'src', 'alt', 'title', 'class', 'id']) {
			const v = el.getAttribute(a);
			if (v) item.attributes[a] = v;
		}
		out.push(item);
	}
	return out;
})()`

func (c *Controller) Extract(selectors []string) (*ExtractResult, error) {
	result := &ExtractResult{
		Success:        true,
		Data:           make(map[string][]Element, len(selectors)),
		TotalSelectors: len(selectors),
	}

	for _, sel := range selectors {
		var elements []Element
		js := fmt.Sprintf(extractScript, strconv.Quote(sel))
		if err := c.run(c.opts.timeout(), chromedp.Evaluate(js, &elements)); err != nil {
			if result.Errors == nil {
				result.Errors = make(map[string]string)
			}
			result.Errors[sel] = err.Error()
			continue
		}
		if elements == nil {
			elements = make([]Element, 0)
		}
		result.Data[sel] = elements
		result.SuccessfulExtractions++
	}
	return result, nil
}

func (c *Controller) ClickSequence(selectors []string, waitBetween time.Duration) (*ClickResult, error) {
	result := &ClickResult{
		SuccessfulClicks: make([]string, 0, len(selectors)),
		FailedClicks:     make([]string, 0),
		TotalAttempted:   len(selectors),
	}

	for _, sel := range selectors {
		err := c.run(c.opts.timeout(),
			chromedp.WaitVisible(sel, chromedp.ByQuery),
			chromedp.ScrollIntoView(sel, chromedp.ByQuery),
			chromedp.Sleep(500*time.Millisecond),
			chromedp.Click(sel, chromedp.ByQuery),
			chromedp.Sleep(waitBetween),
		)
		if err != nil {
			result.FailedClicks = append(result.FailedClicks, fmt.Sprintf("%s: %v", sel, err))
			continue
		}
		result.SuccessfulClicks = append(result.SuccessfulClicks, sel)
	}

	result.Success = len(result.SuccessfulClicks) > 0
	return result, nil
}

func (c *Controller) UploadFiles(selector string, files []string) (*UploadResult, error) {
	result := &UploadResult{
		UploadedFiles: make([]string, 0, len(files)),
		FailedFiles:   make([]string, 0),
	}

	if err := c.run(c.opts.timeout(), chromedp.WaitReady(selector, chromedp.ByQuery)); err != nil {
		return nil, fmt.Errorf("file input %s: %w", selector, err)
	}

	// 不存在的文件跳过，不中断整批
	var present []string
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			result.FailedFiles = append(result.FailedFiles, fmt.Sprintf("%s: file not found", f))
			continue
		}
		present = append(present, f)
	}

	if len(present) > 0 {
		err := c.run(c.opts.timeout(), chromedp.SetUploadFiles(selector, present, chromedp.ByQuery))
		if err != nil {
			for _, f := range present {
				result.FailedFiles = append(result.FailedFiles, fmt.Sprintf("%s: %v", f, err))
			}
		} else {
			result.UploadedFiles = append(result.UploadedFiles, present...)
		}
	}

	result.Success = len(result.UploadedFiles) > 0
	return result, nil
}

func (c *Controller) ExecuteScript(script string) ([]byte, error) {
	var out []byte
	if err := c.run(c.opts.timeout(), chromedp.Evaluate(script, &out)); err != nil {
		return nil, fmt.Errorf("javascript execution failed: %w", err)
	}
	return out, nil
}

func (c *Controller) Screenshot(filename string) (*ScreenshotResult, error) {
	if filename == "" {
		filename = fmt.Sprintf("screenshot_%d.png", time.Now().Unix())
	}
	var buf []byte
	if err := c.run(c.opts.timeout(), chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("screenshot failed: %w", err)
	}
	if err := os.WriteFile(filename, buf, 0644); err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(filename)
	if err != nil {
		abs = filename
	}
	return &ScreenshotResult{Success: true, Filename: filename, Path: abs}, nil
}

func (c *Controller) PageSource() (string, error) {
	var src string
	err := c.run(c.opts.timeout(), chromedp.OuterHTML("html", &src, chromedp.ByQuery))
	return src, err
}

func (c *Controller) CurrentURL() (string, error) {
	var url string
	err := c.run(c.opts.timeout(), chromedp.Location(&url))
	return url, err
}
