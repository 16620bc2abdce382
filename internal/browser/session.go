package browser

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/alaotach/foxxy-ai/internal/config"
)

// Session drives a single Chrome tab over the DevTools Protocol. All DOM
// access in the repository goes through it. Methods are serialized with a
// mutex; the loop is strictly sequential, the mutex only guards against a
// misbehaving caller.
type Session struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc
	ctx         context.Context
	cancel      context.CancelFunc

	cfg    config.BrowserConfig
	logger *zap.Logger
	client *http.Client

	mu sync.Mutex
}

var _ Driver = (*Session)(nil)

// NewSession launches the browser process and verifies it is responsive.
func NewSession(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("browser")

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.WindowSize(int(cfg.ViewportWidth), int(cfg.ViewportHeight)),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	if cfg.ProxyURL != "" {
		opts = append(opts, chromedp.ProxyServer(cfg.ProxyURL))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			logger.Debug(fmt.Sprintf(format, args...))
		}),
	)

	s := &Session{
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		ctx:         tabCtx,
		cancel:      tabCancel,
		cfg:         cfg,
		logger:      logger,
		client:      &http.Client{Timeout: 2 * time.Minute},
	}

	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	logger.Info("Browser session started.",
		zap.Bool("headless", cfg.Headless),
		zap.Int64("viewport_width", cfg.ViewportWidth),
		zap.Int64("viewport_height", cfg.ViewportHeight))
	return s, nil
}

// Navigate issues the navigation and returns as soon as the browser accepts
// it. Waiting for load would deadlock against pages that never finish
// loading; the stability detector owns readiness.
func (s *Session) Navigate(ctx context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Debug("Navigating.", zap.String("url", url))

	runCtx := s.ctx
	if s.cfg.NavigationTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, s.cfg.NavigationTimeout)
		defer cancel()
	}

	return chromedp.Run(runCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, _, errorText, err := page.Navigate(url).Do(ctx)
		if err != nil {
			return err
		}
		if errorText != "" {
			return fmt.Errorf("navigation to %s failed: %s", url, errorText)
		}
		return nil
	}))
}

func (s *Session) PageInfo(ctx context.Context) (PageInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var info PageInfo
	if err := chromedp.Run(s.ctx,
		chromedp.Location(&info.URL),
		chromedp.Title(&info.Title),
	); err != nil {
		return PageInfo{}, fmt.Errorf("failed to read page info: %w", err)
	}
	return info, nil
}

func (s *Session) ViewportSize() (int64, int64) {
	return s.cfg.ViewportWidth, s.cfg.ViewportHeight
}

func (s *Session) CaptureScreenshot(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var buf []byte
	if err := chromedp.Run(s.ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("screenshot failed: %w", err)
	}
	return buf, nil
}

func (s *Session) Evaluate(ctx context.Context, expression string, out interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return chromedp.Run(s.ctx, chromedp.Evaluate(expression, out))
}

func (s *Session) Click(ctx context.Context, x, y float64, button MouseButton) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cdpButton := input.Left
	if button == MouseRight {
		cdpButton = input.Right
	}

	s.logger.Debug("Dispatching click.",
		zap.Float64("x", x), zap.Float64("y", y), zap.String("button", string(button)))

	return chromedp.Run(s.ctx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			return input.DispatchMouseEvent(input.MousePressed, x, y).
				WithButton(cdpButton).WithClickCount(1).Do(ctx)
		}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return input.DispatchMouseEvent(input.MouseReleased, x, y).
				WithButton(cdpButton).WithClickCount(1).Do(ctx)
		}),
	)
}

func (s *Session) TypeText(ctx context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return chromedp.Run(s.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		for _, r := range text {
			if err := input.DispatchKeyEvent(input.KeyChar).
				WithText(string(r)).Do(ctx); err != nil {
				return fmt.Errorf("key dispatch for %q failed: %w", r, err)
			}
		}
		return nil
	}))
}

func (s *Session) ScrollBy(ctx context.Context, deltaX, deltaY float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	centerX := float64(s.cfg.ViewportWidth) / 2
	centerY := float64(s.cfg.ViewportHeight) / 2

	return chromedp.Run(s.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return input.DispatchMouseEvent(input.MouseWheel, centerX, centerY).
			WithDeltaX(deltaX).
			WithDeltaY(deltaY).Do(ctx)
	}))
}

// DownloadFile fetches the resource out-of-band. The browser tab never
// handles the download itself; the Go process owns filesystem permissions.
func (s *Session) DownloadFile(ctx context.Context, url string) (string, error) {
	if err := os.MkdirAll(s.cfg.DownloadDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create download dir: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("invalid download url %q: %w", url, err)
	}
	if s.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", s.cfg.UserAgent)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("download of %s returned status %d", url, resp.StatusCode)
	}

	name := uuid.NewString() + downloadExtension(url, resp.Header.Get("Content-Type"))
	dest := filepath.Join(s.cfg.DownloadDir, name)

	f, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("failed to create download file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, resp.Body); err != nil {
		os.Remove(dest)
		return "", fmt.Errorf("failed to write download: %w", err)
	}

	s.logger.Info("Downloaded file.", zap.String("url", url), zap.String("path", dest))
	return dest, nil
}

func downloadExtension(url, contentType string) string {
	if ext := path.Ext(strings.Split(path.Base(url), "?")[0]); ext != "" && len(ext) <= 5 {
		return ext
	}
	switch {
	case strings.Contains(contentType, "image/png"):
		return ".png"
	case strings.Contains(contentType, "image/jpeg"):
		return ".jpg"
	case strings.Contains(contentType, "image/gif"):
		return ".gif"
	case strings.Contains(contentType, "image/webp"):
		return ".webp"
	default:
		return ".bin"
	}
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Info("Closing browser session.")
	s.cancel()
	s.allocCancel()
	return nil
}
