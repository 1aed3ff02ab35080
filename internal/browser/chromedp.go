// Package browser renders quiz attempt reports to PDF through a headless
// Chromium instance driven over the DevTools protocol.
package browser

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"github.com/bobmcallan/quiz-archive-worker/internal/common"
	"github.com/bobmcallan/quiz-archive-worker/internal/interfaces"
	"github.com/bobmcallan/quiz-archive-worker/internal/models"
)

// mockAttemptPath is the path, relative to the host base URL, that attempt
// HTML is served from inside the browser. Serving from the host origin avoids
// CORS errors when the page loads scripts and styles from the real host.
const mockAttemptPath = "/mock/attempt"

// Renderer implements report rendering on top of chromedp.
type Renderer struct {
	logger *common.Logger
	proxy  *common.ProxySettings
}

// RendererOption customizes a Renderer.
type RendererOption func(*Renderer)

// WithLogger sets the logger used by the renderer and its sessions.
func WithLogger(logger *common.Logger) RendererOption {
	return func(r *Renderer) {
		r.logger = logger
	}
}

// WithProxy routes browser traffic through the given proxy.
func WithProxy(proxy *common.ProxySettings) RendererOption {
	return func(r *Renderer) {
		r.proxy = proxy
	}
}

// NewRenderer creates a chromedp-backed report renderer.
func NewRenderer(opts ...RendererOption) *Renderer {
	r := &Renderer{
		logger: common.NewDefaultLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewSession launches a browser process for one job. The session must be
// closed to release the browser.
func (r *Renderer) NewSession(ctx context.Context, opts models.RenderOptions) (interfaces.RenderSession, error) {
	width := opts.ViewportWidth
	height := int(float64(width) / (16.0 / 9.0))

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		// CORS errors would otherwise break requireJS module loading on the
		// mocked attempt page.
		chromedp.Flag("disable-web-security", true),
		chromedp.WindowSize(width, height),
	)
	if r.proxy != nil && r.proxy.URL != nil {
		allocOpts = append(allocOpts, chromedp.ProxyServer(r.proxy.URL.String()))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// Start the browser process up front so session errors surface here
	// instead of on the first page render.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	r.logger.Debug().Int("viewport_width", width).Msg("Spawned headless browser")

	return &session{
		renderer:   r,
		opts:       opts,
		browserCtx: browserCtx,
		cancels:    []context.CancelFunc{browserCancel, allocCancel},
	}, nil
}

type session struct {
	renderer   *Renderer
	opts       models.RenderOptions
	browserCtx context.Context
	cancels    []context.CancelFunc
}

// Close shuts down the browser process.
func (s *session) Close() error {
	for _, cancel := range s.cancels {
		cancel()
	}
	s.renderer.logger.Debug().Msg("Destroyed headless browser")
	return nil
}

// RenderPage loads one attempt report in a fresh tab and prints it to PDF.
func (s *session) RenderPage(ctx context.Context, req models.RenderPageRequest) error {
	tabCtx, tabCancel := chromedp.NewContext(s.browserCtx)
	defer tabCancel()

	mockURL := strings.TrimRight(s.opts.BaseURL, "/") + mockAttemptPath
	readySignal := make(chan models.ReportSignal, 8)
	s.interceptRequests(tabCtx, mockURL, req.HTML)
	s.listenConsole(tabCtx, readySignal)

	navCtx, navCancel := context.WithTimeout(tabCtx, time.Duration(s.opts.NavigationTimeoutSec)*time.Second)
	defer navCancel()
	if err := chromedp.Run(navCtx,
		fetch.Enable(),
		chromedp.Navigate(mockURL),
	); err != nil {
		s.renderer.logger.Error().Int("timeout_sec", s.opts.NavigationTimeoutSec).Msg("Page did not load in time. Aborting")
		return fmt.Errorf("failed to load report page: %w", err)
	}

	if s.opts.WaitForReadySignal {
		if err := s.waitForReadySignal(tabCtx, readySignal); err != nil {
			if !s.opts.ContinueAfterReadyTimeout {
				s.renderer.logger.Error().Int("timeout_sec", s.opts.ReadySignalTimeoutSec).Msg("Ready signal not received. Aborting")
				return err
			}
			s.renderer.logger.Warn().Int("timeout_sec", s.opts.ReadySignalTimeoutSec).Msg("Ready signal not received. Continuing")
		}
	} else {
		s.renderer.logger.Debug().Msg("Not waiting for ready signal. Exporting immediately")
	}

	if s.opts.DemoWatermark {
		if err := chromedp.Run(tabCtx, chromedp.Evaluate(demoWatermarkJS, nil)); err != nil {
			return fmt.Errorf("failed to apply demo watermark: %w", err)
		}
	}

	return s.printToPDF(tabCtx, req.PDFPath)
}

// interceptRequests serves the attempt HTML for the mock URL and optionally
// blocks navigation to the host login page.
func (s *session) interceptRequests(tabCtx context.Context, mockURL, html string) {
	loginURL := strings.TrimRight(s.opts.BaseURL, "/") + "/login/"

	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		paused, ok := ev.(*fetch.EventRequestPaused)
		if !ok {
			return
		}

		go func() {
			c := chromedp.FromContext(tabCtx)
			execCtx := cdp.WithExecutor(tabCtx, c.Target)

			switch {
			case paused.Request.URL == mockURL:
				err := fetch.FulfillRequest(paused.RequestID, 200).
					WithResponseHeaders([]*fetch.HeaderEntry{{Name: "Content-Type", Value: "text/html"}}).
					WithBody(base64.StdEncoding.EncodeToString([]byte(html))).
					Do(execCtx)
				if err != nil {
					s.renderer.logger.Debug().Err(err).Msg("Failed to fulfill mocked attempt request")
				}
			case s.opts.PreventRedirectToLogin && isLoginRedirect(loginURL, paused.Request.URL):
				s.renderer.logger.Warn().Str("url", paused.Request.URL).Msg("Blocked redirect to host login page")
				if err := fetch.FailRequest(paused.RequestID, network.ErrorReasonBlockedByClient).Do(execCtx); err != nil {
					s.renderer.logger.Debug().Err(err).Msg("Failed to block login redirect")
				}
			default:
				if err := fetch.ContinueRequest(paused.RequestID).Do(execCtx); err != nil {
					s.renderer.logger.Debug().Err(err).Msg("Failed to continue paused request")
				}
			}
		}()
	})
}

// isLoginRedirect reports whether a request targets a login script under the
// host's /login/ path. Only .php endpoints are blocked, assets served from
// the login directory stay loadable.
func isLoginRedirect(loginURL, requestURL string) bool {
	if !strings.HasPrefix(requestURL, loginURL) {
		return false
	}
	path := requestURL
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	return strings.HasSuffix(path, ".php")
}

// listenConsole forwards report signals logged by the page to the channel.
func (s *session) listenConsole(tabCtx context.Context, signals chan<- models.ReportSignal) {
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		call, ok := ev.(*runtime.EventConsoleAPICalled)
		if !ok || call.Type != runtime.APITypeLog {
			return
		}
		for _, arg := range call.Args {
			var text string
			if err := json.Unmarshal(arg.Value, &text); err != nil {
				continue
			}
			if strings.HasPrefix(text, "x-quiz-archiver-") {
				s.renderer.logger.Debug().Str("signal", text).Msg("Received report signal")
				select {
				case signals <- models.ReportSignal(text):
				default:
				}
			}
		}
	})
}

// waitForReadySignal injects the readiness probe and waits for the page to
// report that it is fully rendered.
func (s *session) waitForReadySignal(tabCtx context.Context, signals <-chan models.ReportSignal) error {
	s.renderer.logger.Debug().Msg("Injecting JS to wait for page rendering")
	if err := chromedp.Run(tabCtx, chromedp.Evaluate(readySignalJS, nil)); err != nil {
		return fmt.Errorf("failed to inject ready signal probe: %w", err)
	}

	timeout := time.NewTimer(time.Duration(s.opts.ReadySignalTimeoutSec) * time.Second)
	defer timeout.Stop()

	for {
		select {
		case signal := <-signals:
			if signal == models.SignalReadyForExport {
				return nil
			}
		case <-timeout.C:
			return fmt.Errorf("ready signal not received after %d seconds", s.opts.ReadySignalTimeoutSec)
		case <-tabCtx.Done():
			return tabCtx.Err()
		}
	}
}

// printToPDF exports the current page using the session's paper format and
// margins.
func (s *session) printToPDF(tabCtx context.Context, pdfPath string) error {
	width, height := s.opts.PaperFormat.Dimensions()
	margin, err := marginInches(s.opts.PageMargin)
	if err != nil {
		return err
	}

	var pdf []byte
	err = chromedp.Run(tabCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		buf, _, err := page.PrintToPDF().
			WithPrintBackground(true).
			WithDisplayHeaderFooter(false).
			WithPaperWidth(width).
			WithPaperHeight(height).
			WithMarginTop(margin).
			WithMarginRight(margin).
			WithMarginBottom(margin).
			WithMarginLeft(margin).
			Do(ctx)
		if err != nil {
			return err
		}
		pdf = buf
		return nil
	}))
	if err != nil {
		return fmt.Errorf("failed to print page to PDF: %w", err)
	}

	if err := os.WriteFile(pdfPath, pdf, 0644); err != nil {
		return fmt.Errorf("failed to write PDF file: %w", err)
	}
	return nil
}

// marginInches converts a CSS-style margin value ("5mm", "0.5in", "48px")
// into the inch unit expected by the print call.
func marginInches(margin string) (float64, error) {
	margin = strings.TrimSpace(margin)

	unit := "px"
	value := margin
	for _, suffix := range []string{"mm", "cm", "in", "px"} {
		if strings.HasSuffix(margin, suffix) {
			unit = suffix
			value = strings.TrimSuffix(margin, suffix)
			break
		}
	}

	n, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid page margin %q", margin)
	}

	switch unit {
	case "mm":
		return n / 25.4, nil
	case "cm":
		return n / 2.54, nil
	case "in":
		return n, nil
	default:
		return n / 96, nil
	}
}

var _ interfaces.ReportRenderer = (*Renderer)(nil)
