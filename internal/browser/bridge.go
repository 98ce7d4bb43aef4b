// Package browser drives a headless Chrome to read the YouTube live chat
// page when no Data API key is available.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/chromedp/chromedp"
)

const userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// Bridge manages headless Chrome instances.
type Bridge struct {
	profileDir string
	headless   bool
	logger     *slog.Logger
}

// BridgeConfig holds configuration for the browser bridge.
type BridgeConfig struct {
	ProfileDir string // Chrome user data directory (persists the YouTube session)
	Headless   bool
	Logger     *slog.Logger
}

func NewBridge(cfg BridgeConfig) *Bridge {
	if cfg.ProfileDir == "" {
		cfg.ProfileDir = DefaultProfileDir()
	}
	return &Bridge{
		profileDir: cfg.ProfileDir,
		headless:   cfg.Headless,
		logger:     cfg.Logger,
	}
}

// DefaultProfileDir is ~/.ltlive/chrome-profile.
func DefaultProfileDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".ltlive", "chrome-profile")
}

// ProfileDir returns the Chrome user data directory in use.
func (b *Bridge) ProfileDir() string { return b.profileDir }

func (b *Bridge) allocatorOptions(headless bool) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserDataDir(b.profileDir),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("exclude-switches", "enable-automation"),
		chromedp.Flag("mute-audio", true),
		chromedp.UserAgent(userAgent),
	)
	if headless {
		return append(opts, chromedp.Headless)
	}
	return append(opts, chromedp.Flag("headless", false))
}

// NewContext starts Chrome on the bridge profile. Cancel releases both the
// tab and the browser process.
func (b *Bridge) NewContext(parent context.Context) (context.Context, context.CancelFunc) {
	if err := os.MkdirAll(b.profileDir, 0o755); err != nil {
		b.logger.Error("failed to create profile dir", "dir", b.profileDir, "err", err)
	}
	return b.launch(parent, b.headless)
}

func (b *Bridge) launch(parent context.Context, headless bool) (context.Context, context.CancelFunc) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(parent, b.allocatorOptions(headless)...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)
	return tabCtx, func() {
		tabCancel()
		allocCancel()
	}
}

// Login opens a visible window on url and blocks until ctx is done, so the
// operator can sign in. Cookies stay in the profile for the live chat source.
func (b *Bridge) Login(ctx context.Context, url string) error {
	if err := os.MkdirAll(b.profileDir, 0o755); err != nil {
		return fmt.Errorf("create profile dir: %w", err)
	}

	tabCtx, cancel := b.launch(ctx, false)
	defer cancel()

	b.logger.Info("opening browser for login", "url", url)
	if err := chromedp.Run(tabCtx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate to login page: %w", err)
	}
	b.logger.Info("sign in, then press Ctrl+C to keep the session")

	<-ctx.Done()
	b.logger.Info("login session saved", "profile", b.profileDir)
	return nil
}
