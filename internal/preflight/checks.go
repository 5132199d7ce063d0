package preflight

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"bookdrop/internal/mirror"
	"bookdrop/internal/services"
)

const remoteCheckTimeout = 10 * time.Second

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckMirror verifies that a mirror answers HTTP through its configured proxy.
func CheckMirror(ctx context.Context, pinger MirrorPinger, ep mirror.Endpoint) Result {
	name := "Mirror " + ep.Name
	checkCtx, cancel := context.WithTimeout(ctx, remoteCheckTimeout)
	defer cancel()

	if err := pinger.Ping(checkCtx, ep.Name); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (%s)", ep.BaseURL, summarizeRemoteError(err))}
	}
	via := "direct"
	if ep.Proxy != "" {
		via = "via proxy"
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (reachable, %s)", ep.BaseURL, via)}
}

// CheckCatalog verifies that the metadata catalog answers HTTP.
func CheckCatalog(ctx context.Context, baseURL string) Result {
	const name = "Catalog"

	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return Result{Name: name, Detail: "missing url"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, remoteCheckTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, base+"/", nil)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("check failed (%v)", err)}
	}
	client := &http.Client{Timeout: remoteCheckTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return Result{Name: name, Detail: summarizeRemoteError(err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return Result{Name: name, Detail: fmt.Sprintf("check failed (%d)", resp.StatusCode)}
	}
	return Result{Name: name, Passed: true, Detail: "Reachable"}
}

// CheckBot verifies the bot token against the Bot API.
func CheckBot(ctx context.Context, bot BotIdentity) Result {
	const name = "Telegram bot"

	checkCtx, cancel := context.WithTimeout(ctx, remoteCheckTimeout)
	defer cancel()

	user, err := bot.GetMe(checkCtx)
	if err != nil {
		if errors.Is(err, services.ErrConfiguration) {
			return Result{Name: name, Detail: "auth failed (invalid bot token)"}
		}
		return Result{Name: name, Detail: summarizeRemoteError(err)}
	}
	if user.Username != "" {
		return Result{Name: name, Passed: true, Detail: "@" + user.Username}
	}
	return Result{Name: name, Passed: true, Detail: user.FirstName}
}

func summarizeRemoteError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, services.ErrTimeout) {
		return "timed out"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timed out"
	}
	return "unreachable: " + err.Error()
}
