package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	hrhttp "github.com/Strob0t/hookrelay/internal/adapter/http"
	"github.com/Strob0t/hookrelay/internal/config"
	"github.com/Strob0t/hookrelay/internal/logger"
)

// maxHookInput bounds what the adapter reads from stdin.
const maxHookInput = 4 << 20

const continueResponse = `{"continue":true}`

func newHookCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "hook",
		Short: "Forward one hook event from stdin to the relay",
		Long: `Reads one JSON event from stdin and posts it to the relay's ingest
endpoint. Always prints {"continue":true} and exits 0 so the host tool is
never blocked, even when the relay is down.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Defaults()
			if loaded, err := config.LoadFrom(*configPath); err == nil {
				cfg = *loaded
			}
			// stdout belongs to the host tool.
			log, closer := logger.NewWithWriter(cfg.Logging, cmd.ErrOrStderr())
			defer closer.Close()

			h := hookForwarder{
				cfg:            cfg.Hook,
				client:         http.DefaultClient,
				processContext: strconv.Itoa(os.Getppid()),
				log:            log,
			}
			if wd, err := os.Getwd(); err == nil {
				h.cwd = wd
			}
			h.forward(cmd.Context(), cmd.InOrStdin(), stdinIsTerminal())
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), continueResponse)
			return nil
		},
	}
}

func stdinIsTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

type hookForwarder struct {
	cfg            config.Hook
	client         *http.Client
	processContext string
	cwd            string
	log            *slog.Logger
}

// forward posts the event read from in. Every failure is logged and
// swallowed. Nothing is read when stdin is an interactive terminal.
func (h hookForwarder) forward(ctx context.Context, in io.Reader, interactive bool) {
	if interactive {
		h.log.Debug("stdin is a terminal, nothing to forward")
		return
	}
	body, err := io.ReadAll(io.LimitReader(in, maxHookInput))
	if err != nil {
		h.log.Warn("read hook input", "error", err)
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return
	}

	timeout := h.cfg.Timeout
	if timeout <= 0 {
		timeout = time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.cfg.URL, bytes.NewReader(body))
	if err != nil {
		h.log.Warn("build relay request", "url", h.cfg.URL, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(hrhttp.HeaderProcessContext, h.processContext)
	if h.cwd != "" {
		req.Header.Set(hrhttp.HeaderCwd, h.cwd)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		h.log.Debug("relay unreachable", "url", h.cfg.URL, "error", err)
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		h.log.Warn("relay rejected event", "status", resp.StatusCode)
	}
}
