package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/talkback/internal/console"
	"github.com/MrWong99/talkback/internal/health"
)

const probeTimeout = 5 * time.Second

func NewDoctorCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check prerequisites",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r := console.NewRenderer(rt.deps.Out)
			ok := true

			if rt.haveFile {
				r.Check("Config", true, rt.configPath)
			} else {
				r.Check("Config", true, "no file, using defaults")
			}

			source := string(rt.cfg.Client.Capture.Source)
			if sink, err := rt.deps.NewSink(rt.cfg.Client.Capture, rt.log); err != nil {
				r.Check("Capture ("+source+")", false, err.Error())
				ok = false
			} else if c, isChecker := sink.(sinkChecker); isChecker {
				if err := c.Check(); err != nil {
					r.Check("Capture ("+source+")", false, err.Error())
					ok = false
				} else {
					r.Check("Capture ("+source+")", true, "installed")
				}
			} else {
				r.Check("Capture ("+source+")", true, "available")
			}
			r.Check("Microphone", true, "permission will be requested on first recording")

			endpoint := strings.TrimRight(rt.endpoint(rt.cfg), "/")
			if endpoint == "" {
				r.Check("Endpoint", false, "not set. Set "+EndpointEnv+" or client.endpoint")
				ok = false
			} else if !probeServer(cmd.Context(), rt.deps.HTTPClient, r, endpoint) {
				ok = false
			}

			if ok {
				r.Success("All prerequisites met. Ready to record!")
			} else {
				r.Warning("Some prerequisites are missing.")
			}
			return nil
		},
	}
}

// probeServer checks liveness and readiness of the talkbackd at endpoint.
func probeServer(ctx context.Context, hc *http.Client, r *console.Renderer, endpoint string) bool {
	live, err := getHealth(ctx, hc, endpoint+"/healthz")
	if err != nil {
		r.Check("Server", false, fmt.Sprintf("%s: %v", endpoint, err))
		return false
	}
	detail := endpoint
	if live.Version != "" {
		detail += " (talkbackd " + live.Version + ")"
	}
	r.Check("Server", true, detail)

	ready, err := getHealth(ctx, hc, endpoint+"/readyz")
	switch {
	case err != nil:
		r.Check("Providers", false, err.Error())
		return false
	case ready.Status != "ok":
		var failing []string
		for _, name := range slices.Sorted(maps.Keys(ready.Checks)) {
			if v := ready.Checks[name]; v != "ok" {
				failing = append(failing, name+" "+v)
			}
		}
		r.Check("Providers", false, strings.Join(failing, "; "))
		return false
	default:
		r.Check("Providers", true, "ready")
		return true
	}
}

// getHealth fetches and decodes a health probe. A 503 from /readyz still
// carries a body and is not an error here.
func getHealth(ctx context.Context, hc *http.Client, url string) (health.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	var res health.Response
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return res, err
	}
	resp, err := hc.Do(req)
	if err != nil {
		return res, err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return res, fmt.Errorf("HTTP %d: decode body: %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		return res, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return res, nil
}
