package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/animus-labs/stage-retry/internal/platform/env"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2/clientcredentials"
)

type submitOptions struct {
	server      string
	projectID   string
	pipelineID  string
	executionID string
	stages      []string
	runAll      bool
	timeout     time.Duration
}

// tokenConfig reads RETRYCTL_* client credentials. An empty client id means
// requests are sent without a token.
func tokenConfig() (*clientcredentials.Config, error) {
	clientID := strings.TrimSpace(env.String("RETRYCTL_CLIENT_ID", ""))
	if clientID == "" {
		return nil, nil
	}
	tokenURL := strings.TrimSpace(env.String("RETRYCTL_TOKEN_URL", ""))
	if tokenURL == "" {
		return nil, errors.New("RETRYCTL_TOKEN_URL is required when RETRYCTL_CLIENT_ID is set")
	}
	return &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: env.String("RETRYCTL_CLIENT_SECRET", ""),
		TokenURL:     tokenURL,
		Scopes:       env.CSV("RETRYCTL_SCOPES", []string{"openid"}),
	}, nil
}

func (a *app) submitCmd() *cobra.Command {
	var opts submitOptions
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Ask a running retry planner to retry an execution",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			client := &http.Client{Timeout: opts.timeout}
			creds, err := tokenConfig()
			if err != nil {
				return err
			}
			if creds != nil {
				client = creds.Client(ctx)
				a.logger.Debug("using client credentials", "client_id", creds.ClientID)
			}
			return a.submit(ctx, client, opts)
		},
	}
	cmd.Flags().StringVar(&opts.server, "server", env.String("RETRYCTL_SERVER", "http://localhost:8086"), "Retry planner base URL")
	cmd.Flags().StringVar(&opts.projectID, "project", "", "Project id")
	cmd.Flags().StringVar(&opts.pipelineID, "pipeline", "", "Pipeline id")
	cmd.Flags().StringVar(&opts.executionID, "execution", "", "Plan execution id to retry")
	cmd.Flags().StringSliceVar(&opts.stages, "stages", nil, "Stage identifiers to retry")
	cmd.Flags().BoolVar(&opts.runAll, "run-all", false, "Retry the given stages even if they succeeded")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "Request timeout")
	for _, name := range []string{"project", "pipeline", "execution", "stages"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func (a *app) submit(ctx context.Context, client *http.Client, opts submitOptions) error {
	endpoint, err := url.JoinPath(opts.server,
		"projects", opts.projectID,
		"pipelines", opts.pipelineID,
		"executions", opts.executionID,
		"retry",
	)
	if err != nil {
		return fmt.Errorf("build url: %w", err)
	}
	body, err := json.Marshal(map[string]any{
		"stage_identifiers": opts.stages,
		"run_all_stages":    opts.runAll,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	a.logger.Info("submitting retry", "url", endpoint, "stages", opts.stages)
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("submit retry: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if err := a.writeOutput(raw); err != nil {
		return err
	}
	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("retry planner returned %s", resp.Status)
	}
	return nil
}
