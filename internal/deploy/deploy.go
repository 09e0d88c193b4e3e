// Package deploy publishes built sites to Vercel. The dist tree is
// uploaded inline as base64 files against the v13 deployments API.
package deploy

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/R1cK-ChaN/hersite/internal/events"
	"github.com/R1cK-ChaN/hersite/internal/httpkit"
)

const defaultAPIURL = "https://api.vercel.com/v13/deployments"

// ErrNoToken is returned when no deploy token is configured.
var ErrNoToken = errors.New("VERCEL_TOKEN not set, deployment disabled")

// Deployer uploads built sites to Vercel.
type Deployer struct {
	token       string
	projectName string
	apiURL      string
	bus         *events.Bus
	httpClient  *http.Client
	logger      *slog.Logger
}

type vercelFile struct {
	File     string `json:"file"`
	Data     string `json:"data"`
	Encoding string `json:"encoding"`
}

type vercelRequest struct {
	Name            string       `json:"name"`
	Files           []vercelFile `json:"files"`
	Target          string       `json:"target"`
	ProjectSettings struct {
		Framework *string `json:"framework"`
	} `json:"projectSettings"`
}

type vercelResponse struct {
	URL        string   `json:"url"`
	Alias      []string `json:"alias"`
	ReadyState string   `json:"readyState"`
}

// New creates a deployer. token may be empty; Deploy then fails with
// ErrNoToken. bus may be nil.
func New(token, projectName string, timeout time.Duration, bus *events.Bus, logger *slog.Logger) *Deployer {
	if logger == nil {
		logger = slog.Default()
	}
	if projectName == "" {
		projectName = "hersite"
	}
	return &Deployer{
		token:       token,
		projectName: projectName,
		apiURL:      defaultAPIURL,
		bus:         bus,
		logger:      logger.With("component", "deploy"),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(timeout),
			httpkit.WithRetry(2, time.Second),
		),
	}
}

// Deploy uploads the dist tree and returns the public site URL,
// publishing deploy:status events along the way.
func (d *Deployer) Deploy(ctx context.Context, userID, distPath string) (string, error) {
	if d.token == "" {
		d.status(userID, "failed", "", ErrNoToken.Error())
		return "", ErrNoToken
	}

	d.status(userID, "deploying", "", "")

	files, err := collectFiles(distPath)
	if err != nil {
		d.status(userID, "failed", "", err.Error())
		return "", err
	}

	req := vercelRequest{
		Name:   d.projectName,
		Files:  files,
		Target: "production",
	}
	body, err := json.Marshal(req)
	if err != nil {
		d.status(userID, "failed", "", err.Error())
		return "", fmt.Errorf("marshal deployment: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", d.apiURL, bytes.NewReader(body))
	if err != nil {
		d.status(userID, "failed", "", err.Error())
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+d.token)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(httpReq)
	if err != nil {
		d.status(userID, "failed", "", err.Error())
		return "", fmt.Errorf("deploy request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody := httpkit.ReadErrorBody(resp.Body, 4096)
		msg := fmt.Sprintf("Vercel API error %d: %s", resp.StatusCode, errBody)
		d.status(userID, "failed", "", msg)
		return "", errors.New(msg)
	}

	var result vercelResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		d.status(userID, "failed", "", err.Error())
		return "", fmt.Errorf("decode deployment response: %w", err)
	}

	url := siteURL(result)
	d.status(userID, "deployed", url, "")
	d.logger.Info("deployed", "user", userID, "url", url, "files", len(files))
	return url, nil
}

func siteURL(r vercelResponse) string {
	if len(r.Alias) > 0 {
		return "https://" + r.Alias[0]
	}
	if r.URL != "" {
		return "https://" + r.URL
	}
	return ""
}

func (d *Deployer) status(userID, status, url, errMsg string) {
	data := map[string]any{"status": status}
	if url != "" {
		data["siteUrl"] = url
	}
	if errMsg != "" {
		data["error"] = errMsg
	}
	d.bus.Publish(events.New(userID, events.KindDeployStatus, data))
}

func collectFiles(distPath string) ([]vercelFile, error) {
	var files []vercelFile
	err := filepath.WalkDir(distPath, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(distPath, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		files = append(files, vercelFile{
			File:     filepath.ToSlash(rel),
			Data:     base64.StdEncoding.EncodeToString(data),
			Encoding: "base64",
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("collect dist files: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("dist directory %s is empty", distPath)
	}
	return files, nil
}
