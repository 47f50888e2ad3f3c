package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// apiError mirrors the Picketline error detail.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// action is the subset of a labor action the tools print.
type action struct {
	ID          string   `json:"id"`
	Company     string   `json:"company"`
	Type        string   `json:"type"`
	Status      string   `json:"status"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Locations   []string `json:"locations"`
	URL         string   `json:"url"`
}

// checkResponse mirrors the Picketline check API response.
type checkResponse struct {
	Success  bool      `json:"success"`
	URL      string    `json:"url"`
	Matched  bool      `json:"matched"`
	Mode     string    `json:"mode"`
	BlockURL string    `json:"block_url"`
	Action   *action   `json:"action"`
	Markdown string    `json:"markdown"`
	Error    *apiError `json:"error"`
}

// rewriteResponse mirrors the Picketline rewrite API response.
type rewriteResponse struct {
	Success     bool    `json:"success"`
	URL         string  `json:"url"`
	FinalURL    string  `json:"final_url"`
	Blocked     bool    `json:"blocked"`
	RedirectURL string  `json:"redirect_url"`
	Action      *action `json:"action"`
	HTML        string  `json:"html"`
	Stats       struct {
		Matched        bool `json:"matched"`
		BannerInserted bool `json:"banner_inserted"`
		AdsFound       int  `json:"ads_found"`
		AdsReplaced    int  `json:"ads_replaced"`
		LogosPatched   int  `json:"logos_patched"`
	} `json:"stats"`
	Error *apiError `json:"error"`
}

// actionsResponse mirrors the Picketline actions API response.
type actionsResponse struct {
	Success bool     `json:"success"`
	Actions []action `json:"actions"`
	Count   int      `json:"count"`
	Status  struct {
		Connection string `json:"connection_status"`
		Source     string `json:"source"`
	} `json:"status"`
	Error *apiError `json:"error"`
}

func main() {
	apiURL := os.Getenv("PICKET_API_URL")
	if apiURL == "" {
		apiURL = "http://127.0.0.1:8080"
	}
	apiKey := os.Getenv("PICKET_API_KEY")
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "PICKET_API_KEY is required")
		os.Exit(1)
	}

	s := server.NewMCPServer(
		"picketline",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	checkURLTool := mcp.NewTool("check_url",
		mcp.WithDescription("Check whether a web address belongs to a company with an active labor action (strike, boycott, picket). Returns the action details when it does."),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("The URL to check"),
		),
	)
	s.AddTool(checkURLTool, handleCheckURL(apiURL, apiKey))

	rewritePageTool := mcp.NewTool("rewrite_page",
		mcp.WithDescription("Fetch a web page and rewrite it for a picket line: a labor action banner on matched pages and strike cards in place of ads. Returns the rewrite summary and optionally the HTML."),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("The URL of the page to rewrite"),
		),
		mcp.WithString("fetch_mode",
			mcp.Description("How to fetch the page: 'http' (default, static), 'browser' (headless Chrome with real layout) or 'auto'"),
			mcp.Enum("http", "browser", "auto"),
		),
		mcp.WithString("mode",
			mcp.Description("Display mode for matched pages: 'banner' or 'block'"),
			mcp.Enum("banner", "block"),
		),
		mcp.WithBoolean("include_html",
			mcp.Description("Include the rewritten HTML in the result (default: false)"),
		),
	)
	s.AddTool(rewritePageTool, handleRewritePage(apiURL, apiKey))

	listActionsTool := mcp.NewTool("list_actions",
		mcp.WithDescription("List the labor actions currently on the picket line, optionally filtered by company name."),
		mcp.WithString("company",
			mcp.Description("Case-insensitive substring of the company name"),
		),
	)
	s.AddTool(listActionsTool, handleListActions(apiURL, apiKey))

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

// apiDo sends a request to the Picketline API and returns the response body.
func apiDo(ctx context.Context, client *http.Client, method, apiURL, apiKey, path string, payload any) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, apiURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-API-Key", apiKey)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}

func errorText(e *apiError, fallback string) string {
	if e == nil {
		return fallback
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func writeAction(sb *strings.Builder, a *action) {
	fmt.Fprintf(sb, "%s: %s (%s, %s)\n", a.Company, a.Title, a.Type, a.Status)
	if a.Description != "" {
		fmt.Fprintf(sb, "%s\n", a.Description)
	}
	if len(a.Locations) > 0 {
		fmt.Fprintf(sb, "Locations: %s\n", strings.Join(a.Locations, ", "))
	}
	if a.URL != "" {
		fmt.Fprintf(sb, "More info: %s\n", a.URL)
	}
}

func handleCheckURL(apiURL, apiKey string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 30 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		url, err := request.RequireString("url")
		if err != nil {
			return mcp.NewToolResultError("url is required"), nil
		}

		respBody, err := apiDo(ctx, client, http.MethodPost, apiURL, apiKey, "/api/v1/check", map[string]any{
			"url":    url,
			"format": "markdown",
		})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("check request failed: %v", err)), nil
		}

		var checkResp checkResponse
		if err := json.Unmarshal(respBody, &checkResp); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse response: %v", err)), nil
		}
		if !checkResp.Success {
			return mcp.NewToolResultError(errorText(checkResp.Error, "check failed")), nil
		}
		if !checkResp.Matched {
			return mcp.NewToolResultText(fmt.Sprintf("No active labor action for %s.", url)), nil
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "Active labor action for %s\n\n", url)
		if checkResp.Markdown != "" {
			sb.WriteString(checkResp.Markdown)
			sb.WriteString("\n")
		} else if checkResp.Action != nil {
			writeAction(&sb, checkResp.Action)
		}
		if checkResp.BlockURL != "" {
			fmt.Fprintf(&sb, "\nBlock page: %s\n", checkResp.BlockURL)
		}
		return mcp.NewToolResultText(sb.String()), nil
	}
}

func handleRewritePage(apiURL, apiKey string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 150 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		url, err := request.RequireString("url")
		if err != nil {
			return mcp.NewToolResultError("url is required"), nil
		}

		payload := map[string]any{"url": url}
		if fm := request.GetString("fetch_mode", ""); fm != "" {
			payload["fetch_mode"] = fm
		}
		if mode := request.GetString("mode", ""); mode != "" {
			payload["mode"] = mode
		}

		respBody, err := apiDo(ctx, client, http.MethodPost, apiURL, apiKey, "/api/v1/rewrite", payload)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("rewrite request failed: %v", err)), nil
		}

		var rw rewriteResponse
		if err := json.Unmarshal(respBody, &rw); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse response: %v", err)), nil
		}
		if !rw.Success {
			return mcp.NewToolResultError(errorText(rw.Error, "rewrite failed")), nil
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "Source: %s\n", rw.URL)
		if rw.FinalURL != "" && rw.FinalURL != rw.URL {
			fmt.Fprintf(&sb, "Final URL: %s\n", rw.FinalURL)
		}
		if rw.Action != nil {
			sb.WriteString("\n")
			writeAction(&sb, rw.Action)
		}
		if rw.Blocked {
			fmt.Fprintf(&sb, "\nBlocked: redirect to %s\n", rw.RedirectURL)
			return mcp.NewToolResultText(sb.String()), nil
		}
		fmt.Fprintf(&sb, "\nBanner inserted: %t\nAds found: %d\nAds replaced: %d\nLogos patched: %d\n",
			rw.Stats.BannerInserted, rw.Stats.AdsFound, rw.Stats.AdsReplaced, rw.Stats.LogosPatched)

		if request.GetBool("include_html", false) {
			sb.WriteString("\n---\n")
			sb.WriteString(rw.HTML)
		}
		return mcp.NewToolResultText(sb.String()), nil
	}
}

func handleListActions(apiURL, apiKey string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 30 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		respBody, err := apiDo(ctx, client, http.MethodGet, apiURL, apiKey, "/api/v1/actions", nil)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("actions request failed: %v", err)), nil
		}

		var list actionsResponse
		if err := json.Unmarshal(respBody, &list); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse response: %v", err)), nil
		}
		if !list.Success {
			return mcp.NewToolResultError(errorText(list.Error, "listing actions failed")), nil
		}

		filter := strings.ToLower(request.GetString("company", ""))
		var sb strings.Builder
		n := 0
		for i := range list.Actions {
			a := &list.Actions[i]
			if filter != "" && !strings.Contains(strings.ToLower(a.Company), filter) {
				continue
			}
			n++
			fmt.Fprintf(&sb, "--- [%d] ---\n", n)
			writeAction(&sb, a)
			sb.WriteString("\n")
		}
		header := fmt.Sprintf("%d labor action(s) (upstream %s, source %s)\n\n", n, list.Status.Connection, list.Status.Source)
		return mcp.NewToolResultText(header + sb.String()), nil
	}
}
