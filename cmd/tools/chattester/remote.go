package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
)

var baseURL string

var remoteCmd = &cobra.Command{
	Use:   "remote",
	Short: "通过 HTTP 调用正在运行的服务 (POST /api/chat)",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := &http.Client{}
		endpoint := strings.TrimRight(baseURL, "/") + "/api/chat"
		return runScript(cmd, func(ctx context.Context, message, id string) (string, string, []byte, error) {
			return postTurn(ctx, client, endpoint, message, id)
		})
	},
}

func init() {
	remoteCmd.Flags().StringVar(&baseURL, "url", "http://localhost:8080", "服务地址")
}

func postTurn(ctx context.Context, client *http.Client, endpoint, message, id string) (string, string, []byte, error) {
	payload, err := json.Marshal(map[string]string{"message": message, "session_id": id})
	if err != nil {
		return "", "", nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", "", nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return "", "", nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return "", "", nil, fmt.Errorf("status %d: %s", resp.StatusCode, gjson.GetBytes(body, "error").String())
	}

	parsed := gjson.ParseBytes(body)
	return parsed.Get("response").String(), parsed.Get("session_id").String(), []byte(parsed.Get("context").Raw), nil
}

// summarize 把上下文压缩成一行，便于肉眼比对。
func summarize(raw []byte) string {
	ctx := gjson.ParseBytes(raw)
	parts := []string{
		"intent=" + ctx.Get("intent").String(),
		"step=" + ctx.Get("dialog_step").String(),
		fmt.Sprintf("results=%d", ctx.Get("search_count").Int()),
		fmt.Sprintf("turns=%d", ctx.Get("conversation_length").Int()),
	}
	if cond := ctx.Get("condition").String(); cond != "" {
		parts = append(parts, "condition="+cond)
	}
	return strings.Join(parts, " ")
}
