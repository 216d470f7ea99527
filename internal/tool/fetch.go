package tool

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/kazz187/taskforge/internal/sandbox"
	"github.com/kazz187/taskforge/pkg/ferr"
)

func (d *Dispatcher) fetch(ctx context.Context, req *ActionRequest, workspace string) (*sandbox.ActionResult, error) {
	rawURL, err := requireParam(req, "url")
	if err != nil {
		return nil, err
	}
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, ferr.NewError(ferr.InvalidArgument,
			fmt.Sprintf("fetch requires an http(s) url, got %q", rawURL), err)
	}

	handler := func(ctx context.Context) (string, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return "", err
		}
		resp, err := d.httpClient.Do(httpReq)
		if err != nil {
			return "", err
		}
		defer resp.Body.Close()

		// Read one byte past the cap so the executor flags truncation.
		limit := int64(d.executor.OutputLimit())
		body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("HTTP %d %s\n\n%s", resp.StatusCode, resp.Header.Get("Content-Type"), body), nil
	}
	return d.executor.Execute(ctx, &sandbox.ExecRequest{
		Tool:      req.Tool,
		Targets:   []string{rawURL},
		Approved:  req.Approved,
		Workspace: workspace,
		Handler:   handler,
	})
}
