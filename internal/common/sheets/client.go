// Package sheets is the client for the spreadsheet-backed table service: an
// Apps Script web app exposing fetch, insert, updateCell and uploadFile.
package sheets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	httpclient "enquiry-workers/internal/common/http"
	"enquiry-workers/internal/common/logger"
	"enquiry-workers/internal/common/metrics"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrRemoteUnreachable = errors.New("REMOTE_UNREACHABLE")
	ErrRemoteRejected    = errors.New("REMOTE_REJECTED")
)

const (
	actionFetch      = "fetch"
	actionInsert     = "insert"
	actionUpdateCell = "updateCell"
	actionUploadFile = "uploadFile"
)

type Config struct {
	BaseURL   string
	Timeout   time.Duration
	HeaderRow int
}

type Client struct {
	baseURL   string
	headerRow int
	http      *httpclient.Client
	tracer    trace.Tracer
	logger    logger.Logger
}

type response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	FileURL string          `json:"fileUrl,omitempty"`
	Error   string          `json:"error,omitempty"`
	Message string          `json:"message,omitempty"`
}

func (r *response) errorMessage() string {
	if r.Error != "" {
		return r.Error
	}
	if r.Message != "" {
		return r.Message
	}
	return "unknown error"
}

func NewClient(cfg Config, log logger.Logger) *Client {
	headerRow := cfg.HeaderRow
	if headerRow < 1 {
		headerRow = DefaultHeaderRow
	}
	return &Client{
		baseURL:   cfg.BaseURL,
		headerRow: headerRow,
		http:      httpclient.NewClient(cfg.Timeout),
		tracer:    otel.Tracer("enquiry-workers/sheets"),
		logger:    log.WithFields(map[string]interface{}{"component": "sheets"}),
	}
}

// Fetch reads every row of table.
func (c *Client) Fetch(ctx context.Context, table string) (*Table, error) {
	q := url.Values{}
	q.Set("sheet", table)
	q.Set("action", actionFetch)

	resp, err := c.call(ctx, actionFetch, table, func(ctx context.Context) (int, []byte, error) {
		return c.http.Get(ctx, c.baseURL+"?"+q.Encode())
	})
	if err != nil {
		return nil, err
	}

	rows, err := decodeRows(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch %s: decode rows: %v", ErrRemoteUnreachable, table, err)
	}

	c.logger.Debug("table fetched", map[string]interface{}{
		"table": table,
		"rows":  len(rows),
	})

	return &Table{Name: table, Rows: rows, HeaderRow: c.headerRow}, nil
}

// Insert appends row to table.
func (c *Client) Insert(ctx context.Context, table string, row []string) error {
	rowData, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("marshal row: %w", err)
	}

	form := url.Values{}
	form.Set("sheetName", table)
	form.Set("action", actionInsert)
	form.Set("rowData", string(rowData))

	_, err = c.call(ctx, actionInsert, table, func(ctx context.Context) (int, []byte, error) {
		return c.http.PostForm(ctx, c.baseURL, form)
	})
	return err
}

// UpdateCell sets one cell. rowIndex and columnIndex are 1-indexed sheet coordinates.
func (c *Client) UpdateCell(ctx context.Context, table string, rowIndex, columnIndex int, value string) error {
	form := url.Values{}
	form.Set("sheetName", table)
	form.Set("action", actionUpdateCell)
	form.Set("rowIndex", strconv.Itoa(rowIndex))
	form.Set("columnIndex", strconv.Itoa(columnIndex))
	form.Set("value", value)

	_, err := c.call(ctx, actionUpdateCell, table, func(ctx context.Context) (int, []byte, error) {
		return c.http.PostForm(ctx, c.baseURL, form)
	})
	return err
}

// UploadFile stores a base64 data URL in the given Drive folder and returns its URL.
func (c *Client) UploadFile(ctx context.Context, base64Data, fileName, mimeType, folderID string) (string, error) {
	form := url.Values{}
	form.Set("action", actionUploadFile)
	form.Set("base64Data", base64Data)
	form.Set("fileName", fileName)
	form.Set("mimeType", mimeType)
	form.Set("folderId", folderID)

	resp, err := c.call(ctx, actionUploadFile, fileName, func(ctx context.Context) (int, []byte, error) {
		return c.http.PostForm(ctx, c.baseURL, form)
	})
	if err != nil {
		return "", err
	}
	if resp.FileURL == "" {
		return "", fmt.Errorf("%w: uploadFile %s: no fileUrl in response", ErrRemoteRejected, fileName)
	}
	return resp.FileURL, nil
}

// call runs one attempt of a remote action and classifies the outcome.
func (c *Client) call(ctx context.Context, action, target string, do func(context.Context) (int, []byte, error)) (*response, error) {
	ctx, span := c.tracer.Start(ctx, "sheets."+action, trace.WithAttributes(
		attribute.String("sheets.action", action),
		attribute.String("sheets.target", target),
	))
	defer span.End()

	start := time.Now()
	resp, err := c.roundTrip(ctx, action, target, do)
	metrics.RemoteCallDuration.WithLabelValues(action).Observe(time.Since(start).Seconds())

	outcome := "ok"
	switch {
	case errors.Is(err, ErrRemoteRejected):
		outcome = "rejected"
	case err != nil:
		outcome = "unreachable"
	}
	metrics.RemoteCalls.WithLabelValues(action, outcome).Inc()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		c.logger.Warn("table service call failed", map[string]interface{}{
			"action": action,
			"target": target,
			"error":  err.Error(),
		})
		return nil, err
	}
	return resp, nil
}

func (c *Client) roundTrip(ctx context.Context, action, target string, do func(context.Context) (int, []byte, error)) (*response, error) {
	status, body, err := do(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrRemoteUnreachable, action, target, err)
	}
	if status < 200 || status > 299 {
		return nil, fmt.Errorf("%w: %s %s: status %d", ErrRemoteUnreachable, action, target, status)
	}

	var resp response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %s %s: invalid response: %v", ErrRemoteUnreachable, action, target, err)
	}
	if !resp.Success {
		return nil, fmt.Errorf("%w: %s", ErrRemoteRejected, resp.errorMessage())
	}
	return &resp, nil
}

func decodeRows(raw json.RawMessage) ([][]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var cells [][]interface{}
	if err := json.Unmarshal(raw, &cells); err != nil {
		return nil, err
	}

	rows := make([][]string, len(cells))
	for i, row := range cells {
		rows[i] = make([]string, len(row))
		for j, cell := range row {
			rows[i][j] = CellString(cell)
		}
	}
	return rows, nil
}

// CellString renders a decoded JSON cell the way the sheet displays it.
func CellString(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprint(val)
	}
}
