package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"go.uber.org/zap"

	"ecodoc/agent/internal/config"
	"ecodoc/agent/internal/domain"
)

// Client EcoDoc 门户后端客户端。
//
// 只消费门户的一个契约：multipart 形式的公文创建端点。
// 成功与否仅由 HTTP 状态码决定（任意 2xx 为成功），响应体被忽略。
type Client struct {
	baseURL       string
	sessionCookie string // "name=value"，随请求携带的会话凭证
	httpClient    *http.Client
	log           *zap.Logger
}

// NewClient 创建门户客户端。
func NewClient(cfg config.UpstreamConfig, log *zap.Logger) *Client {
	return &Client{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		sessionCookie: cfg.SessionCookie,
		httpClient: &http.Client{
			// 不在传输层之上叠加应用级超时，依赖底层传输自身的超时行为；
			// 这里只设连接级兜底，避免投递尝试永久悬挂。
			Timeout: 2 * time.Minute,
		},
		log: log,
	}
}

// SendMessage 将草稿重建为 multipart 表单并投递到公文创建端点。
//
// 表单字段: subject、content、recipientIds（JSON 数组）、可选 documentNumber，
// 以及零或多个 attachments 文件部分（还原字节内容、文件名与声明的 MIME 类型）。
func (c *Client) SendMessage(ctx context.Context, draft *domain.DraftMessage) error {
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)

	if err := w.WriteField("subject", draft.Subject); err != nil {
		return err
	}
	if err := w.WriteField("content", draft.Content); err != nil {
		return err
	}

	ids, err := json.Marshal(draft.RecipientIDs)
	if err != nil {
		return err
	}
	if err := w.WriteField("recipientIds", string(ids)); err != nil {
		return err
	}

	if draft.DocumentNumber != "" {
		if err := w.WriteField("documentNumber", draft.DocumentNumber); err != nil {
			return err
		}
	}

	for _, att := range draft.Attachments {
		part, err := createFilePart(w, "attachments", att.Filename, att.MimeType)
		if err != nil {
			return err
		}
		if _, err := part.Write(att.Data); err != nil {
			return err
		}
	}

	if err := w.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/messages", body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	c.attachCredentials(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	// 非 2xx：状态文本与响应体摘录原样透传为错误信息
	excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if len(excerpt) > 0 {
		return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(excerpt)))
	}
	return fmt.Errorf("%s", resp.Status)
}

// FetchAttachment 从门户下载附件，用于缓存未命中时回源。
func (c *Client) FetchAttachment(ctx context.Context, id int64) (*domain.CachedAttachment, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/api/attachments/%d", c.baseURL, id), nil)
	if err != nil {
		return nil, err
	}
	c.attachCredentials(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("attachment fetch failed: %s", resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	filename := ""
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil {
			filename = params["filename"]
		}
	}

	return &domain.CachedAttachment{
		ID:       id,
		Filename: filename,
		MimeType: resp.Header.Get("Content-Type"),
		Size:     int64(len(data)),
		Data:     data,
		CachedAt: time.Now().UnixMilli(),
	}, nil
}

// Ping 探测门户可达性，供连通性监视使用。
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.baseURL+"/api/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("upstream unhealthy: %s", resp.Status)
	}
	return nil
}

// BaseURL 返回门户基地址。
func (c *Client) BaseURL() string {
	return c.baseURL
}

// attachCredentials 附加会话凭证。
func (c *Client) attachCredentials(req *http.Request) {
	if c.sessionCookie != "" {
		req.Header.Set("Cookie", c.sessionCookie)
	}
}

// createFilePart 创建保留声明 MIME 类型的文件部分。
//
// multipart.Writer.CreateFormFile 会强制 application/octet-stream，
// 这里手工构造头以保证附件往返后 MIME 类型不丢失。
func createFilePart(w *multipart.Writer, fieldName, filename, mimeType string) (io.Writer, error) {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name=%q; filename=%q`, fieldName, filename))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	h.Set("Content-Type", mimeType)
	return w.CreatePart(h)
}
