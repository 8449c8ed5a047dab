package kbstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	xerrors "Rivalz-Swarm/internal/errors"
)

// DefaultBaseURL 是知识库服务的默认地址。
const DefaultBaseURL = "https://be.rivalz.ai/api-v2"

// HTTPBackend 通过 REST 接口访问知识库服务。
type HTTPBackend struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewHTTPBackend 创建 REST 后端。
func NewHTTPBackend(baseURL, token string, client *http.Client) *HTTPBackend {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPBackend{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: client,
	}
}

func (b *HTTPBackend) UploadFile(ctx context.Context, path string) (*UploadReceipt, error) {
	var receipt UploadReceipt
	if err := b.upload(ctx, "/ipfs-v2/upload-file", path, nil, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

func (b *HTTPBackend) UploadPassport(ctx context.Context, path string) (*UploadReceipt, error) {
	var receipt UploadReceipt
	if err := b.upload(ctx, "/ipfs-v2/upload-passport-image", path, nil, &receipt); err != nil {
		return nil, err
	}
	return &receipt, nil
}

func (b *HTTPBackend) DownloadFile(ctx context.Context, hash, destDir string) (string, error) {
	req, err := b.newRequest(ctx, http.MethodGet, "/ipfs-v2/download-file/"+url.PathEscape(hash), nil, "")
	if err != nil {
		return "", err
	}
	resp, err := b.do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	name := safeFileName(hash)
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil {
		if candidate := safeFileName(params["filename"]); candidate != "" {
			name = candidate
		}
	}
	if name == "" {
		return "", xerrors.Newf(xerrors.CodeInvalidArgument, "无法从 %q 推导下载文件名", hash)
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建下载目录失败")
	}
	target := filepath.Join(destDir, name)
	file, err := os.Create(target)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建下载文件失败")
	}
	if _, err := io.Copy(file, resp.Body); err != nil {
		_ = file.Close()
		_ = os.Remove(target)
		return "", xerrors.Wrap(xerrors.CodeTransport, err, "下载文件内容失败")
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(target)
		return "", xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入下载文件失败")
	}
	return target, nil
}

// safeFileName 取路径的最后一段，"."、".." 与空名返回空串。
func safeFileName(raw string) string {
	name := filepath.Base(filepath.FromSlash(strings.TrimSpace(raw)))
	switch name {
	case ".", "..", string(filepath.Separator):
		return ""
	}
	return name
}

func (b *HTTPBackend) DeleteFile(ctx context.Context, hash string) error {
	return b.call(ctx, http.MethodDelete, "/ipfs-v2/delete-file/"+url.PathEscape(hash), nil, nil)
}

func (b *HTTPBackend) CreateKnowledgeBase(ctx context.Context, path, name string) (*KnowledgeBase, error) {
	var kb KnowledgeBase
	if err := b.upload(ctx, "/knowledge-bases", path, map[string]string{"name": name}, &kb); err != nil {
		return nil, err
	}
	if kb.ID == "" {
		return nil, xerrors.New(xerrors.CodeDataShape, "create knowledge base response has no id")
	}
	return &kb, nil
}

func (b *HTTPBackend) AddDocument(ctx context.Context, path, knowledgeBaseID string) (*Document, error) {
	var doc Document
	endpoint := "/knowledge-bases/" + url.PathEscape(knowledgeBaseID) + "/documents"
	if err := b.upload(ctx, endpoint, path, nil, &doc); err != nil {
		return nil, err
	}
	if doc.KnowledgeBaseID == "" {
		doc.KnowledgeBaseID = knowledgeBaseID
	}
	return &doc, nil
}

func (b *HTTPBackend) DeleteDocument(ctx context.Context, documentID, knowledgeBaseID string) error {
	endpoint := "/knowledge-bases/" + url.PathEscape(knowledgeBaseID) + "/documents/" + url.PathEscape(documentID)
	return b.call(ctx, http.MethodDelete, endpoint, nil, nil)
}

func (b *HTTPBackend) ListKnowledgeBases(ctx context.Context) ([]KnowledgeBase, error) {
	var list []KnowledgeBase
	if err := b.call(ctx, http.MethodGet, "/knowledge-bases", nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (b *HTTPBackend) GetKnowledgeBase(ctx context.Context, id string) (*KnowledgeBase, error) {
	var kb KnowledgeBase
	if err := b.call(ctx, http.MethodGet, "/knowledge-bases/"+url.PathEscape(id), nil, &kb); err != nil {
		return nil, err
	}
	return &kb, nil
}

func (b *HTTPBackend) CreateChatSession(ctx context.Context, knowledgeBaseID, message, sessionID string) (*ChatResponse, error) {
	payload := map[string]string{
		"knowledge_id": knowledgeBaseID,
		"message":      message,
	}
	if sessionID != "" {
		payload["chat_session_id"] = sessionID
	}
	var out ChatResponse
	if err := b.call(ctx, http.MethodPost, "/chats", payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (b *HTTPBackend) ListChatSessions(ctx context.Context) ([]ChatSession, error) {
	var list []ChatSession
	if err := b.call(ctx, http.MethodGet, "/chats", nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (b *HTTPBackend) GetChatSession(ctx context.Context, id string) (*ChatSession, error) {
	var session ChatSession
	if err := b.call(ctx, http.MethodGet, "/chats/"+url.PathEscape(id), nil, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (b *HTTPBackend) ListUploadedDocuments(ctx context.Context) ([]Document, error) {
	var docs []Document
	if err := b.call(ctx, http.MethodGet, "/knowledge-bases/documents", nil, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

func (b *HTTPBackend) UploadHistory(ctx context.Context, page, pageSize int) (*UploadHistory, error) {
	query := url.Values{}
	query.Set("page", strconv.Itoa(page))
	query.Set("pageSize", strconv.Itoa(pageSize))
	var history UploadHistory
	if err := b.call(ctx, http.MethodGet, "/ipfs-v2/upload-history?"+query.Encode(), nil, &history); err != nil {
		return nil, err
	}
	if history.Page == 0 {
		history.Page = page
	}
	if history.PageSize == 0 {
		history.PageSize = pageSize
	}
	return &history, nil
}

func (b *HTTPBackend) call(ctx context.Context, method, endpoint string, payload any, out any) error {
	var body io.Reader
	contentType := ""
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "序列化请求失败")
		}
		body = bytes.NewReader(encoded)
		contentType = "application/json"
	}
	req, err := b.newRequest(ctx, method, endpoint, body, contentType)
	if err != nil {
		return err
	}
	resp, err := b.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeEnvelope(resp.Body, out)
}

func (b *HTTPBackend) upload(ctx context.Context, endpoint, path string, fields map[string]string, out any) error {
	file, err := os.Open(path)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "打开待上传文件失败")
	}
	defer file.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "构建上传表单失败")
		}
	}
	part, err := writer.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "构建上传表单失败")
	}
	if _, err := io.Copy(part, file); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "读取待上传文件失败")
	}
	if err := writer.Close(); err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "构建上传表单失败")
	}

	req, err := b.newRequest(ctx, http.MethodPost, endpoint, &buf, writer.FormDataContentType())
	if err != nil {
		return err
	}
	resp, err := b.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeEnvelope(resp.Body, out)
}

func (b *HTTPBackend) newRequest(ctx context.Context, method, endpoint string, body io.Reader, contentType string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+endpoint, body)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "构建知识库请求失败")
	}
	req.Header.Set("Authorization", "Bearer "+b.token)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return req, nil
}

func (b *HTTPBackend) do(req *http.Request) (*http.Response, error) {
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeTransport, err, "请求知识库服务失败",
			xerrors.WithMetadata("endpoint", req.URL.Path))
	}
	if resp.StatusCode >= http.StatusBadRequest {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, xerrors.New(xerrors.CodeTransport,
			fmt.Sprintf("知识库服务返回错误状态 %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
			xerrors.WithMetadata("endpoint", req.URL.Path),
			xerrors.WithMetadata("status", strconv.Itoa(resp.StatusCode)),
		)
	}
	return resp, nil
}

// decodeEnvelope 解析响应体，兼容 {"data": ...} 包裹与裸结构两种形式。
func decodeEnvelope(r io.Reader, out any) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeTransport, err, "读取知识库响应失败")
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && len(envelope.Data) > 0 && string(envelope.Data) != "null" {
		raw = envelope.Data
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return xerrors.Wrap(xerrors.CodeDataShape, err, "解析知识库响应失败")
	}
	return nil
}

var _ Backend = (*HTTPBackend)(nil)
