package network

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/bitrise-io/go-coldstorage/multipart"
	"github.com/bitrise-io/go-coldstorage/treehash"
)

const (
	headerPartSize           = "x-amz-part-size"
	headerArchiveDescription = "x-amz-archive-description"
	headerUploadID           = "x-amz-multipart-upload-id"
	headerTreeHash           = "x-amz-sha256-tree-hash"
	headerArchiveSize        = "x-amz-archive-size"
	headerArchiveID          = "x-amz-archive-id"
	headerContentRange       = "Content-Range"
	headerLocation           = "Location"
)

// Requests are retried by the HTTP client and by the part uploader on top of it.
const apiClientRetryMax = 2

// APIParams ...
type APIParams struct {
	BaseURL string
	Token   string
}

// APIService implements multipart.Service against a Glacier compatible REST API.
type APIService struct {
	httpClient  *retryablehttp.Client
	baseURL     string
	accessToken string
	logger      log.Logger
}

type apiErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Type    string `json:"type"`
}

// APIError is a non-successful response of the vault API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("HTTP %d: %s: %s", e.StatusCode, e.Code, e.Message)
}

// NewAPIService ...
func NewAPIService(params APIParams, logger log.Logger) (*APIService, error) {
	if params.BaseURL == "" {
		return nil, fmt.Errorf("API base URL is empty")
	}

	if params.Token == "" {
		return nil, fmt.Errorf("API token is empty")
	}

	client := retryhttp.NewClient(logger)
	client.CheckRetry = createCustomRetryFunction(logger)
	client.RetryMax = apiClientRetryMax

	return newAPIService(client, params.BaseURL, params.Token, logger), nil
}

func newAPIService(client *retryablehttp.Client, baseURL, accessToken string, logger log.Logger) *APIService {
	return &APIService{
		httpClient:  client,
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		accessToken: accessToken,
		logger:      logger,
	}
}

// Initiate ...
func (s *APIService) Initiate(ctx context.Context, req multipart.InitiateRequest) (string, error) {
	if !treehash.ValidPartSize(req.PartSize) {
		return "", multipart.Permanent(fmt.Errorf("part size %d is not a power of two multiple of 1 MiB between 1 MiB and 4 GiB", req.PartSize))
	}

	httpReq, err := s.newRequest(ctx, http.MethodPost, s.uploadsURL(req.Vault), nil)
	if err != nil {
		return "", err
	}
	httpReq.Header.Set(headerPartSize, strconv.FormatInt(req.PartSize, 10))
	if req.Description != "" {
		httpReq.Header.Set(headerArchiveDescription, req.Description)
	}

	resp, err := s.do(httpReq, "Initiate")
	if err != nil {
		return "", err
	}
	defer s.closeBody(resp.Body)

	if resp.StatusCode != http.StatusCreated {
		return "", classifyAPIError(unwrapError(resp))
	}

	uploadID := resp.Header.Get(headerUploadID)
	if uploadID == "" {
		return "", fmt.Errorf("no %s header in initiate response", headerUploadID)
	}
	return uploadID, nil
}

// UploadPart ...
func (s *APIService) UploadPart(ctx context.Context, req multipart.PartRequest) (multipart.PartReceipt, error) {
	httpReq, err := s.newRequest(ctx, http.MethodPut, s.uploadURL(req.Vault, req.SessionID), req.Body)
	if err != nil {
		return multipart.PartReceipt{}, err
	}
	httpReq.Header.Set("Content-Type", "application/octet-stream")
	httpReq.Header.Set(headerContentRange, req.Range.ContentRange())
	httpReq.Header.Set(headerTreeHash, req.Checksum.String())
	httpReq.ContentLength = int64(len(req.Body))

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return multipart.PartReceipt{}, err
	}
	defer s.closeBody(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return multipart.PartReceipt{}, classifyAPIError(unwrapError(resp))
	}

	return multipart.PartReceipt{Checksum: resp.Header.Get(headerTreeHash)}, nil
}

// Complete ...
func (s *APIService) Complete(ctx context.Context, req multipart.CompleteRequest) (multipart.Completion, error) {
	httpReq, err := s.newRequest(ctx, http.MethodPost, s.uploadURL(req.Vault, req.SessionID), nil)
	if err != nil {
		return multipart.Completion{}, err
	}
	httpReq.Header.Set(headerArchiveSize, strconv.FormatInt(req.TotalLength, 10))
	httpReq.Header.Set(headerTreeHash, req.RootChecksum.String())

	resp, err := s.do(httpReq, "Complete")
	if err != nil {
		return multipart.Completion{}, err
	}
	defer s.closeBody(resp.Body)

	if resp.StatusCode != http.StatusCreated {
		return multipart.Completion{}, classifyAPIError(unwrapError(resp))
	}

	return multipart.Completion{
		ArchiveID: resp.Header.Get(headerArchiveID),
		Checksum:  resp.Header.Get(headerTreeHash),
		Location:  resp.Header.Get(headerLocation),
	}, nil
}

// Abort ...
func (s *APIService) Abort(ctx context.Context, vault, sessionID string) error {
	httpReq, err := s.newRequest(ctx, http.MethodDelete, s.uploadURL(vault, sessionID), nil)
	if err != nil {
		return err
	}

	resp, err := s.do(httpReq, "Abort")
	if err != nil {
		return err
	}
	defer s.closeBody(resp.Body)

	if resp.StatusCode != http.StatusNoContent {
		return classifyAPIError(unwrapError(resp))
	}
	return nil
}

func (s *APIService) uploadsURL(vault string) string {
	return fmt.Sprintf("%s/vaults/%s/multipart-uploads", s.baseURL, url.PathEscape(vault))
}

func (s *APIService) uploadURL(vault, sessionID string) string {
	return fmt.Sprintf("%s/%s", s.uploadsURL(vault), url.PathEscape(sessionID))
}

func (s *APIService) newRequest(ctx context.Context, method, rawURL string, body interface{}) (*retryablehttp.Request, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", s.accessToken))
	return req, nil
}

// do sends a request without a payload body, logging the request and response dumps.
func (s *APIService) do(req *retryablehttp.Request, name string) (*http.Response, error) {
	dump, err := httputil.DumpRequest(req.Request, false)
	if err != nil {
		s.logger.Warnf("error while dumping request: %s", err)
	}
	s.logger.Debugf("%s request dump: %s", name, string(dump))

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	dump, err = httputil.DumpResponse(resp, false)
	if err != nil {
		s.logger.Warnf("error while dumping response: %s", err)
	}
	s.logger.Debugf("%s response dump: %s", name, string(dump))

	return resp, nil
}

func (s *APIService) closeBody(body io.ReadCloser) {
	if err := body.Close(); err != nil {
		s.logger.Printf("%s", err)
	}
}

func createCustomRetryFunction(logger log.Logger) func(context.Context, *http.Response, error) (bool, error) {
	return func(ctx context.Context, resp *http.Response, requestErr error) (bool, error) {
		retry, err := retryablehttp.DefaultRetryPolicy(ctx, resp, requestErr)
		logger.Debugf("CheckRetry: retry=%v ; err=%+v ; requestErr=%+v", retry, err, requestErr)
		return retry, err
	}
}

func unwrapError(resp *http.Response) *APIError {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		apiErr.Message = fmt.Sprintf("read error response: %s", err)
		return apiErr
	}

	var errorResp apiErrorResponse
	if err := json.Unmarshal(body, &errorResp); err == nil && (errorResp.Code != "" || errorResp.Message != "") {
		apiErr.Code = errorResp.Code
		apiErr.Message = errorResp.Message
		return apiErr
	}

	apiErr.Message = strings.TrimSpace(string(body))
	return apiErr
}

// classifyAPIError keeps timeouts, throttling and server errors retryable.
// Checksum rejections are retryable as well, every other client error is permanent.
func classifyAPIError(apiErr *APIError) error {
	switch {
	case apiErr.StatusCode == http.StatusRequestTimeout,
		apiErr.StatusCode == http.StatusTooManyRequests,
		apiErr.StatusCode >= 500:
		return apiErr
	case isChecksumMessage(apiErr.Code + " " + apiErr.Message):
		return fmt.Errorf("%w: %s", multipart.ErrChecksumMismatch, apiErr)
	case apiErr.StatusCode >= 400:
		return multipart.Permanent(apiErr)
	default:
		return apiErr
	}
}
