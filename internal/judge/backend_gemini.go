package judge

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/googleapis/gax-go/v2/apierror"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"curator/internal/services"
)

// GeminiBackend uses the Google Gemini API.
type GeminiBackend struct {
	client *genai.Client
	model  string
}

// NewGeminiBackend constructs the backend.
func NewGeminiBackend(ctx context.Context, apiKey, model string) (*GeminiBackend, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, services.Wrap(services.ErrConfiguration, "judge", "gemini", "api key required", nil)
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "judge", "gemini", "create client", err)
	}
	return &GeminiBackend{client: client, model: strings.TrimSpace(model)}, nil
}

// Name identifies the backend.
func (b *GeminiBackend) Name() string { return "gemini" }

// Close releases the underlying client.
func (b *GeminiBackend) Close() error {
	if b == nil || b.client == nil {
		return nil
	}
	return b.client.Close()
}

// Complete sends one generate-content request.
func (b *GeminiBackend) Complete(ctx context.Context, prompt Prompt) (string, error) {
	model := b.client.GenerativeModel(b.model)
	model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(prompt.System)}}
	model.ResponseMIMEType = "application/json"
	model.SetTemperature(float32(prompt.Temperature))
	if prompt.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(prompt.MaxTokens))
	}
	resp, err := model.GenerateContent(ctx, genai.Text(prompt.User))
	if err != nil {
		return "", mapGeminiError(err)
	}
	var out strings.Builder
	finish := ""
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		finish = cand.FinishReason.String()
		for _, part := range cand.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				out.WriteString(string(text))
			}
		}
		if out.Len() > 0 {
			break
		}
	}
	if content := strings.TrimSpace(out.String()); content != "" {
		return content, nil
	}
	return "", &emptyContentError{Op: "gemini", FinishReason: finish, Snippet: "<empty>"}
}

// mapGeminiError turns REST and gRPC failures into StatusErrors so the shared
// classifier sees one shape.
func mapGeminiError(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code > 0 {
		return &StatusError{StatusCode: gerr.Code, Body: gerr.Message}
	}
	var apiErr *apierror.APIError
	if errors.As(err, &apiErr) {
		if code := apiErr.HTTPCode(); code > 0 {
			return &StatusError{StatusCode: code, Body: apiErr.Error()}
		}
		if st := apiErr.GRPCStatus(); st != nil && st.Code() != codes.OK {
			return &StatusError{StatusCode: grpcHTTPStatus(st.Code()), Body: st.Message()}
		}
	}
	if st, ok := status.FromError(err); ok && st.Code() != codes.OK {
		return &StatusError{StatusCode: grpcHTTPStatus(st.Code()), Body: st.Message()}
	}
	return err
}

func grpcHTTPStatus(code codes.Code) int {
	switch code {
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.Unavailable, codes.Aborted:
		return http.StatusServiceUnavailable
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	case codes.Internal, codes.Unknown, codes.DataLoss:
		return http.StatusInternalServerError
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.NotFound:
		return http.StatusNotFound
	case codes.Unimplemented:
		return http.StatusNotImplemented
	default:
		return http.StatusBadRequest
	}
}
