package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"securechat/internal/codec"
	"securechat/internal/models"
)

const suggestionContextSize = 5

// SuggestionProvider turns recent plaintext messages into reply
// candidates.
type SuggestionProvider interface {
	GenerateSuggestions(ctx context.Context, recent []string) ([]models.Suggestion, error)
}

// FallbackSuggestions is what the client sees when no provider is
// configured or the provider fails.
func FallbackSuggestions() []models.Suggestion {
	return []models.Suggestion{
		{Text: "Got it.", Confidence: 0.5},
		{Text: "Okay", Confidence: 0.5},
		{Text: "Thanks!", Confidence: 0.5},
	}
}

// SuggestService builds the plaintext context for reply suggestions.
// Suggestion failures never surface to the caller: the fixed fallback
// triple is returned instead.
type SuggestService struct {
	messageRepo IMessageRepository
	codec       *codec.Codec
	provider    SuggestionProvider
	logger      *slog.Logger
}

func NewSuggestService(messageRepo IMessageRepository, c *codec.Codec, provider SuggestionProvider, logger *slog.Logger) *SuggestService {
	return &SuggestService{
		messageRepo: messageRepo,
		codec:       c,
		provider:    provider,
		logger:      logger,
	}
}

// RepliesFor returns reply suggestions for the conversation containing
// messageID. Context is the last few messages of the group, decrypted
// leniently; undecryptable entries are skipped rather than fed to the
// provider.
func (s *SuggestService) RepliesFor(ctx context.Context, messageID string) ([]models.Suggestion, error) {
	message, err := s.messageRepo.GetMessageByID(ctx, messageID)
	if err != nil {
		s.logger.Error("failed to load message for suggestions", "messageID", messageID, "error", err)
		return nil, err
	}
	if message == nil {
		return nil, ErrMessageNotFound
	}

	recent, err := s.messageRepo.GetRecentMessages(ctx, message.GroupID, suggestionContextSize)
	if err != nil {
		s.logger.Warn("failed to load suggestion context", "groupID", message.GroupID, "error", err)
		return FallbackSuggestions(), nil
	}

	plaintexts := make([]string, 0, len(recent))
	for _, m := range recent {
		text := s.codec.DecryptLenient(m.Content)
		if text == "" || text == codec.Placeholder {
			continue
		}
		plaintexts = append(plaintexts, text)
	}

	if s.provider == nil || len(plaintexts) == 0 {
		return FallbackSuggestions(), nil
	}

	suggestions, err := s.provider.GenerateSuggestions(ctx, plaintexts)
	if err != nil || len(suggestions) == 0 {
		s.logger.Warn("suggestion provider failed, using fallback", "messageID", messageID, "error", err)
		return FallbackSuggestions(), nil
	}
	return suggestions, nil
}

// HTTPSuggestionProvider calls an external completion endpoint.
type HTTPSuggestionProvider struct {
	URL    string
	Client *http.Client
}

func NewHTTPSuggestionProvider(url string, timeout time.Duration) *HTTPSuggestionProvider {
	return &HTTPSuggestionProvider{
		URL:    url,
		Client: &http.Client{Timeout: timeout},
	}
}

func (p *HTTPSuggestionProvider) GenerateSuggestions(ctx context.Context, recent []string) ([]models.Suggestion, error) {
	payload, err := json.Marshal(map[string][]string{"messages": recent})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.URL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("suggestion endpoint returned status %d", resp.StatusCode)
	}

	var body struct {
		Suggestions []models.Suggestion `json:"suggestions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	return body.Suggestions, nil
}
