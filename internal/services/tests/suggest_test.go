package services_test

import (
	"context"
	"errors"
	"testing"

	"securechat/app/tests"
	"securechat/internal/codec"
	"securechat/internal/models"
	"securechat/internal/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	suggestions []models.Suggestion
	err         error
	gotRecent   []string
}

func (s *stubProvider) GenerateSuggestions(ctx context.Context, recent []string) ([]models.Suggestion, error) {
	s.gotRecent = recent
	return s.suggestions, s.err
}

func newTestCodec(t *testing.T) *codec.Codec {
	t.Helper()
	c, err := codec.New(testEncryptionKey)
	require.NoError(t, err)
	return c
}

func TestRepliesFor_FallbackIsDeterministic(t *testing.T) {
	messageRepo := new(tests.MockMessageRepository)
	messageRepo.On("GetMessageByID", mock.Anything, "msg-1").Return(&models.Message{
		ID:      "msg-1",
		GroupID: "group-1",
	}, nil)
	messageRepo.On("GetRecentMessages", mock.Anything, "group-1", 5).Return([]models.Message{}, nil)

	service := services.NewSuggestService(messageRepo, newTestCodec(t), nil, discardLogger())

	for i := 0; i < 3; i++ {
		suggestions, err := service.RepliesFor(context.Background(), "msg-1")
		require.NoError(t, err)
		assert.Equal(t, []models.Suggestion{
			{Text: "Got it.", Confidence: 0.5},
			{Text: "Okay", Confidence: 0.5},
			{Text: "Thanks!", Confidence: 0.5},
		}, suggestions)
	}
}

func TestRepliesFor_ProviderFailureFallsBack(t *testing.T) {
	c := newTestCodec(t)
	messageRepo := new(tests.MockMessageRepository)

	encrypted, err := c.Encrypt("hello")
	require.NoError(t, err)

	messageRepo.On("GetMessageByID", mock.Anything, "msg-1").Return(&models.Message{
		ID:      "msg-1",
		GroupID: "group-1",
	}, nil)
	messageRepo.On("GetRecentMessages", mock.Anything, "group-1", 5).Return([]models.Message{
		{ID: "msg-1", Content: encrypted},
	}, nil)

	provider := &stubProvider{err: errors.New("upstream down")}
	failing := services.NewSuggestService(messageRepo, c, provider, discardLogger())

	suggestions, err := failing.RepliesFor(context.Background(), "msg-1")
	require.NoError(t, err)
	assert.Equal(t, services.FallbackSuggestions(), suggestions)
	assert.Equal(t, []string{"hello"}, provider.gotRecent)
}

func TestRepliesFor_ContextSkipsUndecryptable(t *testing.T) {
	c := newTestCodec(t)
	messageRepo := new(tests.MockMessageRepository)

	first, err := c.Encrypt("how are you")
	require.NoError(t, err)
	second, err := c.Encrypt("fine thanks")
	require.NoError(t, err)

	messageRepo.On("GetMessageByID", mock.Anything, "msg-3").Return(&models.Message{
		ID:      "msg-3",
		GroupID: "group-1",
	}, nil)
	messageRepo.On("GetRecentMessages", mock.Anything, "group-1", 5).Return([]models.Message{
		{ID: "msg-1", Content: first},
		{ID: "msg-2", Content: "garbage-envelope"},
		{ID: "msg-3", Content: second},
	}, nil)

	provider := &stubProvider{suggestions: []models.Suggestion{{Text: "Doing well!", Confidence: 0.9}}}
	svc := services.NewSuggestService(messageRepo, c, provider, discardLogger())

	suggestions, err := svc.RepliesFor(context.Background(), "msg-3")
	require.NoError(t, err)
	assert.Equal(t, []models.Suggestion{{Text: "Doing well!", Confidence: 0.9}}, suggestions)
	assert.Equal(t, []string{"how are you", "fine thanks"}, provider.gotRecent)
}

func TestRepliesFor_UnknownMessage(t *testing.T) {
	messageRepo := new(tests.MockMessageRepository)
	messageRepo.On("GetMessageByID", mock.Anything, "msg-404").Return((*models.Message)(nil), nil)

	service := services.NewSuggestService(messageRepo, newTestCodec(t), nil, discardLogger())

	_, err := service.RepliesFor(context.Background(), "msg-404")
	assert.ErrorIs(t, err, services.ErrMessageNotFound)
}
