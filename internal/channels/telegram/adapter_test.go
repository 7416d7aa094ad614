package telegram

import (
	"context"
	"strings"
	"testing"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"

	"github.com/nexhearth/mimirgo/internal/models"
)

type mockBotClient struct {
	sendMessageCalls []*bot.SendMessageParams
	sendErr          error
}

func (m *mockBotClient) SendMessage(_ context.Context, params *bot.SendMessageParams) (*tgmodels.Message, error) {
	m.sendMessageCalls = append(m.sendMessageCalls, params)
	if m.sendErr != nil {
		return nil, m.sendErr
	}
	return &tgmodels.Message{ID: len(m.sendMessageCalls)}, nil
}

func (m *mockBotClient) SendPhoto(context.Context, *bot.SendPhotoParams) (*tgmodels.Message, error) {
	return nil, nil
}
func (m *mockBotClient) SendDocument(context.Context, *bot.SendDocumentParams) (*tgmodels.Message, error) {
	return nil, nil
}
func (m *mockBotClient) SendAudio(context.Context, *bot.SendAudioParams) (*tgmodels.Message, error) {
	return nil, nil
}
func (m *mockBotClient) GetFile(context.Context, *bot.GetFileParams) (*tgmodels.File, error) {
	return nil, nil
}
func (m *mockBotClient) GetMe(context.Context) (*tgmodels.User, error) { return nil, nil }
func (m *mockBotClient) SetWebhook(context.Context, *bot.SetWebhookParams) (bool, error) {
	return true, nil
}
func (m *mockBotClient) RegisterHandler(bot.HandlerType, string, bot.MatchType, bot.HandlerFunc) {}
func (m *mockBotClient) Start(context.Context)                                                   {}
func (m *mockBotClient) StartWebhook(context.Context)                                            {}

func newTestAdapter(t *testing.T, handler MessageHandler) (*Adapter, *mockBotClient) {
	t.Helper()
	a, err := NewAdapter(Config{Token: "t", AllowedUserIDs: []int64{42}}, handler)
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	mock := &mockBotClient{}
	a.SetBotClient(mock)
	return a, mock
}

func textUpdate(userID int64, text string) *tgmodels.Update {
	return &tgmodels.Update{
		Message: &tgmodels.Message{
			Chat: tgmodels.Chat{ID: 100},
			From: &tgmodels.User{ID: userID, FirstName: "Ada"},
			Text: text,
		},
	}
}

func TestHandleUpdateDropsUnauthorizedUser(t *testing.T) {
	called := false
	a, mock := newTestAdapter(t, func(ctx context.Context, text string, user models.UserContext) (string, error) {
		called = true
		return "reply", nil
	})

	a.handleUpdate(context.Background(), nil, textUpdate(999, "hello"))

	if called {
		t.Error("handler should not be called for an unauthorized user")
	}
	if len(mock.sendMessageCalls) != 0 {
		t.Error("no reply should be sent for an unauthorized user")
	}
}

func TestHandleUpdateDispatchesAuthorizedUser(t *testing.T) {
	var gotUser models.UserContext
	a, mock := newTestAdapter(t, func(ctx context.Context, text string, user models.UserContext) (string, error) {
		gotUser = user
		return "hi there", nil
	})

	a.handleUpdate(context.Background(), nil, textUpdate(42, "hello"))

	if gotUser.UserID != "42" || gotUser.Source != "telegram" || gotUser.DisplayName != "Ada" {
		t.Errorf("unexpected user context: %+v", gotUser)
	}
	if len(mock.sendMessageCalls) != 1 || mock.sendMessageCalls[0].Text != "hi there" {
		t.Errorf("unexpected send calls: %+v", mock.sendMessageCalls)
	}
}

func TestHandleUpdateSendsNothingForEmptyReply(t *testing.T) {
	a, mock := newTestAdapter(t, func(ctx context.Context, text string, user models.UserContext) (string, error) {
		return "", nil
	})

	a.handleUpdate(context.Background(), nil, textUpdate(42, "hello"))

	if len(mock.sendMessageCalls) != 0 {
		t.Errorf("expected no send calls, got %d", len(mock.sendMessageCalls))
	}
}

func TestSendMessageSplitsLongReplies(t *testing.T) {
	a, mock := newTestAdapter(t, nil)

	long := strings.Repeat("a", 9000)
	if err := a.sendMessage(context.Background(), 100, long); err != nil {
		t.Fatalf("sendMessage: %v", err)
	}
	if len(mock.sendMessageCalls) < 2 {
		t.Errorf("expected a long reply to be split into multiple messages, got %d", len(mock.sendMessageCalls))
	}
}

func TestSendNotificationReachesAllowedUsers(t *testing.T) {
	a, mock := newTestAdapter(t, nil)

	if err := a.SendNotification(context.Background(), "heads up"); err != nil {
		t.Fatalf("SendNotification: %v", err)
	}
	if len(mock.sendMessageCalls) != 1 || mock.sendMessageCalls[0].ChatID != int64(42) {
		t.Errorf("unexpected notification calls: %+v", mock.sendMessageCalls)
	}
}
