package transport

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockConfig struct {
	channelSystem string
}

func (m *mockConfig) GetChannelSystem() string            { return m.channelSystem }
func (m *mockConfig) GetChannelName() string              { return "hermes" }
func (m *mockConfig) GetNATSURL() string                  { return "" }
func (m *mockConfig) GetRabbitMQURL() string              { return "" }
func (m *mockConfig) GetKafkaBrokers() []string           { return nil }
func (m *mockConfig) GetKafkaConsumerGroupPrefix() string { return "" }

type mockPublisher struct {
	closed int
}

func (m *mockPublisher) Publish(topic string, messages ...*message.Message) error {
	return nil
}

func (m *mockPublisher) Close() error {
	m.closed++
	return nil
}

type mockSubscriber struct {
	closed int
}

func (m *mockSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	ch := make(chan *message.Message)
	close(ch)
	return ch, nil
}

func (m *mockSubscriber) Close() error {
	m.closed++
	return nil
}

func okBuilder(ctx context.Context, cfg Config, contextID string, logger watermill.LoggerAdapter) (Transport, error) {
	return Transport{
		Publisher:  &mockPublisher{},
		Subscriber: &mockSubscriber{},
	}, nil
}

func TestNewRegistry(t *testing.T) {
	reg := NewRegistry()
	assert.NotNil(t, reg)
	assert.NotNil(t, reg.builders)
	assert.NotNil(t, reg.capabilities)
	assert.Empty(t, reg.Names())
}

func TestRegistry_RegisterWithCapabilities(t *testing.T) {
	reg := NewRegistry()

	caps := Capabilities{
		Name:           "test-transport",
		CrossProcess:   true,
		EchoesToSender: true,
	}
	reg.RegisterWithCapabilities("test-transport", okBuilder, caps)

	assert.True(t, reg.Has("test-transport"))
	retrieved := reg.GetCapabilities("test-transport")
	assert.Equal(t, "test-transport", retrieved.Name)
	assert.True(t, retrieved.CrossProcess)
	assert.True(t, retrieved.RequiresEchoFilter())
}

func TestRegistry_GetCapabilities_Unknown(t *testing.T) {
	reg := NewRegistry()
	caps := reg.GetCapabilities("unknown")
	assert.Equal(t, "unknown", caps.Name)
	assert.False(t, caps.CrossProcess)
}

func TestRegistry_Build(t *testing.T) {
	reg := NewRegistry()

	var gotID string
	reg.Register("test-transport", func(ctx context.Context, cfg Config, contextID string, logger watermill.LoggerAdapter) (Transport, error) {
		gotID = contextID
		return okBuilder(ctx, cfg, contextID, logger)
	})

	tr, err := reg.Build(context.Background(), &mockConfig{channelSystem: "test-transport"}, "ctx-1", nil)
	require.NoError(t, err)
	assert.NotNil(t, tr.Publisher)
	assert.NotNil(t, tr.Subscriber)
	assert.Equal(t, "ctx-1", gotID)
}

func TestRegistry_Build_Errors(t *testing.T) {
	reg := NewRegistry()
	expectedErr := errors.New("builder error")
	reg.Register("failing-transport", func(context.Context, Config, string, watermill.LoggerAdapter) (Transport, error) {
		return Transport{}, expectedErr
	})
	ctx := context.Background()

	t.Run("nil config", func(t *testing.T) {
		_, err := reg.Build(ctx, nil, "id", nil)
		assert.ErrorContains(t, err, "config is required")
	})

	t.Run("unknown transport", func(t *testing.T) {
		_, err := reg.Build(ctx, &mockConfig{channelSystem: "unknown-transport"}, "id", nil)
		assert.ErrorContains(t, err, "unknown transport")
		assert.ErrorContains(t, err, "failing-transport")
	})

	t.Run("builder error", func(t *testing.T) {
		_, err := reg.Build(ctx, &mockConfig{channelSystem: "failing-transport"}, "id", nil)
		assert.Equal(t, expectedErr, err)
	})
}

func TestRegistry_Names(t *testing.T) {
	reg := NewRegistry()
	reg.Register("transport2", okBuilder)
	reg.Register("transport1", okBuilder)
	reg.Register("transport3", okBuilder)

	assert.Equal(t, []string{"transport1", "transport2", "transport3"}, reg.Names())
	assert.False(t, reg.Has("other-transport"))
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	reg := NewRegistry()

	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func() {
			for j := 0; j < 100; j++ {
				reg.Register("transport", okBuilder)
				reg.Has("transport")
				reg.Names()
				reg.GetCapabilities("transport")
			}
			done <- true
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}

	assert.True(t, reg.Has("transport"))
}

func TestPackageLevelRegistry(t *testing.T) {
	_, err := Build(context.Background(), &mockConfig{channelSystem: "nonexistent"}, "id", nil)
	assert.Error(t, err)

	RegisterWithCapabilities("test-pkg-caps-transport", okBuilder, Capabilities{Name: "test-pkg-caps-transport", SupportsOrdering: true})
	assert.True(t, DefaultRegistry.Has("test-pkg-caps-transport"))
	assert.True(t, GetCapabilities("test-pkg-caps-transport").SupportsOrdering)

	Register("test-pkg-transport", okBuilder)
	assert.True(t, DefaultRegistry.Has("test-pkg-transport"))
}
