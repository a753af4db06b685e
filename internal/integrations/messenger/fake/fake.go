package fake

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/pkg/errors"
)

var ErrGatewayUnavailable = errors.New("fake gateway unavailable")

// FakeClient — заглушка SMS-шлюза для локальной разработки.
// Детерминированно "теряет" часть сообщений по хэшу телефона, чтобы
// прогонять ветку ретраев без реального шлюза.
type FakeClient struct {
	failEvery uint32

	mu   sync.Mutex
	sent []Message
}

type Message struct {
	Phone string
	Body  string
}

func New() *FakeClient { return &FakeClient{} }

// NewFlaky returns a client that fails roughly one send in n (by phone hash).
func NewFlaky(n uint32) *FakeClient { return &FakeClient{failEvery: n} }

func (f *FakeClient) Send(ctx context.Context, phone, body string) error {
	if f.failEvery > 0 {
		h := fnv.New32a()
		_, _ = h.Write([]byte(phone))
		if h.Sum32()%f.failEvery == 0 {
			return ErrGatewayUnavailable
		}
	}

	f.mu.Lock()
	f.sent = append(f.sent, Message{Phone: phone, Body: body})
	f.mu.Unlock()
	return nil
}

// Sent returns a copy of everything delivered so far.
func (f *FakeClient) Sent() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Message, len(f.sent))
	copy(out, f.sent)
	return out
}
