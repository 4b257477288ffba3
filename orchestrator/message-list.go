package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// AdvertisementList holds the payloads behind advertised keys until a consumer asks for them.
// Many keys can be advertised; one consumer requests them by key.
type AdvertisementList struct {
	mu       sync.RWMutex
	messages map[string]string
}

func NewAdvertisementList() *AdvertisementList {
	return &AdvertisementList{messages: make(map[string]string)}
}

// Advertise stores val as JSON under key and only then publishes the key,
// so a consumer never sees a key it cannot fetch.
func (l *AdvertisementList) Advertise(ctx context.Context, bus TrainingBus, key string, val any) error {
	payload, err := json.Marshal(val)
	if err != nil {
		return fmt.Errorf("encoding advertisement %s: %w", key, err)
	}
	l.mu.Lock()
	l.messages[key] = string(payload)
	l.mu.Unlock()
	if err := bus.Advertise(ctx, key); err != nil {
		l.Delete(key)
		return fmt.Errorf("advertising %s: %w", key, err)
	}
	return nil
}

func (l *AdvertisementList) Get(key string) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	value, ok := l.messages[key]
	return value, ok
}

func (l *AdvertisementList) Delete(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.messages, key)
}

func (l *AdvertisementList) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.messages)
}

func (l *AdvertisementList) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	clear(l.messages)
}
