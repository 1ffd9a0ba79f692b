package event

import "sync"

// KeyedTopic partitions a Topic by string key (symbol-scoped tick
// delivery). Publishing under a key reaches only that key's subscribers.
type KeyedTopic[T any] struct {
	mu     sync.RWMutex
	topics map[string]*Topic[T]
}

// Token identifies a keyed subscription.
type Token struct {
	Key string
	id  int
}

// Subscribe registers fn under key.
func (k *KeyedTopic[T]) Subscribe(key string, fn func(T)) Token {
	k.mu.Lock()
	if k.topics == nil {
		k.topics = make(map[string]*Topic[T])
	}
	topic, ok := k.topics[key]
	if !ok {
		topic = &Topic[T]{}
		k.topics[key] = topic
	}
	k.mu.Unlock()
	return Token{Key: key, id: topic.Subscribe(fn)}
}

// Unsubscribe removes the subscription identified by tok.
func (k *KeyedTopic[T]) Unsubscribe(tok Token) {
	k.mu.Lock()
	defer k.mu.Unlock()
	topic, ok := k.topics[tok.Key]
	if !ok {
		return
	}
	topic.Unsubscribe(tok.id)
	if topic.Len() == 0 {
		// Last subscriber for the key; drop the partition so the map does
		// not accumulate dead symbols.
		delete(k.topics, tok.Key)
	}
}

// Publish delivers v to subscribers of key only.
func (k *KeyedTopic[T]) Publish(key string, v T) {
	k.mu.RLock()
	topic, ok := k.topics[key]
	k.mu.RUnlock()
	if ok {
		topic.Publish(v)
	}
}
