package pipeline

import (
	"encoding/json"
	"sync"
)

// ErrorInfo is the error snapshot recorded against a single destination.
// It mirrors spec.md §3's destinationErrors entry shape.
type ErrorInfo struct {
	Message    string         `json:"message"`
	StackTrace string         `json:"stackTrace,omitempty"`
	Detail     map[string]any `json:"detail,omitempty"`
	Cause      *ErrorInfo     `json:"cause,omitempty"`
}

// Message is the serializable unit that survives failure and replay
// (spec.md §3). It is what gets written to, and read back from, the durable
// Store.
type Message struct {
	ID                string             `json:"id"`
	HandlerChainName  string             `json:"handlerChainName"`
	Content           any                `json:"content"`
	Properties        map[string]any     `json:"properties"`
	DestinationsToSkip []string          `json:"destinationsToSkip,omitempty"`

	ErrorMsg        string                `json:"errorMsg,omitempty"`
	ErrorStackTrace string                `json:"errorStackTrace,omitempty"`
	ErrorDetails    map[string]any        `json:"errorDetails,omitempty"`

	DestinationErrors  map[string]*ErrorInfo `json:"destinationErrors,omitempty"`
	DestinationResults map[string]any        `json:"destinationResults,omitempty"`
}

// cleanMessageForReplay clears the error snapshot and destination results
// before a replay attempt while preserving destinationsToSkip, per spec.md
// §3's cleanMessageForReplay invariant.
func cleanMessageForReplay(m *Message) {
	m.ErrorMsg = ""
	m.ErrorStackTrace = ""
	m.ErrorDetails = nil
	m.DestinationErrors = nil
	m.DestinationResults = map[string]any{}
}

// deepCloneValue round-trips a dynamic value through JSON, the canonical
// wire representation per spec.md §6, to guarantee no shared backing storage
// survives the clone (spec.md P7). Content and properties are contractually
// JSON-equivalent (spec.md §3); if a caller hands in a value that isn't, the
// original is returned unchanged rather than clobbering the pipeline with an
// internal panic.
func deepCloneValue(v any) any {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}

func deepCloneMessage(m *Message) *Message {
	clone := &Message{
		ID:               m.ID,
		HandlerChainName: m.HandlerChainName,
		Content:          deepCloneValue(m.Content),
		ErrorMsg:         m.ErrorMsg,
		ErrorStackTrace:  m.ErrorStackTrace,
	}
	clone.Properties, _ = deepCloneValue(m.Properties).(map[string]any)
	if clone.Properties == nil {
		clone.Properties = map[string]any{}
	}
	if len(m.DestinationsToSkip) > 0 {
		clone.DestinationsToSkip = append([]string(nil), m.DestinationsToSkip...)
	}
	if m.ErrorDetails != nil {
		clone.ErrorDetails, _ = deepCloneValue(m.ErrorDetails).(map[string]any)
	}
	if m.DestinationErrors != nil {
		clone.DestinationErrors = cloneDestinationErrors(m.DestinationErrors)
	}
	if m.DestinationResults != nil {
		clone.DestinationResults, _ = deepCloneValue(m.DestinationResults).(map[string]any)
	}
	return clone
}

func cloneDestinationErrors(src map[string]*ErrorInfo) map[string]*ErrorInfo {
	out := make(map[string]*ErrorInfo, len(src))
	for k, v := range src {
		if v == nil {
			out[k] = nil
			continue
		}
		cp := *v
		if v.Detail != nil {
			cp.Detail, _ = deepCloneValue(v.Detail).(map[string]any)
		}
		out[k] = &cp
	}
	return out
}

// MessageContext is the mutable in-memory wrapper around a Message used for
// a single pipeline traversal (spec.md §3). It is not safe for concurrent
// use by more than one goroutine at a time; the destination stage gives each
// concurrent task its own deep-cloned MessageContext (spec.md §4.4, §5).
type MessageContext struct {
	mu  sync.Mutex
	msg *Message
}

// NewMessageContext builds a MessageContext around a fresh Message: the id
// and handler chain name are fixed for the lifetime of the context.
func NewMessageContext(id, handlerChainName string, content any) *MessageContext {
	return &MessageContext{
		msg: &Message{
			ID:               id,
			HandlerChainName: handlerChainName,
			Content:          content,
			Properties:       map[string]any{},
		},
	}
}

// newMessageContextFromMessage builds a context from a persisted Message
// verbatim, preserving id, properties, and destinationsToSkip, as required
// by HandlerChain.Replay (spec.md §4.1).
func newMessageContextFromMessage(m *Message) *MessageContext {
	if m.Properties == nil {
		m.Properties = map[string]any{}
	}
	return &MessageContext{msg: m}
}

// GetID returns the message's stable identifier.
func (c *MessageContext) GetID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.msg.ID
}

// GetHandlerChainName returns the name of the chain this context belongs to.
func (c *MessageContext) GetHandlerChainName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.msg.HandlerChainName
}

// GetContent returns a deep clone of the current content.
func (c *MessageContext) GetContent() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return deepCloneValue(c.msg.Content)
}

// ContentAs decodes the current content into T using decode. It returns a
// ConversionError with the fixed message from spec.md §6 if decode fails.
func ContentAs[T any](c *MessageContext, decode func(any) (T, error)) (T, error) {
	var zero T
	val := c.GetContent()
	out, err := decode(val)
	if err != nil {
		return zero, newConversionError(err)
	}
	return out, nil
}

// setContent replaces the context's current content (used by the processor
// stage after a transformer runs).
func (c *MessageContext) setContent(v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msg.Content = deepCloneValue(v)
}

// SetProperty stores a deep clone of value under key.
func (c *MessageContext) SetProperty(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.msg.Properties == nil {
		c.msg.Properties = map[string]any{}
	}
	c.msg.Properties[key] = deepCloneValue(value)
}

// GetProperty returns a deep clone of the value stored under key, and
// whether it was present.
func (c *MessageContext) GetProperty(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.msg.Properties[key]
	if !ok {
		return nil, false
	}
	return deepCloneValue(v), true
}

// PropertyAs decodes the property stored under key into T using decode.
func PropertyAs[T any](c *MessageContext, key string, decode func(any) (T, error)) (T, error) {
	var zero T
	v, ok := c.GetProperty(key)
	if !ok {
		return zero, newConversionError(errPropertyNotFound(key))
	}
	out, err := decode(v)
	if err != nil {
		return zero, newConversionError(err)
	}
	return out, nil
}

// HasProperty reports whether key is set.
func (c *MessageContext) HasProperty(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.msg.Properties[key]
	return ok
}

// RemoveProperty deletes key from the properties map.
func (c *MessageContext) RemoveProperty(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.msg.Properties, key)
}

// skipList returns a copy of the destinations already known to have
// succeeded for this message.
func (c *MessageContext) skipList() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.msg.DestinationsToSkip...)
}

// ToMessage converts the context into its persistable Message snapshot (a
// deep clone, so later mutation of the context never affects the returned
// value).
func (c *MessageContext) ToMessage() *Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return deepCloneMessage(c.msg)
}

// clone produces an independent MessageContext with a deep-cloned Message,
// used by the destination stage to isolate concurrent destinations from one
// another (spec.md §4.4, §5, P6).
func (c *MessageContext) clone() *MessageContext {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &MessageContext{msg: deepCloneMessage(c.msg)}
}

type propertyNotFoundError struct {
	key string
}

func (e *propertyNotFoundError) Error() string {
	return "property not found: " + e.key
}

func errPropertyNotFound(key string) error {
	return &propertyNotFoundError{key: key}
}
