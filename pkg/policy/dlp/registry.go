package dlp

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Builtin is a reusable pattern definition referenced by entity type.
type Builtin struct {
	Type        string
	Regex       string
	Description string
}

// Registry provides a threadsafe catalog of reusable pattern definitions.
type Registry struct {
	mu       sync.RWMutex
	builtins map[string]Builtin
}

// NewRegistry constructs an empty Registry instance.
func NewRegistry() *Registry {
	return &Registry{builtins: make(map[string]Builtin)}
}

// Register inserts or replaces a builtin using its type as the identifier.
func (r *Registry) Register(b Builtin) error {
	if strings.TrimSpace(b.Type) == "" {
		return fmt.Errorf("dlp: registry type is required")
	}
	if strings.TrimSpace(b.Regex) == "" {
		return fmt.Errorf("dlp: registry entry %s missing regex", b.Type)
	}

	key := strings.ToUpper(b.Type)

	r.mu.Lock()
	r.builtins[key] = b
	r.mu.Unlock()
	return nil
}

// RegisterAll inserts multiple builtins in a single call.
func (r *Registry) RegisterAll(builtins []Builtin) error {
	for _, b := range builtins {
		if err := r.Register(b); err != nil {
			return err
		}
	}
	return nil
}

// Resolve retrieves a builtin by entity type, ignoring case.
func (r *Registry) Resolve(entityType string) (Builtin, bool) {
	if entityType == "" {
		return Builtin{}, false
	}
	key := strings.ToUpper(entityType)

	r.mu.RLock()
	b, ok := r.builtins[key]
	r.mu.RUnlock()
	return b, ok
}

// Types lists the registered entity types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.builtins))
	for key := range r.builtins {
		types = append(types, key)
	}
	sort.Strings(types)
	return types
}

var (
	builtinRegistry     *Registry
	builtinRegistryOnce sync.Once
)

// BuiltinRegistry returns the process-wide registry of builtin patterns.
// Callers should treat it as read-only.
func BuiltinRegistry() *Registry {
	builtinRegistryOnce.Do(func() {
		builtinRegistry = newRegistryWithBuiltins()
	})
	return builtinRegistry
}

func newRegistryWithBuiltins() *Registry {
	r := NewRegistry()
	_ = r.RegisterAll([]Builtin{
		{
			Type:        "EMAIL",
			Regex:       `(?i)\b[a-z0-9._%+-]+@[a-z0-9.-]+\.[a-z]{2,}\b`,
			Description: "e-mail address",
		},
		{
			Type:        "IBAN",
			Regex:       `\b[A-Z]{2}[0-9]{2}(?: ?[A-Z0-9]{4}){3,7}(?: ?[A-Z0-9]{1,3})?\b`,
			Description: "international bank account number",
		},
		{
			Type:        "CREDIT_CARD",
			Regex:       `\b(?:\d{4}[-\s]?){3}\d{4}\b`,
			Description: "16 digit payment card number",
		},
		{
			Type:        "PHONE_FR",
			Regex:       `(?:\+33\s?|\b0)[1-9](?:[\s.-]?\d{2}){4}\b`,
			Description: "French phone number",
		},
		{
			Type:        "SSN_FR",
			Regex:       `\b[12]\s?\d{2}\s?(?:0[1-9]|1[0-2])\s?(?:\d{2}|2[AB])\s?\d{3}\s?\d{3}(?:\s?\d{2})?\b`,
			Description: "French social security number (NIR)",
		},
		{
			Type:        "SSN",
			Regex:       `\b[0-9]{3}-[0-9]{2}-[0-9]{4}\b`,
			Description: "US social security number",
		},
		{
			Type:        "IPV4",
			Regex:       `\b(?:(?:25[0-5]|2[0-4]\d|1?\d?\d)\.){3}(?:25[0-5]|2[0-4]\d|1?\d?\d)\b`,
			Description: "IPv4 address",
		},
		{
			Type:        "API_KEY",
			Regex:       `(?i)\b(?:api[_-]?key|apikey|api[_-]?secret|bearer[_-]?token)[:=\s]+[a-z0-9_\-]{16,}\b`,
			Description: "credential assignment",
		},
	})
	return r
}
