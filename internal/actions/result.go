package actions

import "encoding/json"

type Kind string

const (
	KindSucceeded           Kind = "succeeded"
	KindUnknownProvider     Kind = "unknown_provider"
	KindRateLimited         Kind = "rate_limited"
	KindProviderRejected    Kind = "provider_rejected"
	KindProviderUnavailable Kind = "provider_unavailable"
)

// Result is the outcome of a dispatch. The set of implementations is closed;
// switch on Kind or on the concrete type.
type Result interface {
	Kind() Kind
	OK() bool
	json.Marshaler
	result()
}

// Succeeded carries the provider's decoded JSON body verbatim.
type Succeeded struct {
	Status int
	Body   json.RawMessage
}

type UnknownProvider struct{ Provider string }

type RateLimited struct {
	Host  string
	Limit int
}

// ProviderRejected is a non-2xx answer.
type ProviderRejected struct{ Status int }

// ProviderUnavailable covers transport failures and unreadable bodies.
type ProviderUnavailable struct{ Err string }

func (Succeeded) Kind() Kind           { return KindSucceeded }
func (UnknownProvider) Kind() Kind     { return KindUnknownProvider }
func (RateLimited) Kind() Kind         { return KindRateLimited }
func (ProviderRejected) Kind() Kind    { return KindProviderRejected }
func (ProviderUnavailable) Kind() Kind { return KindProviderUnavailable }

func (Succeeded) OK() bool           { return true }
func (UnknownProvider) OK() bool     { return false }
func (RateLimited) OK() bool         { return false }
func (ProviderRejected) OK() bool    { return false }
func (ProviderUnavailable) OK() bool { return false }

func (Succeeded) result()           {}
func (UnknownProvider) result()     {}
func (RateLimited) result()         {}
func (ProviderRejected) result()    {}
func (ProviderUnavailable) result() {}

type failure struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
	Status int    `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (r Succeeded) MarshalJSON() ([]byte, error) {
	if len(r.Body) == 0 {
		return []byte("null"), nil
	}
	return r.Body, nil
}

func (UnknownProvider) MarshalJSON() ([]byte, error) {
	return json.Marshal(failure{Reason: string(KindUnknownProvider)})
}

func (RateLimited) MarshalJSON() ([]byte, error) {
	return json.Marshal(failure{Reason: string(KindRateLimited)})
}

func (r ProviderRejected) MarshalJSON() ([]byte, error) {
	return json.Marshal(failure{Status: r.Status})
}

func (r ProviderUnavailable) MarshalJSON() ([]byte, error) {
	return json.Marshal(failure{Error: r.Err})
}
