// Package testutil provides common test utilities and helpers for VoiceGuide tests.
package testutil

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/projectech/VoiceGuide/internal/models"
)

// DefaultWait bounds WaitFor.
const DefaultWait = 2 * time.Second

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t testing.TB, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// DecodeAPIResponse decodes the standard response envelope from r.
func DecodeAPIResponse(t testing.TB, r io.Reader) models.APIResponse {
	t.Helper()
	var resp models.APIResponse
	if err := json.NewDecoder(r).Decode(&resp); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}
	return resp
}

// DecodeResult converts the loosely typed result of a response into v.
func DecodeResult(t testing.TB, resp models.APIResponse, v interface{}) {
	t.Helper()
	MustUnmarshalJSON(t, MustMarshalJSON(t, resp.Result), v)
}

// WaitFor polls cond until it holds or DefaultWait passes.
func WaitFor(t testing.TB, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(DefaultWait)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// ContactStore is the part of the store SeedContacts writes to.
type ContactStore interface {
	PutContact(ctx context.Context, c models.Contact) error
}

// SeedContacts adds contacts to st in order.
func SeedContacts(t testing.TB, st ContactStore, contacts ...models.Contact) {
	t.Helper()
	for _, c := range contacts {
		if err := st.PutContact(context.Background(), c); err != nil {
			t.Fatalf("failed to add contact %s: %v", c.Name, err)
		}
	}
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(t testing.TB, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}

// MustUnmarshalJSON unmarshals JSON data into target and fails test on error.
func MustUnmarshalJSON(t testing.TB, data []byte, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
}
