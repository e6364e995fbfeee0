package testutils

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type captureT struct {
	failures []string
}

func (c *captureT) Errorf(format string, args ...interface{}) {
	c.failures = append(c.failures, fmt.Sprintf(format, args...))
}

func TestJSONAsserter_DefaultOptions(t *testing.T) {
	opts := NewJSONAsserter(t).Options()

	assert.True(t, opts.IgnoreExtraKeys, "IgnoreExtraKeys MUST default to true")
	assert.True(t, opts.AllowPresencePlaceholder, "AllowPresencePlaceholder MUST default to true")
	assert.False(t, opts.IgnoreArrayOrder, "IgnoreArrayOrder MUST default to false")
	assert.Empty(t, opts.IgnoredFields)
}

func TestJSONAsserter_Diff(t *testing.T) {
	tests := []struct {
		name     string
		opts     []Option
		actual   string
		expected string
		match    bool
	}{
		{
			name:     "identical objects",
			actual:   `{"id":"AA:BB","rssi":-50}`,
			expected: `{"id":"AA:BB","rssi":-50}`,
			match:    true,
		},
		{
			name:     "extra actual keys ignored by default",
			actual:   `{"id":"AA:BB","rssi":-50,"name":"HR"}`,
			expected: `{"id":"AA:BB"}`,
			match:    true,
		},
		{
			name:     "extra actual keys reported when not ignored",
			opts:     []Option{WithIgnoreExtraKeys(false)},
			actual:   `{"id":"AA:BB","name":"HR"}`,
			expected: `{"id":"AA:BB"}`,
			match:    false,
		},
		{
			name:     "value mismatch",
			actual:   `{"rssi":-60}`,
			expected: `{"rssi":-50}`,
			match:    false,
		},
		{
			name:     "presence placeholder matches any value",
			actual:   `{"session":"01J9Z3","state":"ready"}`,
			expected: `{"session":"<<PRESENCE>>","state":"ready"}`,
			match:    true,
		},
		{
			name:     "presence placeholder requires the key",
			actual:   `{"state":"ready"}`,
			expected: `{"session":"<<PRESENCE>>","state":"ready"}`,
			match:    false,
		},
		{
			name:     "root arrays compared in order",
			actual:   `[{"id":"B"},{"id":"A"}]`,
			expected: `[{"id":"A"},{"id":"B"}]`,
			match:    false,
		},
		{
			name:     "root arrays with ignored order",
			opts:     []Option{WithIgnoreArrayOrder(true)},
			actual:   `[{"id":"B"},{"id":"A"}]`,
			expected: `[{"id":"A"},{"id":"B"}]`,
			match:    true,
		},
		{
			name:     "ignored fields at any depth",
			opts:     []Option{WithIgnoredFields("rssi"), WithIgnoreExtraKeys(false)},
			actual:   `{"devices":[{"id":"A","rssi":-40}]}`,
			expected: `{"devices":[{"id":"A","rssi":-90}]}`,
			match:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			diff := NewJSONAsserter(t).WithOptions(tt.opts...).Diff(tt.actual, tt.expected)
			if tt.match {
				assert.Empty(t, diff, "documents MUST match")
			} else {
				assert.NotEmpty(t, diff, "documents MUST differ")
			}
		})
	}
}

func TestJSONAsserter_InvalidJSON(t *testing.T) {
	ct := &captureT{}
	ok := NewJSONAsserter(ct).Assert(`{"broken"`, `{}`)

	assert.False(t, ok)
	if assert.Len(t, ct.failures, 1) {
		assert.Contains(t, ct.failures[0], "invalid actual JSON")
	}
}

func TestJSONAsserter_AssertValue(t *testing.T) {
	type rec struct {
		ID   string `json:"id"`
		RSSI int    `json:"rssi"`
	}
	ct := &captureT{}

	assert.True(t, NewJSONAsserter(ct).AssertValue(rec{ID: "AA:BB", RSSI: -50}, `{"id":"AA:BB"}`))
	assert.Empty(t, ct.failures)
}
