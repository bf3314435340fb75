package completer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFallbackWithNoSourcesReturnsAcknowledgement(t *testing.T) {
	answer, model := Fallback(nil)
	assert.Contains(t, answer, "couldn't find")
	assert.Nil(t, model)
}

func TestFallbackConcatenatesExcerpts(t *testing.T) {
	answer, model := Fallback([]Source{
		{Excerpt: "Refunds take five business days."},
		{Excerpt: "Shipping takes two weeks."},
	})
	assert.Contains(t, answer, "Refunds take five business days.")
	assert.Contains(t, answer, "Shipping takes two weeks.")
	assert.Nil(t, model)
}
