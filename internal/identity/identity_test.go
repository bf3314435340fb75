package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMintIsDeterministic(t *testing.T) {
	a := Mint("faq", "95", "What does ASPCA stand for?")
	b := Mint("faq", "95", "What does ASPCA stand for?")
	assert.Equal(t, a, b)
}

func TestMintDiffersByInput(t *testing.T) {
	a := Mint("faq", "95", "question one")
	b := Mint("faq", "95", "question two")
	c := Mint("kb", "95", "question one")
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestMintIsValidUUID(t *testing.T) {
	id := Mint("faq", "95", "hello")
	assert.Len(t, id, 36)
	assert.Equal(t, byte('-'), id[8])
}

func TestFingerprintDeterministic(t *testing.T) {
	a := Fingerprint("a", "b", "c")
	b := Fingerprint("a", "b", "c")
	c := Fingerprint("a", "b", "d")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestRecordFingerprintOrderSensitive(t *testing.T) {
	p1 := [][2]string{{"id1", "h1"}, {"id2", "h2"}}
	p2 := [][2]string{{"id2", "h2"}, {"id1", "h1"}}
	assert.NotEqual(t, RecordFingerprint(p1), RecordFingerprint(p2))
	assert.Equal(t, RecordFingerprint(p1), RecordFingerprint(p1))
}

func TestNewUUIDIsRandom(t *testing.T) {
	a := NewUUID()
	b := NewUUID()
	assert.NotEqual(t, a, b)
}
