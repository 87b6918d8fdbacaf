package jobs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDropSignatureRoundTrip(t *testing.T) {
	sig := DropSignature("100:token", 42, 7, "bot_5")
	assert.Len(t, sig, 64)
	assert.True(t, VerifyDropSignature("100:token", 42, 7, "bot_5", sig))
}

func TestDropSignatureRejectsTampering(t *testing.T) {
	sig := DropSignature("100:token", 42, 7, "bot_5")

	assert.False(t, VerifyDropSignature("100:token", 42, 7, "bot_6", sig),
		"replay against a different database must fail")
	assert.False(t, VerifyDropSignature("100:token", 43, 7, "bot_5", sig))
	assert.False(t, VerifyDropSignature("100:token", 42, 8, "bot_5", sig))
	assert.False(t, VerifyDropSignature("other-token", 42, 7, "bot_5", sig))
	assert.False(t, VerifyDropSignature("100:token", 42, 7, "bot_5", ""))
}
