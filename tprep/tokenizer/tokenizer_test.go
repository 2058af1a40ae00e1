package tokenizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChatML(t *testing.T) {
	turns := []Message{
		{Role: "user", Content: "What is 2+2?"},
		{Role: "assistant", Content: "4"},
	}

	rendered := ChatML(turns)
	assert.Equal(t,
		"<|im_start|>user\nWhat is 2+2?<|im_end|>\n<|im_start|>assistant\n4<|im_end|>\n",
		rendered)
}

func TestChatMLEmpty(t *testing.T) {
	assert.Equal(t, "", ChatML(nil))
	assert.Equal(t, "", ChatML([]Message{}))
}

func TestChatMLSingleTurn(t *testing.T) {
	rendered := ChatML([]Message{{Role: "system", Content: "be brief"}})
	assert.Equal(t, "<|im_start|>system\nbe brief<|im_end|>\n", rendered)
}
