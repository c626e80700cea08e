package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGroupByCounterpart(t *testing.T) {
	msgs := []*ChatMessage{
		{From: "a", To: "b", Content: "1"},
		{From: "c", To: "a", Content: "2"},
		{From: "b", To: "a", Content: "3"},
		{From: "b", To: "c", Content: "not mine"},
		{From: "a", To: "a", Content: "self"},
	}

	grouped := GroupByCounterpart("a", msgs)

	assert.Len(t, grouped, 3)
	assert.Equal(t, []string{"1", "3"}, contents(grouped["b"]))
	assert.Equal(t, []string{"2"}, contents(grouped["c"]))
	assert.Equal(t, []string{"self"}, contents(grouped["a"]))
}

func TestCounterpart(t *testing.T) {
	m := &ChatMessage{From: "a", To: "b"}
	assert.Equal(t, "b", m.Counterpart("a"))
	assert.Equal(t, "a", m.Counterpart("b"))
	assert.False(t, m.Involves("c"))
}

func contents(msgs []*ChatMessage) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Content)
	}
	return out
}
