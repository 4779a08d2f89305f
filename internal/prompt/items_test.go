package prompt

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ppiankov/rebutqc/internal/model"
)

func TestRebuttalBlock(t *testing.T) {
	item := model.RebuttalItem{
		ID:      "r7",
		Text:    "That figure\nis from 2019.",
		Speaker: "Host B",
		Context: "Host A claimed unemployment doubled.",
	}

	got := RebuttalBlock(2, item, "weak dimensions: accuracy")
	want := "[2] id: r7\n" +
		"speaker: Host B\n" +
		"context: Host A claimed unemployment doubled.\n" +
		"text: That figure is from 2019.\n" +
		"weak dimensions: accuracy"
	assert.Equal(t, want, got)
}

func TestRebuttalBlock_OmitsEmptyFields(t *testing.T) {
	got := RebuttalBlock(1, model.RebuttalItem{ID: "r1", Text: "No."})
	assert.Equal(t, "[1] id: r1\ntext: No.", got)
}
