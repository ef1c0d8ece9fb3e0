package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTableFormatter(t *testing.T) {
	table := NewTableFormatter("TASK", "STATUS")
	table.AddRow("check_file_exists", "success")
	table.AddRow("load_csv_to_bq")
	table.AddRow("a", "b", "dropped")

	assert.Equal(t, 3, table.Len())

	expected := strings.Join([]string{
		"┌───────────────────┬─────────┐",
		"│ TASK              │ STATUS  │",
		"├───────────────────┼─────────┤",
		"│ check_file_exists │ success │",
		"│ load_csv_to_bq    │         │",
		"│ a                 │ b       │",
		"└───────────────────┴─────────┘",
		"",
	}, "\n")
	assert.Equal(t, expected, table.String())
}

func TestTableFormatter_MultibyteCells(t *testing.T) {
	table := NewTableFormatter("TARGET")
	table.AddRow("Côte d'Ivoire")

	lines := strings.Split(strings.TrimSpace(table.String()), "\n")
	for _, line := range lines {
		assert.Equal(t, len([]rune(lines[0])), len([]rune(line)), line)
	}
}
