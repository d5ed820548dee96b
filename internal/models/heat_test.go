package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToolResult_Text(t *testing.T) {
	assert.Equal(t, "", ToolResult{}.Text())
	assert.Equal(t, "one", TextResult("one").Text())

	multi := ToolResult{Content: []Content{
		{Type: ContentTypeText, Text: "first"},
		{Type: ContentTypeText, Text: "second"},
		{Type: ContentTypeText, Text: "third"},
	}}
	assert.Equal(t, "first\nsecond\nthird", multi.Text())
}

func TestCoordinate_Valid(t *testing.T) {
	assert.True(t, Coordinate{Latitude: 90, Longitude: -180}.Valid())
	assert.True(t, Coordinate{Latitude: 37.57, Longitude: 126.98}.Valid())
	assert.False(t, Coordinate{Latitude: 90.01, Longitude: 0}.Valid())
	assert.False(t, Coordinate{Latitude: 0, Longitude: 180.5}.Valid())
}
