package log

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFieldsString(t *testing.T) {
	f := Fields{"peer": "[::1]:9000", "conn": "abc"}.WithPrefix("server")
	assert.Equal(t, "[server] conn=abc peer=[::1]:9000", f.String())
	assert.Equal(t, "server", f.Prefix())
	assert.Len(t, f.Zap(), 3)
}

func TestMergeFieldsKeepsOrigin(t *testing.T) {
	origin := Fields{"a": 1}
	merged := origin.WithFields(Fields{"b": 2}, Fields{"a": 3})
	assert.Equal(t, 1, origin["a"])
	assert.Equal(t, 3, merged["a"])
	assert.Equal(t, 2, merged["b"])
	_, ok := origin["b"]
	assert.False(t, ok)
}

func TestOutTypeAlias(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want OutType
	}{
		{"console", "console", ConsoleOut},
		{"file", "FILE", NormalOut},
		{"mixed", "console | track", ConsoleOut | TrackFileOut},
		{"unknown", "nowhere", ConsoleOut},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, OutTypeAlias(tt.in))
		})
	}
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelWarn, ParseLevel(" WARN "))
	assert.Equal(t, LevelDebug, ParseLevel("verbose"))
}
