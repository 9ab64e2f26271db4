package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCredentials(t *testing.T) {
	tests := []struct {
		name string
		line string
		want credentials
		ok   bool
	}{
		{"register", "register:alice:pw1", credentials{VerbRegister, "alice", "pw1"}, true},
		{"login", "login:bob:secret", credentials{VerbLogin, "bob", "secret"}, true},
		{"secret keeps colons", "login:bob:a:b:c", credentials{VerbLogin, "bob", "a:b:c"}, true},
		{"secret keeps spaces", "login:bob:two words", credentials{VerbLogin, "bob", "two words"}, true},
		{"too few parts", "login:bob", credentials{}, false},
		{"no colon", "hello", credentials{}, false},
		{"unknown verb", "delete:bob:pw", credentials{}, false},
		{"verb is case sensitive", "LOGIN:bob:pw", credentials{}, false},
		{"empty username", "login::pw", credentials{}, false},
		{"space in username", "register:bob smith:pw", credentials{}, false},
		{"empty secret", "register:bob:", credentials{}, false},
		{"empty line", "", credentials{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseCredentials(tt.line)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseDirect(t *testing.T) {
	tests := []struct {
		line   string
		target string
		text   string
		ok     bool
	}{
		{"/msg bob hello", "bob", "hello", true},
		{"/msg bob hello there  friend", "bob", "hello there  friend", true},
		{"/msg  bob hi", "bob", "hi", true},
		{"/msg\tbob\t hi there", "bob", "hi there", true},
		{"/msg bob   spaced", "bob", "spaced", true},
		{"/msg bob", "", "", false},
		{"/msg", "", "", false},
		{"/msg bob ", "", "", false},
		{"/msg   ", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			assert.True(t, isDirect(tt.line))
			target, text, ok := parseDirect(tt.line)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.target, target)
			assert.Equal(t, tt.text, text)
		})
	}
}

func TestIsDirect(t *testing.T) {
	assert.False(t, isDirect("hello"))
	assert.False(t, isDirect("/msgbob hi"))
	assert.False(t, isDirect(" /msg bob hi"))
	assert.False(t, isDirect("/MSG bob hi"))
	assert.True(t, isDirect("/msg\tbob hi"))

	_, _, ok := parseDirect("hello bob hi")
	assert.False(t, ok)
}

func TestDeliveryFormats(t *testing.T) {
	assert.Equal(t, "alice joined.", joinNotice("alice"))
	assert.Equal(t, "alice left.", leaveNotice("alice"))
	assert.Equal(t, "alice: hi there", chatLine("alice", "hi there"))
	assert.Equal(t, "alice (private): psst", privateLine("alice", "psst"))
	assert.Equal(t, "User not found: bob", notFoundLine("bob"))
}
