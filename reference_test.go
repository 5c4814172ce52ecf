package imagecache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReference(t *testing.T) {
	tests := []struct {
		name      string
		ref       Reference
		wantKind  RefKind
		wantValue string
		wantStr   string
	}{
		{name: "remote", ref: Remote("https://images.example.com/a.jpg"), wantKind: RefRemote, wantValue: "https://images.example.com/a.jpg", wantStr: "remote:https://images.example.com/a.jpg"},
		{name: "local", ref: Local("ad-42"), wantKind: RefLocal, wantValue: "ad-42", wantStr: "local:ad-42"},
		{name: "none", ref: None(), wantKind: RefNone, wantStr: "none"},
		{name: "zero value", ref: Reference{}, wantKind: RefNone, wantStr: "none"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantKind, tt.ref.Kind())
			assert.Equal(t, tt.wantValue, tt.ref.Value())
			assert.Equal(t, tt.wantStr, tt.ref.String())
		})
	}

	assert.Equal(t, "RefKind(9)", RefKind(9).String())
}
