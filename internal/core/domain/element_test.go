package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRect() Element {
	return Element{
		Type: ElementRect,
		ID:   "r1",
		Props: map[string]any{
			"x": 10.0, "y": 20.0, "width": 100.0, "height": 50.0,
			"fill": "#ff0000",
		},
	}
}

func TestElementValidate_Path(t *testing.T) {
	tests := []struct {
		name    string
		props   map[string]any
		wantErr bool
	}{
		{"valid freehand stroke", map[string]any{"d": "M1 2 3 4"}, false},
		{"valid lowercase line", map[string]any{"d": "l1 2"}, false},
		{"missing d", map[string]any{}, true},
		{"d with wrong command", map[string]any{"d": "Z1 2"}, true},
		{"d with non-numeric data", map[string]any{"d": "M1 evil()"}, true},
		{"unlisted property", map[string]any{"d": "M1 2", "onclick": "x"}, true},
		{"non-numeric stroke-width", map[string]any{"d": "M1 2", "stroke-width": "wide"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			el := Element{Type: ElementPath, ID: "p1", Props: tt.props}
			err := el.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidElement)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestElementValidate_Rect(t *testing.T) {
	el := validRect()
	assert.NoError(t, el.Validate())

	el.Props["width"] = "not a number"
	assert.ErrorIs(t, el.Validate(), ErrInvalidElement)

	el = validRect()
	el.Props["stroke-dasharray"] = "5 5"
	assert.NoError(t, el.Validate())
	el.Props["stroke-dasharray"] = "5;alert(1)"
	assert.ErrorIs(t, el.Validate(), ErrInvalidElement)
}

func TestElementValidate_Image(t *testing.T) {
	el := Element{
		Type: ElementImage,
		ID:   "img1",
		Props: map[string]any{
			"href": "/boards/abc/images/deadbeef.png",
			"x":    0.0, "y": 0.0, "width": 64.0, "height": 64.0,
		},
	}
	assert.NoError(t, el.Validate())

	el.Props["href"] = "https://evil.example/x.png"
	assert.ErrorIs(t, el.Validate(), ErrInvalidElement)

	delete(el.Props, "href")
	assert.ErrorIs(t, el.Validate(), ErrInvalidElement)
}

func TestElementValidate_Transform(t *testing.T) {
	el := validRect()
	el.Props["transform"] = "translate(10, 20) rotate(45)"
	assert.NoError(t, el.Validate())

	el.Props["transform"] = "translate(10) url('javascript:x')"
	assert.ErrorIs(t, el.Validate(), ErrInvalidElement)
}

func TestElementValidate_IDRules(t *testing.T) {
	el := validRect()
	el.ID = ""
	assert.ErrorIs(t, el.Validate(), ErrInvalidElement)

	el.ID = "has spaces"
	assert.ErrorIs(t, el.Validate(), ErrInvalidElement)

	el.ID = "Abc123"
	assert.NoError(t, el.Validate())
}

func TestElementValidate_UnknownType(t *testing.T) {
	el := Element{Type: "script", ID: "s1", Props: map[string]any{}}
	assert.ErrorIs(t, el.Validate(), ErrInvalidElement)
}

func TestElementClone_Independent(t *testing.T) {
	el := validRect()
	clone := el.Clone()
	clone.Props["fill"] = "#00ff00"
	assert.Equal(t, "#ff0000", el.Props["fill"])
}

func TestElementSerialization_RoundTrip(t *testing.T) {
	original := `{"d":"M1.5 2 3 4.25","fill":"#ff0000","id":"p1","opacity":0.5,"type":"path"}`

	var el Element
	require.NoError(t, json.Unmarshal([]byte(original), &el))
	assert.Equal(t, ElementPath, el.Type)
	assert.Equal(t, "p1", el.ID)

	// Reserializing yields the exact bytes we started with: keys sorted,
	// numbers unreformatted.
	out, err := json.Marshal(el)
	require.NoError(t, err)
	assert.Equal(t, original, string(out))

	var again Element
	require.NoError(t, json.Unmarshal(out, &again))
	out2, err := json.Marshal(again)
	require.NoError(t, err)
	assert.Equal(t, original, string(out2))
}

func TestNewElement_PullsTypeAndID(t *testing.T) {
	el := NewElement(map[string]any{
		"type": "ellipse",
		"id":   "e1",
		"cx":   5.0,
		"cy":   5.0,
	})
	assert.Equal(t, ElementEllipse, el.Type)
	assert.Equal(t, "e1", el.ID)
	assert.Equal(t, 5.0, el.Props["cx"])
	_, hasType := el.Props["type"]
	assert.False(t, hasType)
}
