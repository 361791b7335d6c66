package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ElementType tags one of the closed set of drawable element variants.
type ElementType string

const (
	ElementPath    ElementType = "path"
	ElementRect    ElementType = "rect"
	ElementEllipse ElementType = "ellipse"
	ElementImage   ElementType = "image"
	ElementText    ElementType = "text"
)

// Element is one drawable object on a slide. Properties outside the
// variant's whitelist are rejected at validation time; elements are
// immutable-by-replacement, so every mutation builds a new validated value.
type Element struct {
	Type  ElementType
	ID    string
	Props map[string]any
}

// allowedProps lists the recognized properties per variant, excluding the
// always-present "type" and "id".
var allowedProps = map[ElementType]map[string]bool{
	ElementPath: {
		"d": true, "transform": true, "stroke": true, "stroke-width": true,
		"stroke-dasharray": true, "fill": true, "opacity": true, "is-eraser": true,
	},
	ElementRect: {
		"x": true, "y": true, "width": true, "height": true, "transform": true,
		"stroke": true, "stroke-width": true, "stroke-dasharray": true,
		"fill": true, "opacity": true,
	},
	ElementEllipse: {
		"cx": true, "cy": true, "rx": true, "ry": true, "transform": true,
		"stroke": true, "stroke-width": true, "fill": true, "opacity": true,
	},
	ElementImage: {
		"x": true, "y": true, "width": true, "height": true, "href": true,
		"transform": true, "opacity": true,
	},
	ElementText: {
		"text": true, "x": true, "y": true, "width": true, "height": true,
		"transform": true, "fill": true, "opacity": true, "font-size": true,
	},
}

var (
	alphanumericRe = regexp.MustCompile(`^[a-zA-Z0-9]+$`)
	transformRe    = regexp.MustCompile(`^((matrix|translate|scale|rotate|skewX|skewY)\([^)\\'"]+\)\s*)*$`)
)

// Validate checks the element against its variant schema. All returned
// errors wrap ErrInvalidElement.
func (e Element) Validate() error {
	allowed, ok := allowedProps[e.Type]
	if !ok {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidElement, e.Type)
	}
	if e.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidElement)
	}
	for key := range e.Props {
		if !allowed[key] {
			return fmt.Errorf("%w: property %q not allowed on %s", ErrInvalidElement, key, e.Type)
		}
	}
	switch e.Type {
	case ElementPath:
		if !alphanumericRe.MatchString(e.ID) {
			return fmt.Errorf("%w: id must be alphanumeric", ErrInvalidElement)
		}
		d, ok := e.Props["d"].(string)
		if !ok || d == "" {
			return fmt.Errorf("%w: path requires d", ErrInvalidElement)
		}
		if !strings.ContainsRune("MLl", rune(d[0])) {
			return fmt.Errorf("%w: path d must start with M, L or l", ErrInvalidElement)
		}
		if !numbersOnly(d[1:]) {
			return fmt.Errorf("%w: path d contains non-numeric data", ErrInvalidElement)
		}
		if err := e.checkNumeric("stroke-width"); err != nil {
			return err
		}
	case ElementRect:
		if !alphanumericRe.MatchString(e.ID) {
			return fmt.Errorf("%w: id must be alphanumeric", ErrInvalidElement)
		}
		for _, key := range []string{"x", "y", "width", "height", "stroke-width"} {
			if err := e.checkNumeric(key); err != nil {
				return err
			}
		}
		if dash, ok := e.Props["stroke-dasharray"].(string); ok {
			if !isNumericValue(strings.ReplaceAll(dash, " ", "")) {
				return fmt.Errorf("%w: stroke-dasharray must be numeric", ErrInvalidElement)
			}
		}
	case ElementEllipse:
		if !alphanumericRe.MatchString(e.ID) {
			return fmt.Errorf("%w: id must be alphanumeric", ErrInvalidElement)
		}
		for _, key := range []string{"cx", "cy", "rx", "ry", "stroke-width"} {
			if err := e.checkNumeric(key); err != nil {
				return err
			}
		}
	case ElementImage:
		href, ok := e.Props["href"].(string)
		if !ok || !strings.HasPrefix(href, "/boards/") {
			return fmt.Errorf("%w: image href must point under /boards/", ErrInvalidElement)
		}
		for _, key := range []string{"x", "y", "width", "height"} {
			if err := e.checkNumeric(key); err != nil {
				return err
			}
		}
	case ElementText:
		if !alphanumericRe.MatchString(e.ID) {
			return fmt.Errorf("%w: id must be alphanumeric", ErrInvalidElement)
		}
		for _, key := range []string{"x", "y", "width", "height", "font-size"} {
			if err := e.checkNumeric(key); err != nil {
				return err
			}
		}
	}
	if tr, ok := e.Props["transform"]; ok && e.Type != ElementImage {
		s, isStr := tr.(string)
		if !isStr || !transformRe.MatchString(s) {
			return fmt.Errorf("%w: invalid transform", ErrInvalidElement)
		}
	}
	return nil
}

func (e Element) checkNumeric(key string) error {
	v, ok := e.Props[key]
	if !ok {
		return nil
	}
	if !isNumericValue(v) {
		return fmt.Errorf("%w: property %q must be numeric", ErrInvalidElement, key)
	}
	return nil
}

func isNumericValue(v any) bool {
	switch x := v.(type) {
	case float64, int, int64:
		return true
	case json.Number:
		return true
	case string:
		_, err := strconv.ParseFloat(x, 64)
		return err == nil
	default:
		return false
	}
}

// numbersOnly reports whether every space-separated token parses as a number.
func numbersOnly(data string) bool {
	for _, tok := range strings.Split(data, " ") {
		if _, err := strconv.ParseFloat(tok, 64); err != nil {
			return false
		}
	}
	return true
}

// Clone returns a copy whose property map can be mutated independently.
// Property values are scalars, so a shallow copy is sufficient.
func (e Element) Clone() Element {
	props := make(map[string]any, len(e.Props))
	for k, v := range e.Props {
		props[k] = v
	}
	return Element{Type: e.Type, ID: e.ID, Props: props}
}

// MarshalJSON flattens the element into one object carrying the type tag,
// the id and every property. Key order is deterministic, so serializing,
// reloading and serializing again yields identical bytes.
func (e Element) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(e.Props)+2)
	for k, v := range e.Props {
		flat[k] = v
	}
	flat["type"] = string(e.Type)
	flat["id"] = e.ID
	return json.Marshal(flat)
}

// UnmarshalJSON parses the flat representation. Numbers keep their exact
// textual form so round-tripping does not reformat them.
func (e *Element) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var flat map[string]any
	if err := dec.Decode(&flat); err != nil {
		return err
	}
	typ, _ := flat["type"].(string)
	id, _ := flat["id"].(string)
	delete(flat, "type")
	delete(flat, "id")
	e.Type = ElementType(typ)
	e.ID = id
	e.Props = flat
	return nil
}

// NewElement builds an element from a flat property map as received on the
// wire; the "type" and "id" keys are pulled out of the map.
func NewElement(flat map[string]any) Element {
	typ, _ := flat["type"].(string)
	id, _ := flat["id"].(string)
	props := make(map[string]any, len(flat))
	for k, v := range flat {
		if k == "type" || k == "id" {
			continue
		}
		props[k] = v
	}
	return Element{Type: ElementType(typ), ID: id, Props: props}
}
