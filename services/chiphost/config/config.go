package config

import (
	"strconv"

	"touchchip-go/errcode"
	"touchchip-go/x/fmtx"
	"touchchip-go/x/jsonx"
)

// Diagram is supplied on the "config/diagram" bus topic.
type Diagram struct {
	Chips []Chip `json:"chips"`
}

// Chip describes one simulated part on the board.
type Chip struct {
	ID    string         `json:"id"`
	Type  string         `json:"type"`
	Bus   string         `json:"bus,omitempty"` // I²C bus id, e.g. "i2c0"
	Attrs map[string]any `json:"attrs,omitempty"`
}

// Definition is the chip.json document that ships with a custom chip.
type Definition struct {
	Name   string   `json:"name"`
	Author string   `json:"author,omitempty"`
	Pins   []string `json:"pins"`
}

// Parse decodes a diagram, rejecting unknown fields, then validates it.
func Parse(raw []byte) (Diagram, error) {
	m, err := jsonx.DecodeObject(raw)
	if err != nil {
		return Diagram{}, &errcode.E{C: errcode.InvalidParams, Op: "diagram", Msg: err.Error(), Err: err}
	}
	return fromObject(m)
}

// FromPayload accepts a diagram as published on the bus: a Diagram, raw JSON,
// or a decoded JSON object.
func FromPayload(p any) (Diagram, error) {
	switch v := p.(type) {
	case Diagram:
		return v, v.Validate()
	case *Diagram:
		return *v, v.Validate()
	case []byte:
		return Parse(v)
	case string:
		return Parse([]byte(v))
	case map[string]any:
		return fromObject(v)
	default:
		return Diagram{}, errcode.New(errcode.InvalidParams, "diagram", fmtx.Sprintf("unsupported payload %T", p))
	}
}

func fromObject(m map[string]any) (Diagram, error) {
	var d Diagram
	f := jsonx.NewFields(m, "chips")
	for i, v := range f.Array("chips") {
		cm, ok := v.(map[string]any)
		if !ok {
			return Diagram{}, errcode.New(errcode.InvalidParams, "diagram", "chip "+strconv.Itoa(i)+": not an object")
		}
		cf := jsonx.NewFields(cm, "id", "type", "bus", "attrs")
		c := Chip{ID: cf.String("id"), Type: cf.String("type"), Bus: cf.String("bus"), Attrs: cf.Object("attrs")}
		if err := cf.Err(); err != nil {
			return Diagram{}, &errcode.E{C: errcode.InvalidParams, Op: "diagram", Msg: "chip " + strconv.Itoa(i) + ": " + err.Error(), Err: err}
		}
		d.Chips = append(d.Chips, c)
	}
	if err := f.Err(); err != nil {
		return Diagram{}, &errcode.E{C: errcode.InvalidParams, Op: "diagram", Msg: err.Error(), Err: err}
	}
	return d, d.Validate()
}

// Validate checks ids are present and unique and every chip has a type.
func (d Diagram) Validate() error {
	seen := make(map[string]bool, len(d.Chips))
	for i, c := range d.Chips {
		if c.ID == "" {
			return errcode.New(errcode.InvalidParams, "diagram", "chip "+strconv.Itoa(i)+": missing id")
		}
		if c.Type == "" {
			return errcode.New(errcode.InvalidParams, "diagram", c.ID+": missing type")
		}
		if seen[c.ID] {
			return errcode.New(errcode.InvalidParams, "diagram", c.ID+": duplicate id")
		}
		seen[c.ID] = true
	}
	return nil
}

// ParseDefinition decodes and checks a chip.json document.
func ParseDefinition(raw []byte) (Definition, error) {
	m, err := jsonx.DecodeObject(raw)
	if err != nil {
		return Definition{}, &errcode.E{C: errcode.InvalidParams, Op: "chip_def", Msg: err.Error(), Err: err}
	}
	f := jsonx.NewFields(m, "name", "author", "pins")
	def := Definition{Name: f.String("name"), Author: f.String("author"), Pins: f.Strings("pins")}
	if err := f.Err(); err != nil {
		return Definition{}, &errcode.E{C: errcode.InvalidParams, Op: "chip_def", Msg: err.Error(), Err: err}
	}
	if def.Name == "" {
		return Definition{}, errcode.New(errcode.InvalidParams, "chip_def", "missing name")
	}
	seen := map[string]bool{}
	for _, p := range def.Pins {
		if p != "" && seen[p] {
			return Definition{}, errcode.New(errcode.InvalidParams, "chip_def", "duplicate pin "+p)
		}
		seen[p] = true
	}
	return def, nil
}

// HasPin reports whether the definition exposes a pin by name.
func (def Definition) HasPin(name string) bool {
	for _, p := range def.Pins {
		if p == name {
			return true
		}
	}
	return false
}
